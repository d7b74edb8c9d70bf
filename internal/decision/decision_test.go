package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultThresholds = Thresholds{Malicious: 1, Suspicious: 3, HarmfulRatio: 0.1}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		stats EngineStats
		want  ThreatLevel
	}{
		{"one malicious engine", EngineStats{Malicious: 1, Harmless: 70}, ThreatMalicious},
		{"three suspicious", EngineStats{Suspicious: 3, Harmless: 70}, ThreatSuspicious},
		{"harmful ratio", EngineStats{Suspicious: 2, Harmless: 5}, ThreatPotentiallyHarmful},
		{"clean", EngineStats{Harmless: 60, Undetected: 10}, ThreatClean},
		{"no engines", EngineStats{}, ThreatClean},
		{"malicious wins over suspicious", EngineStats{Malicious: 2, Suspicious: 5}, ThreatMalicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stats, defaultThresholds))
		})
	}
}

func TestTimeoutFor(t *testing.T) {
	day := 24 * time.Hour

	assert.Equal(t, day, TimeoutFor(ThreatMalicious, day))
	assert.Equal(t, 10*day, TimeoutFor(ThreatMaliciousDomain, 10*day))
	assert.Equal(t, day, TimeoutFor(ThreatSuspicious, day))
	assert.Equal(t, 5*day, TimeoutFor(ThreatSuspicious, 10*day))
	assert.Equal(t, day, TimeoutFor(ThreatPotentiallyHarmful, 10*day))
	assert.Zero(t, TimeoutFor(ThreatClean, day))
}

func TestThreatLevelLabels(t *testing.T) {
	assert.Equal(t, "MALICIOUS", ThreatMalicious.String())
	assert.Equal(t, "POTENTIALLY HARMFUL", ThreatPotentiallyHarmful.String())
	assert.Equal(t, "DANGEROUS FILE TYPE", ThreatDangerousExtension.String())
	assert.Equal(t, "MALICIOUS DOMAIN", ThreatMaliciousDomain.String())
	assert.False(t, ThreatClean.IsThreat())
	assert.True(t, ThreatSuspicious.IsThreat())
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("see https://example.com/a and http://foo.tk/x and https://example.com/a again")
	assert.Equal(t, []string{"https://example.com/a", "http://foo.tk/x"}, urls)
	assert.Nil(t, ExtractURLs("no links here"))
}

func TestMaliciousDomain(t *testing.T) {
	host, bad := MaliciousDomain("https://Free-Stuff.TK/claim")
	assert.True(t, bad)
	assert.Equal(t, "free-stuff.tk", host)

	_, bad = MaliciousDomain("https://discord-nitro-gift.com/x")
	assert.True(t, bad)

	_, bad = MaliciousDomain("https://bit.ly/abc")
	assert.True(t, bad)

	_, bad = MaliciousDomain("https://example.com/bit.ly")
	assert.False(t, bad)

	_, bad = MaliciousDomain("https://github.com/")
	assert.False(t, bad)
}

func TestSuspiciousPattern(t *testing.T) {
	p, ok := SuspiciousPattern("join discord.gg/abc123 now")
	require.True(t, ok)
	assert.Equal(t, `discord\.gg/[a-zA-Z0-9]+`, p)

	_, ok = SuspiciousPattern("hello world")
	assert.False(t, ok)
}

func TestThreatScore(t *testing.T) {
	old := 365 * 24 * time.Hour

	assert.Zero(t, ThreatScore("hello there", old))
	assert.InDelta(t, 0.3, ThreatScore("hello there", time.Hour), 1e-9)
	assert.InDelta(t, 0.1, ThreatScore("hello there", 10*24*time.Hour), 1e-9)

	// free + nitro + one link
	assert.InDelta(t, 0.4, ThreatScore("free nitro https://x.com", old), 1e-9)

	// shouting counts on the original casing
	assert.InDelta(t, 0.2, ThreatScore("THIS IS VERY LOUD", old), 1e-9)
	assert.Zero(t, ThreatScore("LOUD", old))

	assert.Equal(t, 1.0, ThreatScore("FREE NITRO GIFT HACK https://a.tk https://b.tk", time.Hour))
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, ".exe", FileExtension("Setup.EXE"))
	assert.Equal(t, ".gz", FileExtension("archive.tar.gz"))
	assert.Equal(t, "", FileExtension("README"))
	assert.Equal(t, "", FileExtension("trailing."))

	assert.True(t, ExtensionIn("a.PNG", []string{".png", ".jpg"}))
	assert.False(t, ExtensionIn("a.exe", []string{".png"}))
	assert.False(t, ExtensionIn("noext", []string{""}))
}

func TestCooldownManager(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cm := NewCooldownManager(time.Minute).WithClock(func() time.Time { return now })

	assert.True(t, cm.CanExecute("g1", "raid_alert"))

	ok, _ := cm.TryAcquire("g1", "raid_alert")
	require.True(t, ok)

	ok, remaining := cm.TryAcquire("g1", "raid_alert")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, remaining)

	assert.True(t, cm.CanExecute("g2", "raid_alert"))
	assert.True(t, cm.CanExecute("g1", "other"))

	now = now.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, cm.GetRemainingCooldown("g1", "raid_alert"))

	now = now.Add(31 * time.Second)
	assert.True(t, cm.CanExecute("g1", "raid_alert"))
	assert.Equal(t, 1, cm.Prune())

	cm.RecordExecution("g3", "scan")
	cm.Reset("g3")
	assert.True(t, cm.CanExecute("g3", "scan"))
}

func TestCooldownSetDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cm := NewCooldownManager(time.Hour).WithClock(func() time.Time { return now })
	cm.RecordExecution("g1", "raid_alert")

	now = now.Add(10 * time.Minute)
	assert.False(t, cm.CanExecute("g1", "raid_alert"))

	cm.SetDuration(5 * time.Minute)
	assert.True(t, cm.CanExecute("g1", "raid_alert"))
}
