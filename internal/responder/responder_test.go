package responder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/decision"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/guild/guildtest"
	"kcl-antivirus/internal/scanner"
)

type fakeStore struct {
	mu       sync.Mutex
	warnings []*database.Warning
	logs     []*database.ScanLog
	logErr   error
}

func (s *fakeStore) AddWarning(w *database.Warning) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, w)
	return int64(len(s.warnings)), nil
}

func (s *fakeStore) AddScanLog(entry *database.ScanLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logErr != nil {
		return 0, s.logErr
	}
	s.logs = append(s.logs, entry)
	return int64(len(s.logs)), nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResponder(fake *guildtest.Fake, store *fakeStore) *Responder {
	return New(Options{
		Actions:     fake,
		Store:       store,
		Timeout:     24 * time.Hour,
		ModeratorID: "bot",
		Now:         func() time.Time { return fixedNow },
	})
}

func maliciousThreat() Threat {
	return Threat{
		GuildID:   "g1",
		GuildName: "Guild",
		ChannelID: "chan",
		MessageID: "m1",
		UserID:    "u1",
		Username:  "mallory",
		Content:   "try this",
		ItemName:  "tool.zip",
		ItemType:  "attachment",
		Result: scanner.Result{Status: scanner.StatusVerdict, Verdict: &scanner.Verdict{
			Kind:   scanner.KindFile,
			Stats:  decision.EngineStats{Malicious: 2, Harmless: 60},
			Level:  decision.ThreatMalicious,
			Source: scanner.SourceReputation,
		}},
	}
}

func settings() *database.AntivirusSettings {
	s := database.DefaultAntivirusSettings("g1")
	s.ModLogChannel = "modlog"
	return s
}

func TestRespondMalicious(t *testing.T) {
	fake := guildtest.New("g1", "owner")
	store := &fakeStore{}
	r := newTestResponder(fake, store)

	report := r.Respond(context.Background(), maliciousThreat(), settings())

	assert.Equal(t, decision.ThreatMalicious, report.Level)
	assert.Equal(t, 24*time.Hour, report.Timeout)
	assert.Equal(t, []string{"m1"}, fake.Deleted)
	require.Len(t, fake.Timeouts, 1)
	assert.Equal(t, fixedNow.Add(24*time.Hour), fake.Timeouts[0].Until)
	assert.Equal(t, "u1", fake.Timeouts[0].UserID)

	require.Len(t, store.warnings, 1)
	assert.Equal(t, "KCLAntivirus: Posted malicious content (tool.zip) - 2/62 engines flagged malicious, 0 suspicious", store.warnings[0].Reason)
	assert.Equal(t, "bot", store.warnings[0].ModeratorID)

	require.Len(t, store.logs, 1)
	assert.Equal(t, "MALICIOUS", store.logs[0].ThreatLevel)
	assert.Equal(t, 2, store.logs[0].MaliciousCount)
	assert.Equal(t, "Message deleted, user timed out for 1 day, warning added", store.logs[0].ActionTaken)
	assert.Equal(t, int64(1), report.LogID)

	assert.Len(t, fake.PostsTo("modlog"), 1)
	assert.Equal(t, 1, fake.DMCount())

	var steps []Step
	for _, s := range report.Steps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []Step{StepDelete, StepQuarantine, StepTimeout, StepWarning, StepScanLog, StepModLog, StepNotify}, steps)

	outcome, ok := report.Outcome(StepQuarantine)
	require.True(t, ok)
	assert.Equal(t, guild.OutcomeSkippedUnconfigured, outcome)
}

func TestRespondIsIdempotentOnDeletedMessage(t *testing.T) {
	fake := guildtest.New("g1", "owner")
	store := &fakeStore{}
	r := newTestResponder(fake, store)

	r.Respond(context.Background(), maliciousThreat(), settings())
	second := r.Respond(context.Background(), maliciousThreat(), settings())

	outcome, _ := second.Outcome(StepDelete)
	assert.Equal(t, guild.OutcomeSkippedNotFound, outcome)

	outcome, _ = second.Outcome(StepScanLog)
	assert.Equal(t, guild.OutcomeOK, outcome)
	outcome, _ = second.Outcome(StepNotify)
	assert.Equal(t, guild.OutcomeOK, outcome)

	assert.Len(t, store.logs, 2)
	assert.Equal(t, 2, fake.DMCount())
	assert.Contains(t, store.logs[1].ActionTaken, "Message already removed")
}

func TestRespondContinuesAfterFailures(t *testing.T) {
	fake := guildtest.New("g1", "owner")
	fake.DeleteErr["m1"] = guild.ErrForbidden
	fake.TimeoutErr["u1"] = guild.ErrForbidden
	fake.DMErr["u1"] = errors.New("dms closed")
	store := &fakeStore{}
	r := newTestResponder(fake, store)

	report := r.Respond(context.Background(), maliciousThreat(), settings())

	outcome, _ := report.Outcome(StepDelete)
	assert.Equal(t, guild.OutcomeSkippedForbidden, outcome)
	outcome, _ = report.Outcome(StepTimeout)
	assert.Equal(t, guild.OutcomeSkippedForbidden, outcome)
	outcome, _ = report.Outcome(StepNotify)
	assert.Equal(t, guild.OutcomeFailed, outcome)

	require.Len(t, store.logs, 1)
	assert.Equal(t, "warning added", store.logs[0].ActionTaken)
	assert.Len(t, fake.PostsTo("modlog"), 1)
}

func TestRespondStoreFailureStillNotifies(t *testing.T) {
	fake := guildtest.New("g1", "owner")
	store := &fakeStore{logErr: errors.New("disk full")}
	r := newTestResponder(fake, store)

	report := r.Respond(context.Background(), maliciousThreat(), settings())

	outcome, _ := report.Outcome(StepScanLog)
	assert.Equal(t, guild.OutcomeFailed, outcome)
	assert.Zero(t, report.LogID)
	assert.Equal(t, 1, fake.DMCount())
}

func TestRespondQuarantine(t *testing.T) {
	fake := guildtest.New("g1", "owner")
	r := newTestResponder(fake, &fakeStore{})
	s := settings()
	s.QuarantineChannel = "quarantine"

	th := maliciousThreat()
	th.ItemName = "https://evil.tk/payload"
	report := r.Respond(context.Background(), th, s)

	outcome, _ := report.Outcome(StepQuarantine)
	assert.Equal(t, guild.OutcomeOK, outcome)
	posts := fake.PostsTo("quarantine")
	require.Len(t, posts, 1)
	assert.NotContains(t, posts[0].Embeds[0].Description, "https://")
}

func TestRespondWithoutModLog(t *testing.T) {
	fake := guildtest.New("g1", "owner")
	r := newTestResponder(fake, &fakeStore{})

	report := r.Respond(context.Background(), maliciousThreat(), database.DefaultAntivirusSettings("g1"))
	outcome, _ := report.Outcome(StepModLog)
	assert.Equal(t, guild.OutcomeSkippedUnconfigured, outcome)
}

func TestTimeoutScaling(t *testing.T) {
	fake := guildtest.New("g1", "owner")
	r := newTestResponder(fake, &fakeStore{})
	r.SetTimeout(10 * 24 * time.Hour)

	th := maliciousThreat()
	th.Result.Verdict.Level = decision.ThreatSuspicious
	report := r.Respond(context.Background(), th, settings())
	assert.Equal(t, 5*24*time.Hour, report.Timeout)

	th.MessageID = "m2"
	th.Result.Verdict.Level = decision.ThreatPotentiallyHarmful
	report = r.Respond(context.Background(), th, settings())
	assert.Equal(t, 24*time.Hour, report.Timeout)
}

func TestRecordClean(t *testing.T) {
	store := &fakeStore{}
	r := newTestResponder(guildtest.New("g1", "owner"), store)

	th := maliciousThreat()
	th.Result = scanner.Result{Status: scanner.StatusVerdict, Verdict: &scanner.Verdict{Level: decision.ThreatClean, Stats: decision.EngineStats{Harmless: 70}}}
	id, err := r.Record(th, "Clean scan: 70 harmless, 0 undetected")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "CLEAN", store.logs[0].ThreatLevel)

	th.Result = scanner.Result{Status: scanner.StatusInconclusive, Reason: "timeout"}
	_, err = r.Record(th, "Scan inconclusive")
	require.NoError(t, err)
	assert.Equal(t, "INCONCLUSIVE", store.logs[1].ThreatLevel)
}

func TestDetails(t *testing.T) {
	assert.Equal(t, "Dangerous file extension blocked before upload scan", Details(scanner.Result{
		Status:  scanner.StatusVerdict,
		Verdict: &scanner.Verdict{Source: scanner.SourceExtension},
	}))
	assert.Equal(t, "known malicious domain evil.tk", Details(scanner.Result{
		Status:  scanner.StatusVerdict,
		Verdict: &scanner.Verdict{Source: scanner.SourceDomain},
		Reason:  "known malicious domain evil.tk",
	}))
	assert.Equal(t, "boom", Details(scanner.Result{Status: scanner.StatusInconclusive, Reason: "boom"}))
}

func TestObserveSteps(t *testing.T) {
	counts := map[Step]int{}
	r := New(Options{
		Actions: guildtest.New("g1", "owner"),
		Store:   &fakeStore{},
		Timeout: time.Hour,
		Observe: func(step Step, outcome guild.Outcome) { counts[step]++ },
	})
	r.Respond(context.Background(), maliciousThreat(), settings())
	assert.Len(t, counts, 7)
}
