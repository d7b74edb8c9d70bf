package antivirus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/decision"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/guild/guildtest"
	"kcl-antivirus/internal/scanner"
	"kcl-antivirus/internal/tracker"
	"kcl-antivirus/internal/virustotal"
	"kcl-antivirus/pkg/util"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	settings map[string]*database.AntivirusSettings
	roles    map[string][]string
	logs     []*database.ScanLog
	warnings []*database.Warning
}

func newMemStore() *memStore {
	return &memStore{settings: map[string]*database.AntivirusSettings{}, roles: map[string][]string{}}
}

func (s *memStore) GetAntivirusSettings(guildID string) (*database.AntivirusSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.settings[guildID]; ok {
		cp := *st
		return &cp, nil
	}
	st := database.DefaultAntivirusSettings(guildID)
	s.settings[guildID] = st
	cp := *st
	return &cp, nil
}

func (s *memStore) GetProtectedRoles(guildID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[guildID], nil
}

func (s *memStore) ListEnabledGuilds() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, st := range s.settings {
		if st.Enabled {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memStore) AddWarning(w *database.Warning) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, w)
	return int64(len(s.warnings)), nil
}

func (s *memStore) AddScanLog(entry *database.ScanLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return int64(len(s.logs)), nil
}

func (s *memStore) levels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.logs {
		out = append(out, l.ThreatLevel)
	}
	return out
}

// service answers file reports by content hash; unknown hashes are 404
type service struct {
	mu    sync.Mutex
	files map[string]decision.EngineStats
	calls int
}

func (s *service) FileReport(ctx context.Context, sha256 string) (decision.EngineStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if stats, ok := s.files[sha256]; ok {
		return stats, nil
	}
	return decision.EngineStats{}, virustotal.ErrNotFound
}

func (s *service) SubmitFile(ctx context.Context, filename string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "analysis", nil
}

func (s *service) URLReport(ctx context.Context, rawURL string) (decision.EngineStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return decision.EngineStats{Harmless: 70}, nil
}

func (s *service) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "analysis", nil
}

func (s *service) Analysis(ctx context.Context, analysisID string) (decision.EngineStats, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return decision.EngineStats{Harmless: 70}, true, nil
}

func (s *service) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fetcher struct {
	files map[string][]byte
}

func (f fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if b, ok := f.files[url]; ok {
		return b, nil
	}
	return nil, errors.New("connection reset")
}

type harness struct {
	engine  *Engine
	fake    *guildtest.Fake
	store   *memStore
	service *service
	files   map[string][]byte
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		fake:    guildtest.New("g1", "owner"),
		store:   newMemStore(),
		service: &service{files: map[string]decision.EngineStats{}},
		files:   map[string][]byte{},
	}
	h.store.settings["g1"] = database.DefaultAntivirusSettings("g1")
	h.store.settings["g1"].ModLogChannel = "modlog"

	noDelay := scanner.PolicyFromConfig(cfg.Scanner.FileRetry).NoDelay()
	urlNoDelay := scanner.PolicyFromConfig(cfg.Scanner.URLRetry).NoDelay()

	h.engine = New(Options{
		Config:        cfg,
		Actions:       h.fake,
		Store:         h.store,
		Service:       h.service,
		Fetcher:       fetcher{files: h.files},
		Now:           func() time.Time { return base },
		FileRetry:     &noDelay,
		URLRetry:      &urlNoDelay,
		LockdownSleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	return h
}

// attach registers content served for a new attachment
func (h *harness) attach(name string, content []byte, stats *decision.EngineStats) scanner.Attachment {
	url := "https://cdn.example/" + name
	h.files[url] = content
	if stats != nil {
		h.service.files[util.SHA256Hex(content)] = *stats
	}
	return scanner.Attachment{ID: name, Filename: name, Size: int64(len(content)), URL: url}
}

func message(id, content string, atts ...scanner.Attachment) Message {
	return Message{
		GuildID:        "g1",
		GuildName:      "test guild",
		ChannelID:      "c1",
		MessageID:      id,
		AuthorID:       "author",
		AuthorName:     "author",
		AccountCreated: base.Add(-365 * 24 * time.Hour),
		Content:        content,
		Attachments:    atts,
	}
}

func TestMaliciousAttachmentIsRemovedAndRestricted(t *testing.T) {
	h := newHarness(t, nil)
	att := h.attach("payload.zip", []byte("evil bytes"), &decision.EngineStats{Malicious: 2, Harmless: 60})

	h.engine.HandleMessage(context.Background(), message("m1", "check this", att))

	assert.Equal(t, []string{"m1"}, h.fake.Deleted)
	require.Len(t, h.fake.Timeouts, 1)
	assert.Equal(t, base.Add(24*time.Hour), h.fake.Timeouts[0].Until)
	require.Len(t, h.store.warnings, 1)
	assert.Contains(t, h.store.warnings[0].Reason, "payload.zip")
	assert.Equal(t, []string{decision.ThreatMalicious.String()}, h.store.levels())
	assert.Equal(t, 1, h.fake.DMCount())
	assert.Len(t, h.fake.PostsTo("modlog"), 1)
}

func TestDangerousExtensionNeedsNoNetwork(t *testing.T) {
	h := newHarness(t, nil)
	att := h.attach("update.exe", []byte("MZ"), nil)

	h.engine.HandleMessage(context.Background(), message("m1", "", att))

	assert.Zero(t, h.service.callCount())
	assert.Equal(t, []string{"m1"}, h.fake.Deleted)
	assert.Equal(t, []string{decision.ThreatDangerousExtension.String()}, h.store.levels())
}

func TestMostSevereThreatRespondsOnce(t *testing.T) {
	h := newHarness(t, nil)
	bad := h.attach("bad.zip", []byte("bad"), &decision.EngineStats{Malicious: 5})
	exe := h.attach("run.exe", []byte("MZ"), nil)

	h.engine.HandleMessage(context.Background(), message("m1", "", bad, exe))

	assert.Equal(t, []string{"m1"}, h.fake.Deleted)
	assert.Len(t, h.fake.Timeouts, 1)
	assert.Len(t, h.store.warnings, 1)
	require.Len(t, h.store.logs, 2)
	assert.Contains(t, h.store.warnings[0].Reason, "Posted dangerous file type content (run.exe)")
}

func TestCleanFileIsAudited(t *testing.T) {
	h := newHarness(t, nil)
	att := h.attach("photo.png", []byte("png"), &decision.EngineStats{Harmless: 70})

	h.engine.HandleMessage(context.Background(), message("m1", "", att))

	assert.Empty(t, h.fake.Deleted)
	assert.Empty(t, h.fake.Timeouts)
	assert.Equal(t, []string{decision.ThreatClean.String()}, h.store.levels())
}

func TestSafeExtensionSkipsAudit(t *testing.T) {
	h := newHarness(t, nil)
	att := h.attach("notes.txt", []byte("hello"), nil)

	h.engine.HandleMessage(context.Background(), message("m1", "", att))

	assert.Zero(t, h.service.callCount())
	assert.Empty(t, h.store.logs)
}

func TestInconclusiveScanIsNeverClean(t *testing.T) {
	h := newHarness(t, nil)
	att := scanner.Attachment{Filename: "lost.zip", Size: 10, URL: "https://cdn.example/missing"}

	h.engine.HandleMessage(context.Background(), message("m1", "", att))

	assert.Empty(t, h.fake.Deleted)
	assert.Equal(t, []string{"INCONCLUSIVE"}, h.store.levels())
	posts := h.fake.PostsTo("modlog")
	require.Len(t, posts, 1)
	assert.Equal(t, "⚠️ Scan Error", posts[0].Embeds[0].Title)
}

func TestLargeFileIsAllowed(t *testing.T) {
	h := newHarness(t, nil)
	att := scanner.Attachment{Filename: "movie.mp4", ContentType: "video/mp4", Size: 40 * 1024 * 1024, URL: "https://cdn.example/movie"}

	h.engine.HandleMessage(context.Background(), message("m1", "", att))

	assert.Empty(t, h.fake.Deleted)
	assert.Equal(t, []string{"UNSCANNABLE"}, h.store.levels())
	posts := h.fake.PostsTo("modlog")
	require.Len(t, posts, 1)
	assert.Equal(t, "⚠️ Large File Detected", posts[0].Embeds[0].Title)
}

func TestMaliciousDomainURL(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Features.ContentHeuristics = false })

	h.engine.HandleMessage(context.Background(), message("m1", "grab it https://bit.ly/freestuff"))

	assert.Zero(t, h.service.callCount())
	assert.Equal(t, []string{"m1"}, h.fake.Deleted)
	assert.Equal(t, []string{decision.ThreatMaliciousDomain.String()}, h.store.levels())

	var titles []string
	for _, p := range h.fake.PostsTo("modlog") {
		titles = append(titles, p.Embeds[0].Title)
	}
	assert.Contains(t, titles, "⚠️ Suspicious Pattern Detected")
}

func TestProtectedAuthorIsTrackedNotScanned(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.MemberList = []*guild.Member{{ID: "author", Permissions: discordgo.PermissionManageMessages}}
	att := h.attach("update.exe", []byte("MZ"), nil)

	h.engine.HandleMessage(context.Background(), message("m1", "", att))

	assert.Empty(t, h.fake.Deleted)
	assert.Empty(t, h.store.logs)
	assert.Equal(t, 1, h.engine.Tracker().Count("g1", tracker.KindMessage, time.Minute))
}

func TestProtectedRoleAndOwner(t *testing.T) {
	h := newHarness(t, nil)
	h.store.roles["g1"] = []string{"trusted"}
	h.fake.MemberList = []*guild.Member{{ID: "helper", Roles: []string{"trusted"}}}

	assert.Equal(t, "protected role", h.engine.ProtectionReason(context.Background(), "g1", "helper"))
	assert.Equal(t, "server owner", h.engine.ProtectionReason(context.Background(), "g1", "owner"))
	assert.Empty(t, h.engine.ProtectionReason(context.Background(), "g1", "stranger"))
}

func TestDisabledGuildIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.store.settings["g1"].Enabled = false
	att := h.attach("update.exe", []byte("MZ"), nil)

	h.engine.HandleMessage(context.Background(), message("m1", "", att))

	assert.Empty(t, h.fake.Deleted)
	assert.Zero(t, h.engine.Tracker().Count("g1", tracker.KindMessage, time.Minute))
}

func TestScanTogglesRespected(t *testing.T) {
	h := newHarness(t, nil)
	h.store.settings["g1"].ScanAttachments = false
	att := h.attach("update.exe", []byte("MZ"), nil)

	h.engine.HandleMessage(context.Background(), message("m1", "", att))
	assert.Empty(t, h.fake.Deleted)
}

func TestHighThreatScoreFlaggedForReview(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Features.SuspiciousPatterns = false })
	h.store.settings["g1"].ScanURLs = false

	msg := message("m1", "FREE NITRO GIFT GENERATOR https://example.com/a")
	msg.AccountCreated = base.Add(-2 * 24 * time.Hour)
	h.engine.HandleMessage(context.Background(), msg)

	posts := h.fake.PostsTo("modlog")
	require.Len(t, posts, 1)
	assert.Equal(t, "🔍 Suspicious Activity Detected", posts[0].Embeds[0].Title)
	assert.Empty(t, h.fake.Deleted)
}

func joins(h *harness, n int) {
	for i := 0; i < n; i++ {
		h.engine.HandleJoin(context.Background(), Join{
			GuildID:        "g1",
			UserID:         fmt.Sprintf("joiner-%d", i),
			AccountCreated: base.Add(-365 * 24 * time.Hour),
			At:             base.Add(-time.Duration(n-i) * time.Second),
		})
	}
}

func TestJoinBurstRaisesRaidAlert(t *testing.T) {
	h := newHarness(t, nil)
	joins(h, 12)

	posts := h.fake.PostsTo("modlog")
	require.Len(t, posts, 1)
	assert.Equal(t, "@here **RAID ALERT**", posts[0].Content)
	require.Len(t, h.engine.Protector().History("g1"), 1)
}

func TestJoinBurstWithAutoLockdown(t *testing.T) {
	h := newHarness(t, nil)
	h.store.settings["g1"].AutoLockdown = true
	for i := 0; i < 5; i++ {
		h.fake.MemberList = append(h.fake.MemberList, &guild.Member{ID: fmt.Sprintf("member-%d", i)})
	}

	joins(h, 10)
	h.engine.Protector().Wait()

	assert.Equal(t, 5, h.fake.KickedCount())
	history := h.engine.Lockdown().History("g1")
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Reason, "Automatic raid protection: 10 joins")
}

func TestNewAccountAlert(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.HandleJoin(context.Background(), Join{GuildID: "g1", UserID: "fresh", Username: "fresh", AccountCreated: base.Add(-48 * time.Hour)})
	h.engine.HandleJoin(context.Background(), Join{GuildID: "g1", UserID: "bot", Bot: true, AccountCreated: base})

	posts := h.fake.PostsTo("modlog")
	require.Len(t, posts, 1)
	assert.Equal(t, "👶 New Account Joined", posts[0].Embeds[0].Title)
	assert.Equal(t, 1, h.engine.Tracker().Count("g1", tracker.KindJoin, time.Minute))
}

func TestSecurityCheck(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Features.ContentHeuristics = false
		cfg.Raid.MessageThreshold = 100
	})
	for i := 0; i < 201; i++ {
		msg := message(fmt.Sprintf("m%d", i), "hello")
		msg.AuthorID = fmt.Sprintf("user-%d", i%50)
		msg.At = base.Add(-time.Duration(i) * 10 * time.Second)
		h.engine.HandleMessage(context.Background(), msg)
	}

	assert.Equal(t, 1, h.engine.SecurityCheck(context.Background()))
	var titles []string
	for _, p := range h.fake.PostsTo("modlog") {
		titles = append(titles, p.Embeds[0].Title)
	}
	assert.Contains(t, titles, "📊 Security Health Alert")
}

func TestApplyConfig(t *testing.T) {
	h := newHarness(t, nil)
	cfg := config.DefaultConfig()
	cfg.Raid.JoinThreshold = 3
	cfg.Features.NewAccountAlerts = false
	h.engine.ApplyConfig(cfg)

	assert.Equal(t, 3, h.engine.Classifier().Config().JoinThreshold)
	joins(h, 3)
	assert.Len(t, h.fake.PostsTo("modlog"), 1)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(context.Background()))
	h.engine.Maintenance()
	h.engine.Stop()

	status := h.engine.Watchdog().GetStatus()
	assert.Contains(t, status, jobTrackerSweep)
	assert.Contains(t, status, jobSecurityCheck)
	assert.Contains(t, status, jobMaintenance)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Schedule.Maintenance = "whenever" })
	assert.Error(t, h.engine.Start(context.Background()))
	h.engine.Stop()
}
