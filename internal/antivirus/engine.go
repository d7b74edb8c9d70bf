// Package antivirus is the raid and reputation-scanning subsystem: it owns the
// activity tracker, raid protector, scanner, responder and lockdown executor of
// one bot process and exposes the gateway event entry points.
package antivirus

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/lockdown"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/metrics"
	"kcl-antivirus/internal/notifier"
	"kcl-antivirus/internal/raid"
	"kcl-antivirus/internal/responder"
	"kcl-antivirus/internal/scanner"
	"kcl-antivirus/internal/tracker"
	"kcl-antivirus/internal/watchdog"
)

const (
	jobTrackerSweep  = "tracker_sweep"
	jobSecurityCheck = "security_check"
	jobMaintenance   = "maintenance"
)

// Store is the persistence surface the subsystem reads and appends to
type Store interface {
	GetAntivirusSettings(guildID string) (*database.AntivirusSettings, error)
	GetProtectedRoles(guildID string) ([]string, error)
	ListEnabledGuilds() ([]string, error)
	AddWarning(w *database.Warning) (int64, error)
	AddScanLog(entry *database.ScanLog) (int64, error)
}

type Options struct {
	Config  *config.Config
	Actions guild.Actions
	Store   Store
	// Service is nil when no reputation API key is configured
	Service scanner.Service
	Fetcher scanner.Fetcher

	Metrics  *metrics.Registry
	Watchdog *watchdog.Watchdog

	// Test hooks
	Now           func() time.Time
	FileRetry     *scanner.RetryPolicy
	URLRetry      *scanner.RetryPolicy
	LockdownSleep func(ctx context.Context, d time.Duration) error
}

type Engine struct {
	actions    guild.Actions
	store      Store
	notifier   *notifier.Notifier
	tracker    *tracker.Tracker
	classifier *raid.Classifier
	protector  *raid.Protector
	scanner    *scanner.Scanner
	responder  *responder.Responder
	lockdown   *lockdown.Executor
	watchdog   *watchdog.Watchdog
	metrics    *metrics.Registry
	now        func() time.Time

	mu  sync.RWMutex
	cfg *config.Config

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	wd := opts.Watchdog
	if wd == nil {
		wd = watchdog.NewWatchdog(time.Minute)
	}

	e := &Engine{
		actions:  opts.Actions,
		store:    opts.Store,
		notifier: notifier.New(opts.Actions),
		watchdog: wd,
		metrics:  opts.Metrics,
		now:      now,
		cfg:      cfg,
		ctx:      context.Background(),
	}

	e.tracker = tracker.New(tracker.Options{
		Retention:     cfg.Tracker.Retention,
		SweepInterval: cfg.Tracker.SweepInterval,
		Now:           now,
		OnSweep:       e.onSweep,
	})

	e.lockdown = lockdown.NewExecutor(lockdown.Options{
		Actions:     opts.Actions,
		Roles:       opts.Store,
		OperatorIDs: cfg.Bot.OwnerIDs,
		Config:      cfg.Lockdown,
		Sleep:       opts.LockdownSleep,
		Now:         now,
		Observe:     e.observeLockdown,
	})

	e.classifier = raid.NewClassifier(e.tracker, cfg.Raid, now)
	e.protector = raid.NewProtector(raid.ProtectorOptions{
		Classifier: e.classifier,
		Actions:    opts.Actions,
		Settings:   opts.Store,
		Lockdown:   e.lockdown,
		Observe:    e.observeRaid,
		Now:        now,
	})

	e.scanner = scanner.New(scanner.Options{
		Service:   opts.Service,
		Fetcher:   opts.Fetcher,
		Config:    cfg.Scanner,
		FileRetry: opts.FileRetry,
		URLRetry:  opts.URLRetry,
		Now:       now,
		Observe:   e.observeScan,
	})

	e.responder = responder.New(responder.Options{
		Actions: opts.Actions,
		Store:   opts.Store,
		Timeout: cfg.Responder.Timeout,
		Now:     now,
		Observe: e.observeStep,
	})

	return e
}

// Start binds the tracker sweep, watchdog and scheduled jobs to ctx
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	cfg := e.Config()

	e.watchdog.RegisterComponent(jobTrackerSweep, cfg.Tracker.SweepInterval)
	e.tracker.Start(e.ctx)

	e.cron = cron.New()
	if cfg.Features.SecurityCheck {
		if err := e.schedule(cfg.Schedule.SecurityCheck, jobSecurityCheck, func() { e.SecurityCheck(e.ctx) }); err != nil {
			return err
		}
	}
	if err := e.schedule(cfg.Schedule.Maintenance, jobMaintenance, func() { e.Maintenance() }); err != nil {
		return err
	}
	e.cron.Start()
	e.watchdog.Start(e.ctx)

	logging.Info("[ANTIVIRUS] Subsystem started (reputation service available: %v)", e.scanner.Available())
	return nil
}

// Stop halts scheduled jobs, waits for running lockdowns and tears down the tracker
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.protector.Wait()
	e.tracker.Stop()
	e.watchdog.Stop()
	logging.Info("[ANTIVIRUS] Subsystem stopped")
}

// ApplyConfig hot-reloads policy. Credentials, storage, cache sizing and job schedules keep their start values.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	e.classifier.UpdateConfig(cfg.Raid)
	e.protector.UpdateCooldown(cfg.Raid.AlertCooldown)
	e.scanner.UpdateConfig(cfg.Scanner)
	e.responder.SetTimeout(cfg.Responder.Timeout)
	e.lockdown.UpdateConfig(cfg.Lockdown, cfg.Bot.OwnerIDs)

	logging.Info("[ANTIVIRUS] Configuration reloaded")
}

func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetBotUserID records the bot's own id as the moderator on warnings
func (e *Engine) SetBotUserID(id string) {
	e.responder.SetModeratorID(id)
}

func (e *Engine) Tracker() *tracker.Tracker { return e.tracker }
func (e *Engine) Classifier() *raid.Classifier { return e.classifier }
func (e *Engine) Protector() *raid.Protector { return e.protector }
func (e *Engine) Scanner() *scanner.Scanner { return e.scanner }
func (e *Engine) Lockdown() *lockdown.Executor { return e.lockdown }
func (e *Engine) Watchdog() *watchdog.Watchdog { return e.watchdog }
func (e *Engine) Responder() *responder.Responder { return e.responder }

// lifetime is the context for work that must outlive a single event, such as lockdowns
func (e *Engine) lifetime() context.Context {
	return e.ctx
}

// Protection returns the exemption rules of guildID
func (e *Engine) Protection(ctx context.Context, guildID string) guild.Protection {
	p := guild.Protection{OperatorIDs: e.Config().Bot.OwnerIDs}

	if info, err := e.actions.Guild(ctx, guildID); err != nil {
		logging.Warn("[ANTIVIRUS] Failed to read guild %s: %v", guildID, err)
	} else {
		p.GuildOwnerID = info.OwnerID
	}

	roles, err := e.store.GetProtectedRoles(guildID)
	if err != nil {
		logging.Warn("[ANTIVIRUS] Failed to read protected roles for guild %s: %v", guildID, err)
	}
	p.ProtectedRoles = roles
	return p
}

// ProtectionReason returns why userID is exempt in guildID, or "" when they are not
func (e *Engine) ProtectionReason(ctx context.Context, guildID, userID string) string {
	p := e.Protection(ctx, guildID)

	m, err := e.actions.Member(ctx, guildID, userID)
	if err != nil {
		logging.Debug("[ANTIVIRUS] Member %s of guild %s unavailable, checking by id only: %v", userID, guildID, err)
		m = &guild.Member{ID: userID}
	}
	return p.Reason(m)
}

func (e *Engine) onSweep(evicted int, remaining [2]int) {
	e.watchdog.Heartbeat(jobTrackerSweep)
	if e.metrics != nil {
		e.metrics.SetTrackedEvents(remaining[tracker.KindJoin], remaining[tracker.KindMessage])
	}
	if evicted > 0 {
		logging.Debug("[ANTIVIRUS] Tracker sweep evicted %d events", evicted)
	}
}

func (e *Engine) observeScan(kind scanner.Kind, res scanner.Result) {
	if e.metrics != nil {
		result := res.Status.String()
		if res.Status == scanner.StatusVerdict {
			result = res.Level().String()
		}
		e.metrics.ObserveScan(kind.String(), result, res.Cached)
	}
}

func (e *Engine) observeRaid(level raid.Level) {
	if e.metrics != nil {
		e.metrics.ObserveRaidSignal(level.String())
	}
}

func (e *Engine) observeLockdown(outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveLockdownMember(outcome)
	}
}

func (e *Engine) observeStep(step responder.Step, outcome guild.Outcome) {
	if e.metrics != nil {
		e.metrics.ObserveResponderStep(string(step), outcome.String())
	}
}
