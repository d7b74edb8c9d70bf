package lockdown

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"
)

const historyLimit = 50

type Status string

const (
	StatusCompleted Status = "completed"
	// StatusAborted means the context ended mid-run; unprocessed members were left alone
	StatusAborted Status = "aborted"
	// StatusFailed means membership or exemptions could not be read and nobody was touched
	StatusFailed Status = "failed"
)

// Run is the record of one lockdown execution.
// For a completed run Kicked + Protected + Errors == Total.
type Run struct {
	ID         string
	GuildID    string
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time

	Total     int
	Kicked    int
	Protected int
	Errors    int
	DMsSent   int

	Status Status
	Err    string
}

func (r Run) Processed() int {
	return r.Kicked + r.Protected + r.Errors
}

// Progress receives a snapshot every LockdownConfig.ProgressEvery processed members
type Progress func(run Run)

type Request struct {
	GuildID    string
	Reason     string
	LogChannel string
	Progress   Progress
}

// RoleStore returns the guild's protected roles
type RoleStore interface {
	GetProtectedRoles(guildID string) ([]string, error)
}

type Options struct {
	Actions     guild.Actions
	Roles       RoleStore
	OperatorIDs []string
	Config      config.LockdownConfig
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
	// Observe is called per member outcome: kicked, protected, error, dm_sent
	Observe func(outcome string)
}

type Executor struct {
	actions  guild.Actions
	notifier *notifier.Notifier
	roles    RoleStore
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	observe  func(string)

	mu          sync.RWMutex
	cfg         config.LockdownConfig
	operatorIDs []string
	history     map[string][]Run
	running     map[string]bool
}

func NewExecutor(opts Options) *Executor {
	e := &Executor{
		actions:     opts.Actions,
		notifier:    notifier.New(opts.Actions),
		roles:       opts.Roles,
		sleep:       opts.Sleep,
		now:         opts.Now,
		observe:     opts.Observe,
		cfg:         opts.Config,
		operatorIDs: opts.OperatorIDs,
		history:     make(map[string][]Run),
		running:     make(map[string]bool),
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.observe == nil {
		e.observe = func(string) {}
	}
	return e
}

func (e *Executor) UpdateConfig(cfg config.LockdownConfig, operatorIDs []string) {
	e.mu.Lock()
	e.cfg = cfg
	e.operatorIDs = operatorIDs
	e.mu.Unlock()
}

// Running reports whether a lockdown is in progress for guildID
func (e *Executor) Running(guildID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running[guildID]
}

// Execute removes every non-exempt member of the guild. It never returns an error:
// failures are counted on the Run. Callers must obtain confirmation first.
func (e *Executor) Execute(ctx context.Context, req Request) Run {
	run := Run{
		ID:        uuid.NewString(),
		GuildID:   req.GuildID,
		Reason:    req.Reason,
		StartedAt: e.now(),
		Status:    StatusCompleted,
	}

	e.mu.Lock()
	if e.running[req.GuildID] {
		e.mu.Unlock()
		run.Status = StatusFailed
		run.Err = "a lockdown is already running for this guild"
		run.FinishedAt = e.now()
		return run
	}
	e.running[req.GuildID] = true
	cfg := e.cfg
	operators := append([]string(nil), e.operatorIDs...)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, req.GuildID)
		e.mu.Unlock()
	}()

	logging.Critical("[LOCKDOWN] Server lockdown %s initiated in guild %s: %s", run.ID, req.GuildID, req.Reason)

	info, members, protection, err := e.prepare(ctx, req.GuildID, operators)
	if err != nil {
		run.Status = StatusFailed
		run.Err = err.Error()
		run.FinishedAt = e.now()
		logging.Error("[LOCKDOWN] Lockdown %s in guild %s failed before start: %v", run.ID, req.GuildID, err)
		e.remember(run)
		return run
	}

	var humans []*guild.Member
	for _, m := range members {
		if !m.Bot {
			humans = append(humans, m)
		}
	}
	run.Total = len(humans)

	progressEvery := cfg.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = 20
	}
	report := func() {
		if req.Progress != nil && run.Processed()%progressEvery == 0 {
			req.Progress(run)
		}
	}

	batch := make([]*guild.Member, 0, cfg.BatchSize)
	flushed := 0
	flush := func() error {
		defer func() { batch = batch[:0] }()
		if flushed > 0 {
			if err := e.sleep(ctx, cfg.BatchDelay); err != nil {
				return err
			}
		}
		flushed++
		for _, m := range batch {
			if err := e.evict(ctx, &run, info.Name, m, cfg); err != nil {
				return err
			}
			report()
		}
		return nil
	}

	for _, m := range humans {
		if protection.IsProtected(m) {
			run.Protected++
			e.observe("protected")
			report()
			continue
		}

		batch = append(batch, m)
		if len(batch) >= cfg.BatchSize {
			if err := flush(); err != nil {
				run.Status = StatusAborted
				run.Err = err.Error()
				break
			}
		}
	}

	if run.Status == StatusCompleted && len(batch) > 0 {
		if err := flush(); err != nil {
			run.Status = StatusAborted
			run.Err = err.Error()
		}
	}

	run.FinishedAt = e.now()
	e.remember(run)

	logging.Warn("[LOCKDOWN] Lockdown %s in guild %s %s: %d kicked, %d protected, %d errors, %d DMs sent (%d members)",
		run.ID, req.GuildID, run.Status, run.Kicked, run.Protected, run.Errors, run.DMsSent, run.Total)

	// Reporting uses a fresh context so an aborted run is still announced
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	e.publish(reportCtx, run, req.LogChannel, cfg.AnnounceChannels)

	return run
}

func (e *Executor) prepare(ctx context.Context, guildID string, operators []string) (*guild.Info, []*guild.Member, guild.Protection, error) {
	info, err := e.actions.Guild(ctx, guildID)
	if err != nil {
		return nil, nil, guild.Protection{}, fmt.Errorf("failed to read guild: %w", err)
	}

	// Without the exemption list protected members would be kicked
	roles, err := e.roles.GetProtectedRoles(guildID)
	if err != nil {
		return nil, nil, guild.Protection{}, fmt.Errorf("failed to read protected roles: %w", err)
	}

	members, err := e.actions.Members(ctx, guildID)
	if err != nil {
		return nil, nil, guild.Protection{}, fmt.Errorf("failed to enumerate members: %w", err)
	}

	return info, members, guild.Protection{
		GuildOwnerID:   info.OwnerID,
		OperatorIDs:    operators,
		ProtectedRoles: roles,
	}, nil
}

// evict DMs then kicks one member; only a context error is returned
func (e *Executor) evict(ctx context.Context, run *Run, guildName string, m *guild.Member, cfg config.LockdownConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if e.notifier.Direct(ctx, m.ID, notifier.LockdownDM(guildName, run.Reason)).OK() {
		run.DMsSent++
		e.observe("dm_sent")
	}

	if err := e.sleep(ctx, cfg.MemberDelay); err != nil {
		return err
	}

	err := e.actions.KickMember(ctx, run.GuildID, m.ID, "KCLAntivirus Advanced Lockdown: "+run.Reason)
	if err != nil {
		run.Errors++
		e.observe("error")
		logging.Warn("[LOCKDOWN] Failed to kick %s in guild %s: %s (%v)", m.ID, run.GuildID, guild.Classify(err), err)
		return nil
	}

	run.Kicked++
	e.observe("kicked")
	return nil
}

func (e *Executor) publish(ctx context.Context, run Run, logChannel string, announceNames []string) {
	summary := notifier.Lockdown{
		RunID:     run.ID,
		Reason:    run.Reason,
		Kicked:    run.Kicked,
		Protected: run.Protected,
		Errors:    run.Errors,
		DMsSent:   run.DMsSent,
		Processed: run.Processed(),
		Aborted:   run.Status == StatusAborted,
		At:        run.FinishedAt,
	}
	if info, err := e.actions.Guild(ctx, run.GuildID); err == nil {
		summary.Remaining = info.MemberCount
	}

	e.notifier.Post(ctx, logChannel, "@everyone **LOCKDOWN COMPLETE**", notifier.LockdownLog(summary))

	channels, err := e.actions.Channels(ctx, run.GuildID)
	if err != nil {
		logging.Warn("[LOCKDOWN] Could not list channels for announcement in guild %s: %v", run.GuildID, err)
		return
	}
	if target := AnnouncementChannel(channels, announceNames); target != "" {
		e.notifier.Post(ctx, target, "", notifier.LockdownAnnouncement(summary))
	}
}

// AnnouncementChannel picks the first text channel whose name contains one of names,
// in names order, falling back to the first text channel by position.
func AnnouncementChannel(channels []*guild.Channel, names []string) string {
	text := make([]*guild.Channel, 0, len(channels))
	for _, c := range channels {
		if c.Text {
			text = append(text, c)
		}
	}
	sort.SliceStable(text, func(i, j int) bool { return text[i].Position < text[j].Position })

	for _, name := range names {
		name = strings.ToLower(name)
		for _, c := range text {
			if strings.Contains(strings.ToLower(c.Name), name) {
				return c.ID
			}
		}
	}
	if len(text) > 0 {
		return text[0].ID
	}
	return ""
}

func (e *Executor) remember(run Run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := append(e.history[run.GuildID], run)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	e.history[run.GuildID] = h
}

// History returns the guild's lockdown runs, newest first
func (e *Executor) History(guildID string) []Run {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := e.history[guildID]
	out := make([]Run, len(h))
	for i, r := range h {
		out[len(h)-1-i] = r
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
