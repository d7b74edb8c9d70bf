package raid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/decision"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/lockdown"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"
)

const incidentLimit = 50

type Action string

const (
	ActionAlert           Action = "alert"
	ActionSuspiciousAlert Action = "suspicious_alert"
	ActionLockdown        Action = "lockdown"
)

type Incident struct {
	ID            string
	GuildID       string
	At            time.Time
	Joins         int
	Messages      int
	Score         float64
	Level         Level
	Action        Action
	AutoLockdown  bool
	LockdownRunID string
}

type SettingsStore interface {
	GetAntivirusSettings(guildID string) (*database.AntivirusSettings, error)
}

type Lockdowner interface {
	Execute(ctx context.Context, req lockdown.Request) lockdown.Run
}

type ProtectorOptions struct {
	Classifier *Classifier
	Actions    guild.Actions
	Settings   SettingsStore
	Lockdown   Lockdowner
	Cooldown   *decision.CooldownManager
	Observe    func(level Level)
	Now        func() time.Time
}

// Protector routes raid signals: lockdown or @here alert for a raid, a passive
// alert for suspicious activity. A per-guild cooldown stops one burst from routing twice.
type Protector struct {
	classifier *Classifier
	notifier   *notifier.Notifier
	settings   SettingsStore
	lockdown   Lockdowner
	cooldown   *decision.CooldownManager
	observe    func(Level)

	mu      sync.RWMutex
	history map[string][]Incident
	wg      sync.WaitGroup
}

func NewProtector(opts ProtectorOptions) *Protector {
	p := &Protector{
		classifier: opts.Classifier,
		notifier:   notifier.New(opts.Actions),
		settings:   opts.Settings,
		lockdown:   opts.Lockdown,
		cooldown:   opts.Cooldown,
		observe:    opts.Observe,
		history:    make(map[string][]Incident),
	}
	if p.cooldown == nil {
		p.cooldown = decision.NewCooldownManager(opts.Classifier.Config().AlertCooldown)
		if opts.Now != nil {
			p.cooldown.WithClock(opts.Now)
		}
	}
	if p.observe == nil {
		p.observe = func(Level) {}
	}
	return p
}

// Check evaluates guildID and routes the signal. ctx bounds any lockdown it starts,
// so pass the subsystem's lifetime context rather than a per-event one.
func (p *Protector) Check(ctx context.Context, guildID string) (Signal, *Incident) {
	sig := p.classifier.Evaluate(guildID)
	if sig.Level == LevelNone {
		return sig, nil
	}
	return sig, p.Route(ctx, sig)
}

func (p *Protector) Route(ctx context.Context, sig Signal) *Incident {
	p.observe(sig.Level)

	settings, err := p.settings.GetAntivirusSettings(sig.GuildID)
	if err != nil {
		logging.Error("[RAID] Failed to load settings for guild %s: %v", sig.GuildID, err)
		return nil
	}
	if !settings.Enabled {
		return nil
	}

	key := "suspicious_alert"
	if sig.IsRaid {
		key = "raid_alert"
	}
	if ok, _ := p.cooldown.TryAcquire(sig.GuildID, key); !ok {
		return nil
	}

	cfg := p.classifier.Config()
	info := notifier.Raid{
		Joins:        sig.Joins,
		Messages:     sig.Messages,
		Score:        sig.Score,
		Window:       cfg.Window,
		AutoLockdown: settings.AutoLockdown,
	}

	incident := Incident{
		ID:           uuid.NewString(),
		GuildID:      sig.GuildID,
		At:           sig.At,
		Joins:        sig.Joins,
		Messages:     sig.Messages,
		Score:        sig.Score,
		Level:        sig.Level,
		AutoLockdown: settings.AutoLockdown,
	}
	switch {
	case !sig.IsRaid:
		incident.Action = ActionSuspiciousAlert
	case settings.AutoLockdown:
		incident.Action = ActionLockdown
	default:
		incident.Action = ActionAlert
	}
	// recorded before the lockdown starts; attachRun fills in the run ID
	p.remember(incident)

	switch incident.Action {
	case ActionSuspiciousAlert:
		logging.Warn("[RAID] Suspicious activity in guild %s: %d joins, %d messages, score %.2f", sig.GuildID, sig.Joins, sig.Messages, sig.Score)
		p.notifier.Post(ctx, settings.ModLogChannel, "", notifier.SuspiciousActivity(info))

	case ActionLockdown:
		logging.Critical("[RAID] Raid detected in guild %s: %d joins, %d messages, score %.2f; starting lockdown", sig.GuildID, sig.Joins, sig.Messages, sig.Score)
		reason := fmt.Sprintf("Automatic raid protection: %d joins, %d messages, raid score: %.2f", sig.Joins, sig.Messages, sig.Score)
		p.startLockdown(ctx, incident.ID, lockdown.Request{
			GuildID:    sig.GuildID,
			Reason:     reason,
			LogChannel: settings.ModLogChannel,
		})

	default:
		logging.Critical("[RAID] Raid detected in guild %s: %d joins, %d messages, score %.2f", sig.GuildID, sig.Joins, sig.Messages, sig.Score)
		p.notifier.Post(ctx, settings.ModLogChannel, "@here **RAID ALERT**", notifier.RaidAlert(info))
	}
	return &incident
}

func (p *Protector) startLockdown(ctx context.Context, incidentID string, req lockdown.Request) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		run := p.lockdown.Execute(ctx, req)
		p.attachRun(req.GuildID, incidentID, run.ID)
	}()
}

// Wait blocks until lockdowns started by the protector have finished
func (p *Protector) Wait() {
	p.wg.Wait()
}

func (p *Protector) remember(incident Incident) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := append(p.history[incident.GuildID], incident)
	if len(h) > incidentLimit {
		h = h[len(h)-incidentLimit:]
	}
	p.history[incident.GuildID] = h
}

func (p *Protector) attachRun(guildID, incidentID, runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.history[guildID]
	for i := range h {
		if h[i].ID == incidentID {
			h[i].LockdownRunID = runID
			return
		}
	}
}

// History returns the guild's incidents, newest first
func (p *Protector) History(guildID string) []Incident {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.history[guildID]
	out := make([]Incident, len(h))
	for i, inc := range h {
		out[len(h)-1-i] = inc
	}
	return out
}

// Prune drops expired cooldowns
func (p *Protector) Prune() int {
	return p.cooldown.Prune()
}

func (p *Protector) UpdateCooldown(d time.Duration) {
	p.cooldown.SetDuration(d)
}
