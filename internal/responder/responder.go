// Package responder executes the graduated response to a flagged message.
//
// Steps run in a fixed order (delete, quarantine, timeout, warning, scan log,
// mod log, notify). A failing step is logged and recorded with its Outcome and
// the next step still runs, so a response is never aborted part-way.
package responder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/decision"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"
	"kcl-antivirus/internal/scanner"
	"kcl-antivirus/pkg/util"
)

type Step string

const (
	StepDelete     Step = "delete"
	StepQuarantine Step = "quarantine"
	StepTimeout    Step = "timeout"
	StepWarning    Step = "warning"
	StepScanLog    Step = "scan_log"
	StepModLog     Step = "mod_log"
	StepNotify     Step = "notify"
)

// Threat is one flagged item of a message
type Threat struct {
	GuildID        string
	GuildName      string
	ChannelID      string
	MessageID      string
	UserID         string
	Username       string
	Content        string
	AccountCreated time.Time

	ItemName string
	ItemType string
	Result   scanner.Result
}

type StepResult struct {
	Step    Step
	Outcome guild.Outcome
	Err     error
}

type Report struct {
	Level   decision.ThreatLevel
	Timeout time.Duration
	LogID   int64
	Steps   []StepResult
}

func (r *Report) Outcome(step Step) (guild.Outcome, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s.Outcome, true
		}
	}
	return 0, false
}

func (r *Report) add(step Step, err error) guild.Outcome {
	outcome := guild.Classify(err)
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: outcome, Err: err})
	return outcome
}

func (r *Report) addOutcome(step Step, outcome guild.Outcome) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: outcome})
}

// Store is the audit side of the settings store
type Store interface {
	AddWarning(w *database.Warning) (int64, error)
	AddScanLog(entry *database.ScanLog) (int64, error)
}

type Options struct {
	Actions guild.Actions
	Store   Store
	Timeout time.Duration
	// ModeratorID is recorded on warnings, normally the bot user id
	ModeratorID string
	Now         func() time.Time
	Observe     func(step Step, outcome guild.Outcome)
}

type Responder struct {
	actions     guild.Actions
	notifier    *notifier.Notifier
	store       Store
	moderatorID string
	now         func() time.Time
	observe     func(Step, guild.Outcome)

	mu      sync.RWMutex
	timeout time.Duration
}

func New(opts Options) *Responder {
	r := &Responder{
		actions:     opts.Actions,
		notifier:    notifier.New(opts.Actions),
		store:       opts.Store,
		moderatorID: opts.ModeratorID,
		now:         opts.Now,
		observe:     opts.Observe,
		timeout:     opts.Timeout,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.observe == nil {
		r.observe = func(Step, guild.Outcome) {}
	}
	return r
}

func (r *Responder) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

func (r *Responder) SetModeratorID(id string) {
	r.mu.Lock()
	r.moderatorID = id
	r.mu.Unlock()
}

func (r *Responder) config() (time.Duration, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeout, r.moderatorID
}

// Respond runs every step for a threat verdict and reports each step's outcome
func (r *Responder) Respond(ctx context.Context, t Threat, settings *database.AntivirusSettings) *Report {
	full, moderatorID := r.config()
	level := t.Result.Level()
	report := &Report{Level: level, Timeout: decision.TimeoutFor(level, full)}
	details := Details(t.Result)
	info := r.threatInfo(t, report, details)

	logging.Warn("[RESPONDER] %s %s from user %s in guild %s: %s",
		level, t.ItemType, t.UserID, t.GuildID, details)

	// Removal
	deleted := r.step(report, StepDelete, t, r.actions.DeleteMessage(ctx, t.ChannelID, t.MessageID))

	if settings.QuarantineChannel != "" {
		r.record(report, StepQuarantine, t, r.notifier.Post(ctx, settings.QuarantineChannel, "", notifier.Quarantine(info)))
	} else {
		r.record(report, StepQuarantine, t, guild.OutcomeSkippedUnconfigured)
	}

	// Restriction
	var timedOut guild.Outcome
	if report.Timeout > 0 {
		until := r.now().Add(report.Timeout)
		timedOut = r.step(report, StepTimeout, t, r.actions.TimeoutMember(ctx, t.GuildID, t.UserID, until))
	} else {
		timedOut = guild.OutcomeSkippedUnconfigured
		r.record(report, StepTimeout, t, timedOut)
	}

	// Logging
	_, err := r.store.AddWarning(&database.Warning{
		UserID:      t.UserID,
		GuildID:     t.GuildID,
		ModeratorID: moderatorID,
		Reason:      WarningReason(level, t.ItemName, details),
		Timestamp:   r.now().Unix(),
	})
	warned := r.step(report, StepWarning, t, err)

	actions := actionSummary(deleted, timedOut, warned, report.Timeout)
	report.LogID, err = r.store.AddScanLog(r.scanLog(t, level.String(), actions))
	r.step(report, StepScanLog, t, err)

	r.record(report, StepModLog, t, r.notifier.Post(ctx, settings.ModLogChannel, "", notifier.ThreatLog(info, report.LogID, actions)))

	// Notification is last and never gates enforcement
	r.record(report, StepNotify, t, r.notifier.Direct(ctx, t.UserID, notifier.ThreatDM(info)))

	return report
}

// Record appends an audit entry for an item that needs no enforcement (clean, inconclusive, unscannable)
func (r *Responder) Record(t Threat, action string) (int64, error) {
	id, err := r.store.AddScanLog(r.scanLog(t, t.Result.Label(), action))
	if err != nil {
		logging.Warn("[RESPONDER] Failed to record scan log for %s in guild %s: %v", t.ItemName, t.GuildID, err)
	}
	return id, err
}

func (r *Responder) step(report *Report, step Step, t Threat, err error) guild.Outcome {
	outcome := report.add(step, err)
	r.observe(step, outcome)
	if err != nil {
		logging.Warn("[RESPONDER] Step %s for user %s in guild %s: %s (%v)", step, t.UserID, t.GuildID, outcome, err)
	}
	return outcome
}

func (r *Responder) record(report *Report, step Step, t Threat, outcome guild.Outcome) {
	report.addOutcome(step, outcome)
	r.observe(step, outcome)
}

func (r *Responder) scanLog(t Threat, level, action string) *database.ScanLog {
	entry := &database.ScanLog{
		GuildID:     t.GuildID,
		UserID:      t.UserID,
		ItemName:    t.ItemName,
		ItemType:    t.ItemType,
		ThreatLevel: level,
		ActionTaken: action,
		Timestamp:   r.now().Unix(),
	}
	if v := t.Result.Verdict; v != nil {
		entry.MaliciousCount = v.Stats.Malicious
		entry.SuspiciousCount = v.Stats.Suspicious
	}
	return entry
}

func (r *Responder) threatInfo(t Threat, report *Report, details string) notifier.Threat {
	info := notifier.Threat{
		GuildName:      t.GuildName,
		UserID:         t.UserID,
		Username:       t.Username,
		ChannelID:      t.ChannelID,
		ItemName:       t.ItemName,
		Level:          report.Level,
		Details:        details,
		Content:        t.Content,
		AccountCreated: t.AccountCreated,
		Timeout:        report.Timeout,
	}
	if v := t.Result.Verdict; v != nil {
		info.Malicious = v.Stats.Malicious
		info.Suspicious = v.Stats.Suspicious
	}
	return info
}

// WarningReason is the text recorded on the principal's warning
func WarningReason(level decision.ThreatLevel, item, details string) string {
	return fmt.Sprintf("KCLAntivirus: Posted %s content (%s) - %s", strings.ToLower(level.String()), item, details)
}

// Details describes why a result was flagged
func Details(res scanner.Result) string {
	v := res.Verdict
	if v == nil {
		return res.Reason
	}

	switch v.Source {
	case scanner.SourceExtension:
		return "Dangerous file extension blocked before upload scan"
	case scanner.SourceDomain:
		if res.Reason != "" {
			return res.Reason
		}
		return "Known malicious domain"
	}

	total := v.Stats.Total()
	return fmt.Sprintf("%d/%d engines flagged malicious, %d suspicious", v.Stats.Malicious, total, v.Stats.Suspicious)
}

func actionSummary(deleted, timedOut, warned guild.Outcome, timeout time.Duration) string {
	var parts []string
	if deleted.OK() {
		parts = append(parts, "Message deleted")
	} else if deleted == guild.OutcomeSkippedNotFound {
		parts = append(parts, "Message already removed")
	}
	if timedOut.OK() {
		parts = append(parts, "user timed out for "+util.FormatDuration(timeout))
	}
	if warned.OK() {
		parts = append(parts, "warning added")
	}
	if len(parts) == 0 {
		return "No action could be taken"
	}
	return strings.Join(parts, ", ")
}
