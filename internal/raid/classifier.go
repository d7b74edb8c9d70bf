// Package raid scores join and message bursts from the activity tracker and
// routes the resulting signal to a lockdown or a moderator alert.
package raid

import (
	"sync"
	"time"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/tracker"
)

// Float sums of weights must still reach a cutoff they equal exactly
const scoreEpsilon = 1e-9

type Level uint8

const (
	LevelNone Level = iota
	LevelSuspicious
	LevelRaid
)

func (l Level) String() string {
	switch l {
	case LevelSuspicious:
		return "suspicious"
	case LevelRaid:
		return "raid"
	default:
		return "none"
	}
}

type Signal struct {
	GuildID         string
	Joins           int
	Messages        int
	UniqueJoiners   int
	UniqueMessagers int
	Score           float64
	Level           Level
	IsRaid          bool
	Factors         []string
	Window          time.Duration
	At              time.Time
}

type Classifier struct {
	tracker *tracker.Tracker
	now     func() time.Time

	mu  sync.RWMutex
	cfg config.RaidConfig
}

func NewClassifier(t *tracker.Tracker, cfg config.RaidConfig, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{tracker: t, cfg: cfg, now: now}
}

func (c *Classifier) UpdateConfig(cfg config.RaidConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Classifier) Config() config.RaidConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Evaluate scores the guild's activity over the configured window
func (c *Classifier) Evaluate(guildID string) Signal {
	cfg := c.Config()

	joins := c.tracker.Stats(guildID, tracker.KindJoin, cfg.Window)
	messages := c.tracker.Stats(guildID, tracker.KindMessage, cfg.Window)

	sig := Score(joins, messages, cfg)
	sig.GuildID = guildID
	sig.At = c.now()
	return sig
}

// Score applies the weighted heuristics. Every threshold comparison is inclusive.
func Score(joins, messages tracker.WindowStats, cfg config.RaidConfig) Signal {
	sig := Signal{
		Joins:           joins.Count,
		Messages:        messages.Count,
		UniqueJoiners:   joins.Distinct,
		UniqueMessagers: messages.Distinct,
		Window:          cfg.Window,
	}

	if joins.Count >= cfg.JoinThreshold {
		sig.Score += cfg.Weights.JoinBurst
		sig.Factors = append(sig.Factors, "join_burst")
	}

	if messages.Count >= cfg.MessageThreshold {
		sig.Score += cfg.Weights.MessageBurst
		sig.Factors = append(sig.Factors, "message_burst")
	}

	// Same accounts leaving and rejoining
	if joins.Distinct > cfg.UniqueJoinerFloor && float64(joins.Count)/float64(joins.Distinct) > cfg.JoinRepeatRatio {
		sig.Score += cfg.Weights.JoinRepetition
		sig.Factors = append(sig.Factors, "join_repetition")
	}

	// Few accounts posting a lot
	if messages.Distinct > 0 && float64(messages.Count)/float64(messages.Distinct) > cfg.MessageRateRatio {
		sig.Score += cfg.Weights.MessageRate
		sig.Factors = append(sig.Factors, "message_rate")
	}

	if sig.Score > 1.0 {
		sig.Score = 1.0
	}

	switch {
	case sig.Score+scoreEpsilon >= cfg.RaidCutoff:
		sig.Level = LevelRaid
		sig.IsRaid = true
	case sig.Score+scoreEpsilon >= cfg.SuspiciousCutoff:
		sig.Level = LevelSuspicious
	}
	return sig
}
