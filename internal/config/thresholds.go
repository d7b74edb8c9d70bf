package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

type ScannerConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxFileSizeMB       int           `mapstructure:"max_file_size_mb"`
	MaliciousThreshold  int           `mapstructure:"malicious_threshold"`
	SuspiciousThreshold int           `mapstructure:"suspicious_threshold"`
	HarmfulRatio        float64       `mapstructure:"harmful_ratio"`
	FileCacheTTL        time.Duration `mapstructure:"file_cache_ttl"`
	URLCacheTTL         time.Duration `mapstructure:"url_cache_ttl"`
	CacheSize           int           `mapstructure:"cache_size"`
	Concurrency         int           `mapstructure:"concurrency"`
	FileRetry           RetryConfig   `mapstructure:"file_retry"`
	URLRetry            RetryConfig   `mapstructure:"url_retry"`
	SafeExtensions      []string      `mapstructure:"safe_extensions"`
	DangerousExtensions []string      `mapstructure:"dangerous_extensions"`
}

// RetryConfig describes analysis polling: attempt n (0-based) waits BaseDelay*(n+1)
type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

type RaidWeights struct {
	JoinBurst      float64 `mapstructure:"join_burst"`
	MessageBurst   float64 `mapstructure:"message_burst"`
	JoinRepetition float64 `mapstructure:"join_repetition"`
	MessageRate    float64 `mapstructure:"message_rate"`
}

type RaidConfig struct {
	JoinThreshold     int           `mapstructure:"join_threshold"`
	MessageThreshold  int           `mapstructure:"message_threshold"`
	Window            time.Duration `mapstructure:"window"`
	Weights           RaidWeights   `mapstructure:"weights"`
	UniqueJoinerFloor int           `mapstructure:"unique_joiner_floor"`
	JoinRepeatRatio   float64       `mapstructure:"join_repeat_ratio"`
	MessageRateRatio  float64       `mapstructure:"message_rate_ratio"`
	RaidCutoff        float64       `mapstructure:"raid_cutoff"`
	SuspiciousCutoff  float64       `mapstructure:"suspicious_cutoff"`
	AlertCooldown     time.Duration `mapstructure:"alert_cooldown"`
}

type TrackerConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LockdownConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	MemberDelay      time.Duration `mapstructure:"member_delay"`
	BatchDelay       time.Duration `mapstructure:"batch_delay"`
	ProgressEvery    int           `mapstructure:"progress_every"`
	AnnounceChannels []string      `mapstructure:"announce_channels"`
}

// MaxFileSize returns the scan cap in bytes
func (s ScannerConfig) MaxFileSize() int64 {
	return int64(s.MaxFileSizeMB) * 1024 * 1024
}

// normalize lowercases extensions and makes sure each carries a leading dot
func (s *ScannerConfig) normalize() {
	s.SafeExtensions = normalizeExtensions(s.SafeExtensions)
	s.DangerousExtensions = normalizeExtensions(s.DangerousExtensions)
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

func (c *Config) Validate() error {
	switch {
	case c.Raid.JoinThreshold <= 0:
		return &ValidationError{Field: "raid.join_threshold", Value: c.Raid.JoinThreshold, Reason: "must be positive"}
	case c.Raid.MessageThreshold <= 0:
		return &ValidationError{Field: "raid.message_threshold", Value: c.Raid.MessageThreshold, Reason: "must be positive"}
	case c.Raid.Window <= 0:
		return &ValidationError{Field: "raid.window", Value: c.Raid.Window, Reason: "must be positive"}
	case !unitInterval(c.Raid.RaidCutoff):
		return &ValidationError{Field: "raid.raid_cutoff", Value: c.Raid.RaidCutoff, Reason: "must be within 0..1"}
	case !unitInterval(c.Raid.SuspiciousCutoff):
		return &ValidationError{Field: "raid.suspicious_cutoff", Value: c.Raid.SuspiciousCutoff, Reason: "must be within 0..1"}
	case c.Raid.SuspiciousCutoff > c.Raid.RaidCutoff:
		return &ValidationError{Field: "raid.suspicious_cutoff", Value: c.Raid.SuspiciousCutoff, Reason: "must not exceed raid.raid_cutoff"}
	case c.Tracker.Retention < c.Raid.Window:
		return &ValidationError{Field: "tracker.retention", Value: c.Tracker.Retention, Reason: "must cover raid.window"}
	case c.Tracker.SweepInterval <= 0:
		return &ValidationError{Field: "tracker.sweep_interval", Value: c.Tracker.SweepInterval, Reason: "must be positive"}
	case c.Scanner.MaxFileSizeMB <= 0:
		return &ValidationError{Field: "scanner.max_file_size_mb", Value: c.Scanner.MaxFileSizeMB, Reason: "must be positive"}
	case c.Scanner.MaliciousThreshold <= 0:
		return &ValidationError{Field: "scanner.malicious_threshold", Value: c.Scanner.MaliciousThreshold, Reason: "must be positive"}
	case c.Scanner.SuspiciousThreshold <= 0:
		return &ValidationError{Field: "scanner.suspicious_threshold", Value: c.Scanner.SuspiciousThreshold, Reason: "must be positive"}
	case c.Scanner.FileRetry.Attempts <= 0 || c.Scanner.URLRetry.Attempts <= 0:
		return &ValidationError{Field: "scanner.*_retry.attempts", Value: c.Scanner.FileRetry.Attempts, Reason: "must be positive"}
	case c.Scanner.CacheSize <= 0:
		return &ValidationError{Field: "scanner.cache_size", Value: c.Scanner.CacheSize, Reason: "must be positive"}
	case c.Lockdown.BatchSize <= 0:
		return &ValidationError{Field: "lockdown.batch_size", Value: c.Lockdown.BatchSize, Reason: "must be positive"}
	case c.Responder.Timeout <= 0 || c.Responder.Timeout > 28*24*time.Hour:
		// Discord caps communication_disabled_until at 28 days
		return &ValidationError{Field: "responder.timeout", Value: c.Responder.Timeout, Reason: "must be within 0..28 days"}
	}
	return nil
}

func unitInterval(f float64) bool {
	return f >= 0 && f <= 1
}
