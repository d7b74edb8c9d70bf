package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Raid      RaidConfig      `mapstructure:"raid"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Responder ResponderConfig `mapstructure:"responder"`
	Lockdown  LockdownConfig  `mapstructure:"lockdown"`
	Commands  CommandsConfig  `mapstructure:"commands"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Features  FeatureFlags    `mapstructure:"features"`
}

type BotConfig struct {
	Token    string   `mapstructure:"token"`
	ClientID string   `mapstructure:"client_id"`
	OwnerIDs []string `mapstructure:"owner_ids"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type ResponderConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type CommandsConfig struct {
	UserScanCooldown   time.Duration `mapstructure:"user_scan_cooldown"`
	ServerScanCooldown time.Duration `mapstructure:"server_scan_cooldown"`
}

type ScheduleConfig struct {
	SecurityCheck string `mapstructure:"security_check"`
	Maintenance   string `mapstructure:"maintenance"`
}

type FeatureFlags struct {
	ContentHeuristics  bool `mapstructure:"content_heuristics"`
	SuspiciousPatterns bool `mapstructure:"suspicious_patterns"`
	NewAccountAlerts   bool `mapstructure:"new_account_alerts"`
	SecurityCheck      bool `mapstructure:"security_check"`
	CleanScanLogs      bool `mapstructure:"clean_scan_logs"`
}

var (
	globalMu     sync.RWMutex
	GlobalConfig *Config
)

// Load reads path (if present) over the defaults, applies env overrides and validates.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	setGlobal(cfg)
	return cfg, nil
}

func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	registerDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("KCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for existing deployments
	_ = v.BindEnv("bot.token", "DISCORD_TOKEN", "KCL_BOT_TOKEN")
	_ = v.BindEnv("bot.client_id", "CLIENT_ID", "KCL_BOT_CLIENT_ID")
	_ = v.BindEnv("scanner.api_key", "VIRUSTOTAL_API_KEY", "KCL_SCANNER_API_KEY")
	_ = v.BindEnv("database.path", "DATABASE_PATH", "KCL_DATABASE_PATH")

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Scanner.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setGlobal(cfg *Config) {
	globalMu.Lock()
	GlobalConfig = cfg
	globalMu.Unlock()
}

func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if GlobalConfig == nil {
		return DefaultConfig()
	}
	return GlobalConfig
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{},
		Database: DatabaseConfig{
			Path: "kcl_antivirus.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "kcl_antivirus.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Console:    true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9464",
		},
		Scanner: ScannerConfig{
			BaseURL:             "https://www.virustotal.com/api/v3",
			RequestTimeout:      30 * time.Second,
			MaxFileSizeMB:       32,
			MaliciousThreshold:  1,
			SuspiciousThreshold: 3,
			HarmfulRatio:        0.1,
			FileCacheTTL:        24 * time.Hour,
			URLCacheTTL:         12 * time.Hour,
			CacheSize:           4096,
			Concurrency:         4,
			FileRetry:           RetryConfig{Attempts: 3, BaseDelay: 10 * time.Second},
			URLRetry:            RetryConfig{Attempts: 1, BaseDelay: 5 * time.Second},
			SafeExtensions:      []string{".txt", ".md", ".json", ".yml", ".yaml", ".log"},
			DangerousExtensions: []string{".exe", ".scr", ".bat", ".cmd", ".com", ".pif", ".vbs", ".js"},
		},
		Raid: RaidConfig{
			JoinThreshold:    10,
			MessageThreshold: 20,
			Window:           60 * time.Second,
			Weights: RaidWeights{
				JoinBurst:      0.7,
				MessageBurst:   0.3,
				JoinRepetition: 0.2,
				MessageRate:    0.3,
			},
			UniqueJoinerFloor: 5,
			JoinRepeatRatio:   1.5,
			MessageRateRatio:  10,
			RaidCutoff:        0.7,
			SuspiciousCutoff:  0.4,
			AlertCooldown:     5 * time.Minute,
		},
		Tracker: TrackerConfig{
			Retention:     2 * time.Hour,
			SweepInterval: 30 * time.Minute,
		},
		Responder: ResponderConfig{
			Timeout: 24 * time.Hour,
		},
		Lockdown: LockdownConfig{
			BatchSize:        10,
			MemberDelay:      200 * time.Millisecond,
			BatchDelay:       time.Second,
			ProgressEvery:    20,
			AnnounceChannels: []string{"general", "announcements", "main", "lobby", "chat"},
		},
		Commands: CommandsConfig{
			UserScanCooldown:   5 * time.Minute,
			ServerScanCooldown: time.Hour,
		},
		Schedule: ScheduleConfig{
			SecurityCheck: "@every 6h",
			Maintenance:   "@every 30m",
		},
		Features: FeatureFlags{
			ContentHeuristics:  true,
			SuspiciousPatterns: true,
			NewAccountAlerts:   true,
			SecurityCheck:      true,
			CleanScanLogs:      true,
		},
	}
}

func registerDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("bot.token", d.Bot.Token)
	v.SetDefault("bot.client_id", d.Bot.ClientID)
	v.SetDefault("bot.owner_ids", d.Bot.OwnerIDs)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.console", d.Logging.Console)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetDefault("scanner.api_key", d.Scanner.APIKey)
	v.SetDefault("scanner.base_url", d.Scanner.BaseURL)
	v.SetDefault("scanner.request_timeout", d.Scanner.RequestTimeout)
	v.SetDefault("scanner.max_file_size_mb", d.Scanner.MaxFileSizeMB)
	v.SetDefault("scanner.malicious_threshold", d.Scanner.MaliciousThreshold)
	v.SetDefault("scanner.suspicious_threshold", d.Scanner.SuspiciousThreshold)
	v.SetDefault("scanner.harmful_ratio", d.Scanner.HarmfulRatio)
	v.SetDefault("scanner.file_cache_ttl", d.Scanner.FileCacheTTL)
	v.SetDefault("scanner.url_cache_ttl", d.Scanner.URLCacheTTL)
	v.SetDefault("scanner.cache_size", d.Scanner.CacheSize)
	v.SetDefault("scanner.concurrency", d.Scanner.Concurrency)
	v.SetDefault("scanner.file_retry.attempts", d.Scanner.FileRetry.Attempts)
	v.SetDefault("scanner.file_retry.base_delay", d.Scanner.FileRetry.BaseDelay)
	v.SetDefault("scanner.url_retry.attempts", d.Scanner.URLRetry.Attempts)
	v.SetDefault("scanner.url_retry.base_delay", d.Scanner.URLRetry.BaseDelay)
	v.SetDefault("scanner.safe_extensions", d.Scanner.SafeExtensions)
	v.SetDefault("scanner.dangerous_extensions", d.Scanner.DangerousExtensions)

	v.SetDefault("raid.join_threshold", d.Raid.JoinThreshold)
	v.SetDefault("raid.message_threshold", d.Raid.MessageThreshold)
	v.SetDefault("raid.window", d.Raid.Window)
	v.SetDefault("raid.weights.join_burst", d.Raid.Weights.JoinBurst)
	v.SetDefault("raid.weights.message_burst", d.Raid.Weights.MessageBurst)
	v.SetDefault("raid.weights.join_repetition", d.Raid.Weights.JoinRepetition)
	v.SetDefault("raid.weights.message_rate", d.Raid.Weights.MessageRate)
	v.SetDefault("raid.unique_joiner_floor", d.Raid.UniqueJoinerFloor)
	v.SetDefault("raid.join_repeat_ratio", d.Raid.JoinRepeatRatio)
	v.SetDefault("raid.message_rate_ratio", d.Raid.MessageRateRatio)
	v.SetDefault("raid.raid_cutoff", d.Raid.RaidCutoff)
	v.SetDefault("raid.suspicious_cutoff", d.Raid.SuspiciousCutoff)
	v.SetDefault("raid.alert_cooldown", d.Raid.AlertCooldown)

	v.SetDefault("tracker.retention", d.Tracker.Retention)
	v.SetDefault("tracker.sweep_interval", d.Tracker.SweepInterval)

	v.SetDefault("responder.timeout", d.Responder.Timeout)

	v.SetDefault("lockdown.batch_size", d.Lockdown.BatchSize)
	v.SetDefault("lockdown.member_delay", d.Lockdown.MemberDelay)
	v.SetDefault("lockdown.batch_delay", d.Lockdown.BatchDelay)
	v.SetDefault("lockdown.progress_every", d.Lockdown.ProgressEvery)
	v.SetDefault("lockdown.announce_channels", d.Lockdown.AnnounceChannels)

	v.SetDefault("commands.user_scan_cooldown", d.Commands.UserScanCooldown)
	v.SetDefault("commands.server_scan_cooldown", d.Commands.ServerScanCooldown)

	v.SetDefault("schedule.security_check", d.Schedule.SecurityCheck)
	v.SetDefault("schedule.maintenance", d.Schedule.Maintenance)

	v.SetDefault("features.content_heuristics", d.Features.ContentHeuristics)
	v.SetDefault("features.suspicious_patterns", d.Features.SuspiciousPatterns)
	v.SetDefault("features.new_account_alerts", d.Features.NewAccountAlerts)
	v.SetDefault("features.security_check", d.Features.SecurityCheck)
	v.SetDefault("features.clean_scan_logs", d.Features.CleanScanLogs)
}
