package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Raid.JoinThreshold)
	assert.Equal(t, 20, cfg.Raid.MessageThreshold)
	assert.Equal(t, 60*time.Second, cfg.Raid.Window)
	assert.Equal(t, int64(32*1024*1024), cfg.Scanner.MaxFileSize())
	assert.Contains(t, cfg.Scanner.DangerousExtensions, ".exe")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().Raid, cfg.Raid)
	assert.Equal(t, DefaultConfig().Lockdown.AnnounceChannels, cfg.Lockdown.AnnounceChannels)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"raid": {"join_threshold": 15, "window": "90s", "weights": {"join_burst": 0.5}},
		"scanner": {"dangerous_extensions": ["EXE", ".Msi"], "file_retry": {"attempts": 5}},
		"lockdown": {"batch_size": 25}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Raid.JoinThreshold)
	assert.Equal(t, 90*time.Second, cfg.Raid.Window)
	assert.Equal(t, 0.5, cfg.Raid.Weights.JoinBurst)
	// untouched siblings keep defaults
	assert.Equal(t, 0.3, cfg.Raid.Weights.MessageBurst)
	assert.Equal(t, 20, cfg.Raid.MessageThreshold)

	assert.Equal(t, []string{".exe", ".msi"}, cfg.Scanner.DangerousExtensions)
	assert.Equal(t, 5, cfg.Scanner.FileRetry.Attempts)
	assert.Equal(t, 10*time.Second, cfg.Scanner.FileRetry.BaseDelay)
	assert.Equal(t, 25, cfg.Lockdown.BatchSize)

	assert.Same(t, cfg, Get())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("VIRUSTOTAL_API_KEY", "vt-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Bot.Token)
	assert.Equal(t, "vt-key", cfg.Scanner.APIKey)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"raid": {"raid_cutoff": 0.3, "suspicious_cutoff": 0.5}}`)

	_, err := Load(path)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "raid.suspicious_cutoff", verr.Field)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `{"raid": `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero join threshold", func(c *Config) { c.Raid.JoinThreshold = 0 }, "raid.join_threshold"},
		{"cutoff above one", func(c *Config) { c.Raid.RaidCutoff = 1.5 }, "raid.raid_cutoff"},
		{"retention shorter than window", func(c *Config) { c.Tracker.Retention = time.Second }, "tracker.retention"},
		{"zero batch", func(c *Config) { c.Lockdown.BatchSize = 0 }, "lockdown.batch_size"},
		{"timeout too long", func(c *Config) { c.Responder.Timeout = 30 * 24 * time.Hour }, "responder.timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			var verr *ValidationError
			require.ErrorAs(t, cfg.Validate(), &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}
