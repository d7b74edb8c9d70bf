package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("KCL_BOT_TOKEN", "")

	b := New(filepath.Join(t.TempDir(), "missing.yaml"))
	err := b.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot token")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "abc")

	b := New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, b.loadConfig())
	assert.Equal(t, "abc", b.Config.Bot.Token)
}

func TestStartRequiresInitialize(t *testing.T) {
	assert.Error(t, New("").Start())
}

func TestConfigExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	assert.False(t, configExists(path))
	assert.False(t, configExists(""))

	require.NoError(t, os.WriteFile(path, []byte("raid:\n  join_threshold: 10\n"), 0o600))
	assert.True(t, configExists(path))
}
