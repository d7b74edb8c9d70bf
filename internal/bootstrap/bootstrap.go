package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/logging"
)

type Bootstrap struct {
	ConfigPath  string
	Config      *config.Config
	Components  *Components
	initialized bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(configPath string) *Bootstrap {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bootstrap{
		ConfigPath:  configPath,
		initialized: false,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (b *Bootstrap) Initialize() error {
	if err := b.loadConfig(); err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	if err := b.initializeLogging(); err != nil {
		return fmt.Errorf("logging init failed: %w", err)
	}

	if err := b.initializeDatabase(); err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}

	if err := b.wireComponents(); err != nil {
		return fmt.Errorf("component wiring failed: %w", err)
	}

	b.initialized = true
	logging.Info("Bootstrap complete")
	return nil
}

func (b *Bootstrap) loadConfig() error {
	cfg, err := config.Load(b.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.Bot.Token == "" {
		return errors.New("bot token is not configured (set bot.token or DISCORD_TOKEN)")
	}
	b.Config = cfg
	return nil
}

func (b *Bootstrap) initializeLogging() error {
	lc := b.Config.Logging
	return logging.InitGlobalLogger(logging.Options{
		Level:      logging.ParseLevel(lc.Level),
		Path:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Console:    lc.Console,
	})
}

func (b *Bootstrap) initializeDatabase() error {
	if err := database.Initialize(b.Config.Database.Path); err != nil {
		return err
	}
	if !database.IsConnected() {
		return errors.New("database connection not available")
	}
	logging.Info("Database initialized at %s", b.Config.Database.Path)
	return nil
}

func (b *Bootstrap) wireComponents() error {
	return Wire(b)
}

func (b *Bootstrap) Start() error {
	if !b.initialized {
		return fmt.Errorf("bootstrap not initialized")
	}

	return StartAll(b.ctx, b)
}

// Stop cancels running work and tears every component down
func (b *Bootstrap) Stop() error {
	b.cancel()
	if b.Components == nil {
		return nil
	}
	return Shutdown(b.Components)
}

// configExists reports whether a hot-reloadable config file is present
func configExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
