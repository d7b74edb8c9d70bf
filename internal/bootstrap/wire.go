package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kcl-antivirus/internal/antivirus"
	"kcl-antivirus/internal/bot"
	"kcl-antivirus/internal/commands"
	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/metrics"
	"kcl-antivirus/internal/scanner"
	"kcl-antivirus/internal/virustotal"
	"kcl-antivirus/internal/watchdog"
)

type Components struct {
	DB         *database.Database
	Session    *bot.Session
	Engine     *antivirus.Engine
	Commands   *commands.Handler
	Reputation *virustotal.Client

	// Monitoring and observability
	Metrics  *metrics.Registry
	Exporter *metrics.Exporter
	Watchdog *watchdog.Watchdog
	Watcher  *config.Watcher
}

func Wire(b *Bootstrap) error {
	logging.Info("Wiring components...")
	cfg := b.Config

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection not available")
	}

	if err := bot.Initialize(cfg.Bot.Token); err != nil {
		return err
	}
	session := bot.GetSession()

	registry := metrics.GetRegistry()
	watchdogInst := watchdog.NewWatchdog(time.Minute)

	var service scanner.Service
	client, err := virustotal.NewClient(virustotal.Options{
		APIKey:  cfg.Scanner.APIKey,
		BaseURL: cfg.Scanner.BaseURL,
		Timeout: cfg.Scanner.RequestTimeout,
		Observe: func(endpoint string, status int) {
			registry.ObserveReputationRequest(endpoint, virustotal.StatusLabel(status))
		},
	})
	switch {
	case errors.Is(err, virustotal.ErrNoAPIKey):
		logging.Warn("No reputation API key configured, scanning is limited to local filters")
	case err != nil:
		return fmt.Errorf("reputation client: %w", err)
	default:
		service = client
	}

	fetcher := virustotal.NewFetcher(cfg.Scanner.RequestTimeout, cfg.Scanner.MaxFileSize(), nil)

	engine := antivirus.New(antivirus.Options{
		Config:   cfg,
		Actions:  guild.NewDiscord(session.GetDiscord()),
		Store:    db,
		Service:  service,
		Fetcher:  fetcher,
		Metrics:  registry,
		Watchdog: watchdogInst,
	})

	components := &Components{
		DB:       db,
		Session:  session,
		Engine:   engine,
		Metrics:  registry,
		Watchdog: watchdogInst,
	}
	if service != nil {
		components.Reputation = client
	}
	if cfg.Metrics.Enabled {
		components.Exporter = metrics.NewExporter(registry)
	}

	b.Components = components
	logging.Info("Component wiring complete")
	return nil
}

func StartAll(ctx context.Context, b *Bootstrap) error {
	logging.Info("Starting components...")
	c := b.Components
	cfg := b.Config

	if c.Exporter != nil {
		if err := c.Exporter.Start(cfg.Metrics.Address); err != nil {
			return fmt.Errorf("metrics exporter: %w", err)
		}
	}

	if err := c.Engine.Start(ctx); err != nil {
		return fmt.Errorf("antivirus engine: %w", err)
	}
	logging.Info("Antivirus engine started")

	// Handlers must exist before the gateway delivers its first events
	c.Session.SetupEventHandlers(c.Engine, c.DB)
	if err := c.Session.Connect(); err != nil {
		return fmt.Errorf("gateway connection failed: %w", err)
	}
	c.Session.SyncGuilds(c.DB)

	appID := cfg.Bot.ClientID
	if appID == "" {
		appID = c.Session.BotID
	}
	handler, err := commands.Initialize(ctx, c.Session, c.Engine, c.DB, appID)
	if err != nil {
		return err
	}
	c.Commands = handler

	if configExists(b.ConfigPath) {
		watcher, err := config.Watch(b.ConfigPath, func(next *config.Config) {
			c.Engine.ApplyConfig(next)
			c.Commands.ApplyConfig(next)
		}, func(err error) {
			logging.Error("Config reload rejected, keeping previous config: %v", err)
		})
		if err != nil {
			logging.Warn("Config hot reload unavailable: %v", err)
		} else {
			c.Watcher = watcher
			logging.Info("Watching %s for changes", b.ConfigPath)
		}
	}

	logging.Info("All components started")
	return nil
}
