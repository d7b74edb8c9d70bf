package antivirus

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"
	"kcl-antivirus/internal/tracker"
)

const securityWindow = time.Hour

// schedule registers fn under spec and watches it for heartbeats
func (e *Engine) schedule(spec, name string, fn func()) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}

	first := sched.Next(e.now())
	e.watchdog.RegisterComponent(name, sched.Next(first).Sub(first))

	e.cron.Schedule(sched, cron.FuncJob(func() {
		fn()
		e.watchdog.Heartbeat(name)
	}))
	return nil
}

// SecurityCheck posts a health alert for every enabled guild busier than twice
// the raid message threshold over the last hour. Returns the alerts sent.
func (e *Engine) SecurityCheck(ctx context.Context) int {
	guilds, err := e.store.ListEnabledGuilds()
	if err != nil {
		logging.Error("[ANTIVIRUS] Security check could not list guilds: %v", err)
		return 0
	}

	limit := 2 * e.Config().Raid.MessageThreshold
	alerts := 0

	for _, guildID := range guilds {
		if ctx.Err() != nil {
			break
		}

		n := e.tracker.Count(guildID, tracker.KindMessage, securityWindow)
		if n <= limit {
			continue
		}

		settings, err := e.store.GetAntivirusSettings(guildID)
		if err != nil {
			logging.Warn("[ANTIVIRUS] Security check skipped guild %s: %v", guildID, err)
			continue
		}

		logging.Warn("[ANTIVIRUS] High activity in guild %s: %d messages in the last hour", guildID, n)
		if e.notifier.Post(ctx, settings.ModLogChannel, "", notifier.SecurityHealth(n)).OK() {
			alerts++
		}
	}
	return alerts
}

// Maintenance drops expired cache entries and cooldowns
func (e *Engine) Maintenance() {
	purged := e.scanner.Purge()
	pruned := e.protector.Prune()
	files, urls := e.scanner.CacheSizes()

	logging.Debug("[ANTIVIRUS] Maintenance purged %d verdicts and %d cooldowns (cache: %d files, %d urls)", purged, pruned, files, urls)
}
