package antivirus

import (
	"context"
	"time"

	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"
	"kcl-antivirus/internal/tracker"
	"kcl-antivirus/pkg/util"
)

const newAccountAge = 7 * 24 * time.Hour

// HandleJoin tracks the join, flags new accounts and evaluates the guild for a raid
func (e *Engine) HandleJoin(ctx context.Context, j Join) {
	if j.Bot || j.GuildID == "" {
		return
	}

	settings, err := e.store.GetAntivirusSettings(j.GuildID)
	if err != nil {
		logging.Warn("[ANTIVIRUS] Failed to load settings for guild %s: %v", j.GuildID, err)
		return
	}
	if !settings.Enabled {
		return
	}

	at := j.At
	if at.IsZero() {
		at = e.now()
	}
	e.tracker.Record(j.GuildID, tracker.KindJoin, j.UserID, at)

	if e.Config().Features.NewAccountAlerts {
		created := j.AccountCreated
		if created.IsZero() {
			created = util.AccountCreatedAt(j.UserID)
		}
		if !created.IsZero() && at.Sub(created) < newAccountAge {
			ageDays := util.AccountAgeDays(created, at)
			logging.Info("[ANTIVIRUS] New account %s (%d days old) joined guild %s", j.UserID, ageDays, j.GuildID)
			e.notifier.Post(ctx, settings.ModLogChannel, "", notifier.NewAccount(j.UserID, j.Username, ageDays, created))
		}
	}

	e.protector.Check(e.lifetime(), j.GuildID)
}
