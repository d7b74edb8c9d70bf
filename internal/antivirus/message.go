package antivirus

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/decision"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"
	"kcl-antivirus/internal/responder"
	"kcl-antivirus/internal/scanner"
	"kcl-antivirus/internal/tracker"
	"kcl-antivirus/pkg/util"
)

const (
	threatScoreLog    = 0.7
	threatScoreReview = 0.8
)

type item struct {
	name       string
	kind       scanner.Kind
	attachment scanner.Attachment
}

func (it item) itemType() string {
	return it.kind.String()
}

// HandleMessage tracks the message for raid scoring, then runs the content
// heuristics and scans attachments and URLs of unprotected authors.
func (e *Engine) HandleMessage(ctx context.Context, msg Message) {
	if msg.AuthorBot || msg.GuildID == "" {
		return
	}

	settings, err := e.store.GetAntivirusSettings(msg.GuildID)
	if err != nil {
		logging.Warn("[ANTIVIRUS] Failed to load settings for guild %s: %v", msg.GuildID, err)
		return
	}
	if !settings.Enabled {
		return
	}

	at := msg.At
	if at.IsZero() {
		at = e.now()
	}
	e.tracker.Record(msg.GuildID, tracker.KindMessage, msg.AuthorID, at)
	e.protector.Check(e.lifetime(), msg.GuildID)

	if reason := e.ProtectionReason(ctx, msg.GuildID, msg.AuthorID); reason != "" {
		return
	}

	cfg := e.Config()
	if cfg.Features.ContentHeuristics {
		e.checkThreatScore(ctx, msg, settings)
	}
	if cfg.Features.SuspiciousPatterns {
		e.checkSuspiciousPattern(ctx, msg, settings)
	}
	e.scanMessage(ctx, msg, settings, cfg)
}

func (e *Engine) checkThreatScore(ctx context.Context, msg Message, settings *database.AntivirusSettings) {
	created := msg.AccountCreated
	if created.IsZero() {
		created = util.AccountCreatedAt(msg.AuthorID)
	}

	score := decision.ThreatScore(msg.Content, e.now().Sub(created))
	if score <= threatScoreLog {
		return
	}

	logging.Warn("[ANTIVIRUS] High threat score %.2f for user %s in guild %s", score, msg.AuthorID, msg.GuildID)
	if score > threatScoreReview {
		e.notifier.Post(ctx, settings.ModLogChannel, "",
			notifier.HighThreatScore(msg.AuthorID, msg.AuthorName, msg.ChannelID, score, "Automated threat analysis", msg.Content))
	}
}

func (e *Engine) checkSuspiciousPattern(ctx context.Context, msg Message, settings *database.AntivirusSettings) {
	pattern, ok := decision.SuspiciousPattern(msg.Content)
	if !ok {
		return
	}

	logging.Info("[ANTIVIRUS] Suspicious pattern %s from user %s in guild %s", pattern, msg.AuthorID, msg.GuildID)
	e.notifier.Post(ctx, settings.ModLogChannel, "",
		notifier.SuspiciousPattern(msg.AuthorID, msg.AuthorName, msg.ChannelID, pattern, msg.Content))
}

func (e *Engine) items(msg Message, settings *database.AntivirusSettings) []item {
	var items []item
	if settings.ScanAttachments {
		for _, att := range msg.Attachments {
			items = append(items, item{name: att.Filename, kind: scanner.KindFile, attachment: att})
		}
	}
	if settings.ScanURLs {
		for _, u := range decision.ExtractURLs(msg.Content) {
			items = append(items, item{name: u, kind: scanner.KindURL})
		}
	}
	return items
}

// scanMessage scans every item concurrently, then acts on the results in item
// order. Only the most severe threat runs the responder, since one message is
// deleted and one timeout is applied however many items are flagged.
func (e *Engine) scanMessage(ctx context.Context, msg Message, settings *database.AntivirusSettings, cfg *config.Config) {
	items := e.items(msg, settings)
	if len(items) == 0 {
		return
	}

	results := make([]scanner.Result, len(items))

	var g errgroup.Group
	g.SetLimit(max(1, cfg.Scanner.Concurrency))
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			if it.kind == scanner.KindFile {
				results[i] = e.scanner.ScanAttachment(ctx, it.attachment)
			} else {
				results[i] = e.scanner.ScanURL(ctx, it.name)
			}
			return nil
		})
	}
	_ = g.Wait()

	worst := -1
	for i, res := range results {
		if res.IsThreat() && (worst < 0 || res.Level() > results[worst].Level()) {
			worst = i
		}
	}

	for i, res := range results {
		it := items[i]
		t := e.threat(msg, it, res)

		switch {
		case i == worst:
			e.responder.Respond(ctx, t, settings)

		case res.IsThreat():
			e.responder.Record(t, fmt.Sprintf("Removed with message (response ran for %s)", items[worst].name))

		case res.Status == scanner.StatusUnscannable:
			logging.Info("[ANTIVIRUS] Allowed unscannable file %s from user %s in guild %s: %s", it.name, msg.AuthorID, msg.GuildID, res.Reason)
			e.notifier.Post(ctx, settings.ModLogChannel, "",
				notifier.LargeFile(msg.AuthorID, msg.AuthorName, msg.ChannelID, it.name, it.attachment.ContentType, it.attachment.Size))
			e.responder.Record(t, "File allowed (too large to scan)")

		case res.Status == scanner.StatusInconclusive:
			logging.Warn("[ANTIVIRUS] Inconclusive scan of %s from user %s in guild %s: %s", it.name, msg.AuthorID, msg.GuildID, res.Reason)
			e.notifier.Post(ctx, settings.ModLogChannel, "",
				notifier.ScanError(msg.AuthorID, msg.AuthorName, it.name, res.Reason))
			e.responder.Record(t, "Scan inconclusive, no action taken")

		case res.Status == scanner.StatusSkipped:
			logging.Debug("[ANTIVIRUS] Skipped %s %s: %s", it.itemType(), it.name, res.Reason)

		case res.Verdict != nil && res.Verdict.Source == scanner.SourceExtension:
			// Safe extension, not worth an audit entry

		case cfg.Features.CleanScanLogs:
			e.responder.Record(t, "No action needed")
		}
	}
}

func (e *Engine) threat(msg Message, it item, res scanner.Result) responder.Threat {
	return responder.Threat{
		GuildID:        msg.GuildID,
		GuildName:      msg.GuildName,
		ChannelID:      msg.ChannelID,
		MessageID:      msg.MessageID,
		UserID:         msg.AuthorID,
		Username:       msg.AuthorName,
		Content:        msg.Content,
		AccountCreated: msg.AccountCreated,
		ItemName:       it.name,
		ItemType:       it.itemType(),
		Result:         res,
	}
}
