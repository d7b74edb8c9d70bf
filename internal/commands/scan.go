package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kcl-antivirus/internal/notifier"
	"kcl-antivirus/internal/raid"
	"kcl-antivirus/pkg/util"

	"github.com/bwmarrin/discordgo"
)

const scanTimeout = 30 * time.Second

func cooldownMessage(wait time.Duration) string {
	return fmt.Sprintf("This scan is on cooldown. Try again in %s.", wait.Round(time.Second))
}

func (h *Handler) handleServerScan(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if !h.requireModerator(s, i) {
		return nil
	}
	if ok, wait := h.serverScan.TryAcquire(i.GuildID, actionServerScan); !ok {
		respondError(s, i, cooldownMessage(wait))
		return nil
	}

	if err := deferResponse(s, i); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(h.ctx, scanTimeout)
	defer cancel()

	// Only heavy posters reach the filter, so per-user lookups stay few
	report := h.engine.Classifier().BuildServerReport(i.GuildID, func(userID string) bool {
		return h.engine.ProtectionReason(ctx, i.GuildID, userID) != ""
	})

	return editResponse(s, i, serverScanEmbed(report))
}

func serverScanEmbed(r raid.ServerReport) *discordgo.MessageEmbed {
	color := notifier.ColorSuccess
	status := "✅ No raid activity detected"
	switch r.Signal.Level {
	case raid.LevelRaid:
		color = notifier.ColorError
		status = "🚨 Raid pattern detected"
	case raid.LevelSuspicious:
		color = notifier.ColorWarning
		status = "⚠️ Suspicious activity"
	}

	factors := "None"
	if len(r.Signal.Factors) > 0 {
		factors = strings.Join(r.Signal.Factors, ", ")
	}

	embed := &discordgo.MessageEmbed{
		Title:       "🔍 Server Security Scan",
		Description: status,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			field("👥 Joins (1h)", fmt.Sprintf("%d from %d users", r.Joins, r.UniqueJoiners), true),
			field("💬 Messages (1h)", fmt.Sprintf("%d from %d users", r.Messages, r.UniqueMessagers), true),
			field("📈 Raid Score", fmt.Sprintf("%.2f (%s)", r.Signal.Score, r.Signal.Level), true),
			field("Contributing Factors", factors, false),
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: notifier.Footer},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if len(r.TopUsers) > 0 {
		lines := make([]string, len(r.TopUsers))
		for n, u := range r.TopUsers {
			lines[n] = fmt.Sprintf("%d. <@%s>: %d messages", n+1, u.UserID, u.Messages)
		}
		embed.Fields = append(embed.Fields, field("🔥 Most Active (unprotected)", strings.Join(lines, "\n"), false))
	}
	return embed
}

func (h *Handler) handleScanUser(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) error {
	if !h.requireModerator(s, i) {
		return nil
	}

	opt, ok := optionMap(data.Options)["user"]
	if !ok {
		return fmt.Errorf("missing option: user")
	}
	user := opt.UserValue(nil)
	if data.Resolved != nil {
		if resolved, ok := data.Resolved.Users[user.ID]; ok {
			user = resolved
		}
	}

	if ok, wait := h.userScan.TryAcquire(i.Member.User.ID, actionUserScan); !ok {
		respondError(s, i, cooldownMessage(wait))
		return nil
	}

	if err := deferResponse(s, i); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(h.ctx, scanTimeout)
	defer cancel()

	report := h.engine.Classifier().BuildUserReport(i.GuildID, user.ID)
	reason := h.engine.ProtectionReason(ctx, i.GuildID, user.ID)

	var highest *discordgo.Role
	if g, err := guildOf(s, i.GuildID); err == nil {
		if m, err := s.State.Member(i.GuildID, user.ID); err == nil {
			highest = getHighestRole(g, m.Roles)
		}
	}

	return editResponse(s, i, userScanEmbed(user, report, reason, highest, h.now()))
}

func userScanEmbed(user *discordgo.User, r raid.UserReport, protectedReason string, highest *discordgo.Role, now time.Time) *discordgo.MessageEmbed {
	created := util.AccountCreatedAt(user.ID)
	age := "Unknown"
	if !created.IsZero() {
		age = fmt.Sprintf("%d days (<t:%d:D>)", util.AccountAgeDays(created, now), created.Unix())
	}

	protection := "❌ Not protected"
	if protectedReason != "" {
		protection = "🛡️ Protected (" + protectedReason + ")"
	}

	role := "None"
	if highest != nil {
		role = "<@&" + highest.ID + ">"
	}

	name := user.Username
	if name == "" {
		name = user.ID
	}

	return &discordgo.MessageEmbed{
		Title: "🔍 User Scan: " + name,
		Color: notifier.ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			field("User", fmt.Sprintf("<@%s> (`%s`)", user.ID, user.ID), false),
			field("Account Age", age, true),
			field("Bot", fmt.Sprint(user.Bot), true),
			field("Highest Role", role, true),
			field("💬 Messages (1h)", fmt.Sprint(r.Messages), true),
			field("👥 Joins (1h)", fmt.Sprint(r.Joins), true),
			field("Protection", protection, false),
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: notifier.Footer},
		Timestamp: now.Format(time.RFC3339),
	}
}
