package commands

import (
	"fmt"
	"time"

	"kcl-antivirus/internal/lockdown"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"

	"github.com/bwmarrin/discordgo"
)

const (
	lockdownConfirmID = "lockdown_confirm"
	lockdownCancelID  = "lockdown_cancel"

	// pendingTTL bounds how long a confirmation button stays valid
	pendingTTL = 2 * time.Minute
)

type pendingLockdown struct {
	reason string
	at     time.Time
}

func pendingKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func (h *Handler) handleLockdown(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	owner, err := checkOwnerOnly(s, i)
	if err != nil {
		return err
	}
	if !owner {
		respondPermissionError(s, i, "Only the **server owner** can execute an emergency lockdown.")
		return nil
	}
	if h.engine.Lockdown().Running(i.GuildID) {
		respondError(s, i, "A lockdown is already running in this server")
		return nil
	}

	reason := "Manual lockdown by " + i.Member.User.Username
	if opt, ok := optionMap(opts)["reason"]; ok && opt.StringValue() != "" {
		reason = opt.StringValue()
	}

	h.mu.Lock()
	h.pending[pendingKey(i.GuildID, i.Member.User.ID)] = pendingLockdown{reason: reason, at: h.now()}
	h.mu.Unlock()

	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{lockdownConfirmEmbed(reason)},
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label:    "🔒 Confirm Lockdown",
							Style:    discordgo.DangerButton,
							CustomID: lockdownConfirmID,
						},
						discordgo.Button{
							Label:    "Cancel",
							Style:    discordgo.SecondaryButton,
							CustomID: lockdownCancelID,
						},
					},
				},
			},
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

func lockdownConfirmEmbed(reason string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "⚠️ Confirm Emergency Lockdown",
		Description: "This will **remove every member** who is not the owner, an administrator, a moderator or in a protected role. Removed members receive a DM explaining why.",
		Color:       notifier.ColorError,
		Fields: []*discordgo.MessageEmbedField{
			field("Reason", reason, false),
			field("Expires", fmt.Sprintf("This confirmation expires in %s.", pendingTTL), false),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: notifier.Footer},
	}
}

// takePending removes and returns the caller's pending lockdown, if still fresh
func (h *Handler) takePending(guildID, userID string) (pendingLockdown, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := pendingKey(guildID, userID)
	p, ok := h.pending[key]
	delete(h.pending, key)
	if !ok || h.now().Sub(p.at) > pendingTTL {
		return pendingLockdown{}, false
	}
	return p, true
}

func updateMessage(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: []discordgo.MessageComponent{},
		},
	})
}

func (h *Handler) handleLockdownConfirm(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	owner, err := checkOwnerOnly(s, i)
	if err != nil {
		return err
	}
	if !owner {
		respondPermissionError(s, i, "Only the **server owner** can execute an emergency lockdown.")
		return nil
	}

	pending, ok := h.takePending(i.GuildID, i.Member.User.ID)
	if !ok {
		return updateMessage(s, i, warningEmbed("⌛ Confirmation Expired", "Run `/lockdown` again to start a new confirmation."))
	}

	if err := updateMessage(s, i, notifier.LockdownProgress(0, 0, 0, 0)); err != nil {
		return err
	}

	logChannel := ""
	if settings, err := h.db.GetAntivirusSettings(i.GuildID); err != nil {
		logging.Warn("[COMMANDS] Could not load log channel for lockdown in guild %s: %v", i.GuildID, err)
	} else {
		logChannel = settings.ModLogChannel
	}

	logging.Critical("[COMMANDS] Manual lockdown confirmed in guild %s by %s: %s", i.GuildID, i.Member.User.ID, pending.reason)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		run := h.engine.Lockdown().Execute(h.ctx, lockdown.Request{
			GuildID:    i.GuildID,
			Reason:     pending.reason,
			LogChannel: logChannel,
			Progress: func(run lockdown.Run) {
				if err := editResponse(s, i, notifier.LockdownProgress(run.Processed(), run.Total, run.Kicked, run.Protected)); err != nil {
					logging.Debug("[COMMANDS] Lockdown progress edit failed: %v", err)
				}
			},
		})

		if err := editResponse(s, i, lockdownResultEmbed(run)); err != nil {
			logging.Warn("[COMMANDS] Could not report lockdown %s result: %v", run.ID, err)
		}
	}()
	return nil
}

func (h *Handler) handleLockdownCancel(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	h.takePending(i.GuildID, i.Member.User.ID)
	return updateMessage(s, i, successEmbed("✅ Lockdown Cancelled", "No members were removed."))
}

func lockdownResultEmbed(run lockdown.Run) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "🔒 Lockdown Complete",
		Color: notifier.ColorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			field("Reason", run.Reason, false),
			field("Kicked", fmt.Sprint(run.Kicked), true),
			field("Protected", fmt.Sprint(run.Protected), true),
			field("Errors", fmt.Sprint(run.Errors), true),
			field("DMs Sent", fmt.Sprint(run.DMsSent), true),
			field("Processed", fmt.Sprintf("%d/%d", run.Processed(), run.Total), true),
			field("Run ID", "`"+run.ID+"`", true),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: notifier.Footer},
	}
	if !run.FinishedAt.IsZero() {
		embed.Timestamp = run.FinishedAt.Format(time.RFC3339)
	}

	switch run.Status {
	case lockdown.StatusAborted:
		embed.Title = "⏹️ Lockdown Aborted"
		embed.Color = notifier.ColorWarning
	case lockdown.StatusFailed:
		embed.Title = "❌ Lockdown Failed"
		embed.Color = notifier.ColorError
	}
	if run.Err != "" {
		embed.Fields = append(embed.Fields, field("Error", run.Err, false))
	}
	return embed
}
