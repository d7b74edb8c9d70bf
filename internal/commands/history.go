package commands

import (
	"fmt"

	"kcl-antivirus/internal/lockdown"
	"kcl-antivirus/internal/raid"

	"github.com/bwmarrin/discordgo"
)

const historyShown = 10

func (h *Handler) handleHistory(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	incidents := h.engine.Protector().History(i.GuildID)
	runs := h.engine.Lockdown().History(i.GuildID)
	return respond(s, i, historyEmbed(incidents, runs), true)
}

func historyEmbed(incidents []raid.Incident, runs []lockdown.Run) *discordgo.MessageEmbed {
	embed := infoEmbed("📜 Raid History", "Recent raid incidents and lockdowns since the bot started.")
	if len(incidents) == 0 && len(runs) == 0 {
		embed.Description = "No raid incidents or lockdowns since the bot started."
		return embed
	}

	for n, inc := range incidents {
		if n == historyShown {
			break
		}
		value := fmt.Sprintf("Action: %s\n%d joins, %d messages, score %.2f\n<t:%d:R>",
			inc.Action, inc.Joins, inc.Messages, inc.Score, inc.At.Unix())
		if inc.LockdownRunID != "" {
			value += fmt.Sprintf("\nLockdown: `%s`", inc.LockdownRunID)
		}
		embed.Fields = append(embed.Fields, field("🚨 "+inc.Level.String()+" incident", value, false))
	}

	for n, run := range runs {
		if n == historyShown {
			break
		}
		value := fmt.Sprintf("Reason: %s\n%d kicked, %d protected, %d errors, %d DMs\n<t:%d:R>",
			run.Reason, run.Kicked, run.Protected, run.Errors, run.DMsSent, run.StartedAt.Unix())
		if run.Err != "" {
			value += "\nError: " + run.Err
		}
		embed.Fields = append(embed.Fields, field(fmt.Sprintf("🔒 Lockdown %s (%s)", shortID(run.ID), run.Status), value, false))
	}
	return embed
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
