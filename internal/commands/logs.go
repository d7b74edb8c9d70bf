package commands

import (
	"fmt"
	"strings"

	"kcl-antivirus/internal/database"
	"kcl-antivirus/pkg/util"

	"github.com/bwmarrin/discordgo"
)

const (
	defaultLogLimit = 10
	maxLogLimit     = 20
)

func clampLimit(v int64) int {
	switch {
	case v <= 0:
		return defaultLogLimit
	case v > maxLogLimit:
		return maxLogLimit
	}
	return int(v)
}

func (h *Handler) handleLogs(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	var limit int64
	if opt, ok := optionMap(opts)["limit"]; ok {
		limit = opt.IntValue()
	}

	logs, err := h.db.GetScanLogs(i.GuildID, clampLimit(limit))
	if err != nil {
		return fmt.Errorf("failed to load scan logs: %w", err)
	}
	return respond(s, i, logsEmbed(logs), true)
}

func threatIcon(level string) string {
	switch strings.ToUpper(level) {
	case "MALICIOUS", "DANGEROUS FILE TYPE", "MALICIOUS DOMAIN":
		return "🦠"
	case "SUSPICIOUS", "POTENTIALLY HARMFUL":
		return "⚠️"
	case "CLEAN":
		return "✅"
	}
	return "❔"
}

func logsEmbed(logs []*database.ScanLog) *discordgo.MessageEmbed {
	if len(logs) == 0 {
		return infoEmbed("📋 Scan Logs", "No scans have been logged in this server yet.")
	}

	embed := infoEmbed("📋 Scan Logs", fmt.Sprintf("Showing the %d most recent scan(s).", len(logs)))
	for _, l := range logs {
		value := fmt.Sprintf("User: <@%s>\nType: %s\nVerdict: %s (%d malicious, %d suspicious)\nAction: %s\n<t:%d:R>",
			l.UserID, l.ItemType, l.ThreatLevel, l.MaliciousCount, l.SuspiciousCount, l.ActionTaken, l.Timestamp)
		embed.Fields = append(embed.Fields, field(threatIcon(l.ThreatLevel)+" "+util.Truncate(l.ItemName, 200), value, false))
	}
	return embed
}
