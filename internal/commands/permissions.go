package commands

import (
	"fmt"
	"time"

	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"

	"github.com/bwmarrin/discordgo"
)

const moderatorMask = discordgo.PermissionAdministrator | discordgo.PermissionManageServer

func isModerator(perms int64) bool {
	return perms&moderatorMask != 0
}

func guildOf(s *discordgo.Session, guildID string) (*discordgo.Guild, error) {
	g, err := s.State.Guild(guildID)
	if err != nil {
		g, err = s.Guild(guildID)
		if err != nil {
			return nil, fmt.Errorf("failed to get guild: %w", err)
		}
	}
	return g, nil
}

// checkPermissions checks if the user has permission to run the command
// Returns true if:
// 1. User is the server owner, OR
// 2. User has Administrator or Manage Server
func checkPermissions(s *discordgo.Session, i *discordgo.InteractionCreate) (bool, error) {
	g, err := guildOf(s, i.GuildID)
	if err != nil {
		return false, err
	}

	if i.Member.User.ID == g.OwnerID {
		return true, nil
	}

	// Interaction payloads carry the member's resolved permissions
	if i.Member.Permissions != 0 {
		return isModerator(i.Member.Permissions), nil
	}

	perms := guild.BasePermissions(g.ID, g.OwnerID, i.Member.User.ID, g.Roles, i.Member.Roles)
	return isModerator(perms), nil
}

// checkOwnerOnly checks if the user is the server owner
func checkOwnerOnly(s *discordgo.Session, i *discordgo.InteractionCreate) (bool, error) {
	g, err := guildOf(s, i.GuildID)
	if err != nil {
		return false, err
	}

	return i.Member.User.ID == g.OwnerID, nil
}

// getHighestRole returns the highest role the member holds, or nil
func getHighestRole(g *discordgo.Guild, roleIDs []string) *discordgo.Role {
	return guild.HighestRole(g.Roles, roleIDs)
}

func (h *Handler) requireModerator(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	ok, err := checkPermissions(s, i)
	if err != nil {
		logging.Warn("Permission check failed for %s in guild %s: %v", i.Member.User.ID, i.GuildID, err)
	}
	if !ok {
		respondPermissionError(s, i, "You need the **Manage Server** or **Administrator** permission to use this command.")
	}
	return ok
}

// respondPermissionError sends a permission denied error response
func respondPermissionError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	embed := &discordgo.MessageEmbed{
		Title:       "Access Denied",
		Description: message,
		Color:       notifier.ColorError,
		Footer: &discordgo.MessageEmbedFooter{
			Text: notifier.Footer,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}
