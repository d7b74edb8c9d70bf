package commands

import (
	"fmt"
	"strings"

	"kcl-antivirus/internal/logging"

	"github.com/bwmarrin/discordgo"
)

func roleOption(guildID string, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	opt, ok := optionMap(opts)["role"]
	if !ok {
		return "", fmt.Errorf("missing option: role")
	}
	return opt.RoleValue(nil, guildID).ID, nil
}

func (h *Handler) handleProtectAdd(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	roleID, err := roleOption(i.GuildID, opts)
	if err != nil {
		return err
	}

	added, err := h.db.AddProtectedRole(i.GuildID, roleID)
	if err != nil {
		return fmt.Errorf("failed to protect role: %w", err)
	}
	if !added {
		return respond(s, i, warningEmbed("⚠️ Already Protected", fmt.Sprintf("<@&%s> is already protected.", roleID)), true)
	}

	logging.Info("[COMMANDS] Role %s protected in guild %s by %s", roleID, i.GuildID, i.Member.User.ID)
	return respond(s, i, successEmbed("🛡️ Role Protected", fmt.Sprintf("Members with <@&%s> are exempt from scanning and lockdown.", roleID)), false)
}

func (h *Handler) handleProtectRemove(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	roleID, err := roleOption(i.GuildID, opts)
	if err != nil {
		return err
	}

	removed, err := h.db.RemoveProtectedRole(i.GuildID, roleID)
	if err != nil {
		return fmt.Errorf("failed to unprotect role: %w", err)
	}
	if !removed {
		return respond(s, i, warningEmbed("⚠️ Not Protected", fmt.Sprintf("<@&%s> was not a protected role.", roleID)), true)
	}

	logging.Info("[COMMANDS] Role %s unprotected in guild %s by %s", roleID, i.GuildID, i.Member.User.ID)
	return respond(s, i, successEmbed("✅ Protection Removed", fmt.Sprintf("<@&%s> is no longer protected.", roleID)), false)
}

func (h *Handler) handleProtectList(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	roles, err := h.db.GetProtectedRoles(i.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load protected roles: %w", err)
	}
	return respond(s, i, protectedRolesEmbed(roles), true)
}

func protectedRolesEmbed(roles []string) *discordgo.MessageEmbed {
	if len(roles) == 0 {
		return infoEmbed("🛡️ Protected Roles", "No roles are protected. Owners, administrators and moderators are always exempt.")
	}

	mentions := make([]string, len(roles))
	for n, id := range roles {
		mentions[n] = fmt.Sprintf("• <@&%s>", id)
	}
	embed := infoEmbed("🛡️ Protected Roles", strings.Join(mentions, "\n"))
	embed.Fields = []*discordgo.MessageEmbedField{field("Total", fmt.Sprint(len(roles)), true)}
	return embed
}

func (h *Handler) handleProtectClear(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	n, err := h.db.ClearProtectedRoles(i.GuildID)
	if err != nil {
		return fmt.Errorf("failed to clear protected roles: %w", err)
	}

	logging.Info("[COMMANDS] %d protected roles cleared in guild %s by %s", n, i.GuildID, i.Member.User.ID)
	return respond(s, i, successEmbed("🧹 Protected Roles Cleared", fmt.Sprintf("Removed %d protected role(s).", n)), false)
}
