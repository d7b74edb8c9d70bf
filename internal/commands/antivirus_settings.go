package commands

import (
	"fmt"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/logging"

	"github.com/bwmarrin/discordgo"
)

func (h *Handler) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	settings, err := h.db.GetAntivirusSettings(i.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	roles, err := h.db.GetProtectedRoles(i.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load protected roles: %w", err)
	}

	return respond(s, i, statusEmbed(settings, len(roles), h.engine.Config(), h.engine.Scanner().Available()), false)
}

func statusEmbed(settings *database.AntivirusSettings, protectedRoles int, cfg *config.Config, apiAvailable bool) *discordgo.MessageEmbed {
	api := "✅ Connected"
	if !apiAvailable {
		api = "⚠️ No API key, local filters only"
	}

	embed := infoEmbed("🛡️ KCLAntivirus Status", "Current protection settings for this server.")
	embed.Fields = []*discordgo.MessageEmbedField{
		field("Protection", onOff(settings.Enabled), true),
		field("Auto Lockdown", onOff(settings.AutoLockdown), true),
		field("Log Channel", channelMention(settings.ModLogChannel), true),
		field("Attachment Scanning", onOff(settings.ScanAttachments), true),
		field("URL Scanning", onOff(settings.ScanURLs), true),
		field("Quarantine", channelMention(settings.QuarantineChannel), true),
		field("Protected Roles", fmt.Sprint(protectedRoles), true),
		field("Reputation API", api, true),
		field("Raid Thresholds", fmt.Sprintf("%d joins or %d messages in %s", cfg.Raid.JoinThreshold, cfg.Raid.MessageThreshold, cfg.Raid.Window), false),
		field("Scan Thresholds", fmt.Sprintf("%d+ malicious or %d+ suspicious engines, max file %d MB",
			cfg.Scanner.MaliciousThreshold, cfg.Scanner.SuspiciousThreshold, cfg.Scanner.MaxFileSizeMB), false),
	}
	return embed
}

func (h *Handler) modify(guildID string, fn func(*database.AntivirusSettings)) (*database.AntivirusSettings, error) {
	settings, err := h.db.ModifyAntivirusSettings(guildID, fn)
	if err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}

func (h *Handler) handleSetEnabled(s *discordgo.Session, i *discordgo.InteractionCreate, enabled bool) error {
	if _, err := h.modify(i.GuildID, func(a *database.AntivirusSettings) { a.Enabled = enabled }); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	logging.Info("[COMMANDS] Antivirus %s in guild %s by %s", state, i.GuildID, i.Member.User.ID)

	if enabled {
		return respond(s, i, successEmbed("✅ KCLAntivirus Enabled", "Files and links will now be scanned and raid protection is active."), false)
	}
	return respond(s, i, warningEmbed("⚠️ KCLAntivirus Disabled", "Scanning and raid protection are paused for this server."), false)
}

func (h *Handler) handleAutoLockdown(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	opt, ok := optionMap(opts)["enabled"]
	if !ok {
		return fmt.Errorf("missing option: enabled")
	}
	enabled := opt.BoolValue()

	if _, err := h.modify(i.GuildID, func(a *database.AntivirusSettings) { a.AutoLockdown = enabled }); err != nil {
		return err
	}

	if enabled {
		return respond(s, i, warningEmbed("🔒 Auto Lockdown Enabled", "A detected raid will remove every unprotected member automatically."), false)
	}
	return respond(s, i, successEmbed("🔓 Auto Lockdown Disabled", "Detected raids will raise an alert instead."), false)
}

func (h *Handler) handleLogChannel(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	opt, ok := optionMap(opts)["channel"]
	if !ok {
		return fmt.Errorf("missing option: channel")
	}
	channelID := opt.ChannelValue(nil).ID

	if _, err := h.modify(i.GuildID, func(a *database.AntivirusSettings) { a.ModLogChannel = channelID }); err != nil {
		return err
	}

	test := successEmbed("🧪 Log Channel Test", "KCLAntivirus security alerts will be posted here.")
	if _, err := s.ChannelMessageSendEmbed(channelID, test); err != nil {
		logging.Warn("[COMMANDS] Test embed to %s in guild %s failed: %v", channelID, i.GuildID, err)
		return respond(s, i, warningEmbed("⚠️ Log Channel Set", fmt.Sprintf("Alerts will go to <#%s>, but the test message could not be sent. Check my permissions there.", channelID)), false)
	}
	return respond(s, i, successEmbed("✅ Log Channel Set", fmt.Sprintf("Security alerts will be posted in <#%s>.", channelID)), false)
}

func (h *Handler) handleScanning(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	m := optionMap(opts)
	if len(m) == 0 {
		return fmt.Errorf("choose at least one of attachments or urls")
	}

	settings, err := h.modify(i.GuildID, func(a *database.AntivirusSettings) {
		if opt, ok := m["attachments"]; ok {
			a.ScanAttachments = opt.BoolValue()
		}
		if opt, ok := m["urls"]; ok {
			a.ScanURLs = opt.BoolValue()
		}
	})
	if err != nil {
		return err
	}

	embed := successEmbed("✅ Scanning Updated", "")
	embed.Fields = []*discordgo.MessageEmbedField{
		field("Attachments", onOff(settings.ScanAttachments), true),
		field("URLs", onOff(settings.ScanURLs), true),
	}
	return respond(s, i, embed, false)
}

func (h *Handler) handleQuarantineSet(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	opt, ok := optionMap(opts)["channel"]
	if !ok {
		return fmt.Errorf("missing option: channel")
	}
	channelID := opt.ChannelValue(nil).ID

	if _, err := h.modify(i.GuildID, func(a *database.AntivirusSettings) { a.QuarantineChannel = channelID }); err != nil {
		return err
	}
	return respond(s, i, successEmbed("✅ Quarantine Channel Set", fmt.Sprintf("Removed items will be summarized, defanged, in <#%s>.", channelID)), false)
}

func (h *Handler) handleQuarantineRemove(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if _, err := h.modify(i.GuildID, func(a *database.AntivirusSettings) { a.QuarantineChannel = "" }); err != nil {
		return err
	}
	return respond(s, i, successEmbed("✅ Quarantine Disabled", "Removed items will no longer be reposted."), false)
}
