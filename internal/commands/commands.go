package commands

import "github.com/bwmarrin/discordgo"

var moderatorPermissions int64 = discordgo.PermissionManageServer

var minLogLimit = 1.0

func boolOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:        name,
		Description: description,
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Required:    required,
	}
}

func channelOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:         name,
		Description:  description,
		Type:         discordgo.ApplicationCommandOptionChannel,
		Required:     true,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
	}
}

func roleSubcommand(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:        name,
		Description: description,
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "role",
				Description: "Role",
				Type:        discordgo.ApplicationCommandOptionRole,
				Required:    true,
			},
		},
	}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Name:        name,
		Description: description,
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Options:     options,
	}
}

// GetAllCommands returns all application commands
func GetAllCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "antivirus",
			Description:              "Manage KCLAntivirus protection",
			DefaultMemberPermissions: &moderatorPermissions,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("status", "Show protection settings and scanner status"),
				subcommand("enable", "Enable KCLAntivirus protection"),
				subcommand("disable", "Disable KCLAntivirus protection"),
				subcommand("autolockdown", "Lock the server down automatically when a raid is detected",
					boolOption("enabled", "Enable automatic lockdown", true)),
				subcommand("logchannel", "Set the security log channel",
					channelOption("channel", "Channel for security alerts")),
				subcommand("scanning", "Choose what gets scanned",
					boolOption("attachments", "Scan file attachments", false),
					boolOption("urls", "Scan links", false)),
				{
					Name:        "protect",
					Description: "Manage roles exempt from scanning and lockdown",
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandOption{
						roleSubcommand("add", "Protect a role"),
						roleSubcommand("remove", "Stop protecting a role"),
						subcommand("list", "List protected roles"),
						subcommand("clear", "Remove every protected role"),
					},
				},
				{
					Name:        "quarantine",
					Description: "Manage the quarantine channel",
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandOption{
						subcommand("set", "Repost removed items here, defanged",
							channelOption("channel", "Quarantine channel")),
						subcommand("remove", "Stop quarantining removed items"),
					},
				},
				subcommand("logs", "Show recent scan logs",
					&discordgo.ApplicationCommandOption{
						Name:        "limit",
						Description: "Number of entries (max 20)",
						Type:        discordgo.ApplicationCommandOptionInteger,
						MinValue:    &minLogLimit,
						MaxValue:    maxLogLimit,
					}),
				subcommand("stats", "Show scan statistics and system health"),
				subcommand("history", "Show recent raid incidents and lockdowns"),
			},
		},
		{
			Name:                     "server-scan",
			Description:              "Scan recent server activity for raid patterns",
			DefaultMemberPermissions: &moderatorPermissions,
		},
		{
			Name:                     "scan-user",
			Description:              "Show a member's recent activity and protection status",
			DefaultMemberPermissions: &moderatorPermissions,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "user",
					Description: "Member to scan",
					Type:        discordgo.ApplicationCommandOptionUser,
					Required:    true,
				},
			},
		},
		{
			Name:                     "lockdown",
			Description:              "Emergency lockdown: remove every unprotected member (owner only)",
			DefaultMemberPermissions: &moderatorPermissions,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "reason",
					Description: "Reason shown to removed members",
					Type:        discordgo.ApplicationCommandOptionString,
					Required:    false,
				},
			},
		},
	}
}
