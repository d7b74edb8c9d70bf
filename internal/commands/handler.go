package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kcl-antivirus/internal/antivirus"
	"kcl-antivirus/internal/bot"
	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/decision"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/notifier"

	"github.com/bwmarrin/discordgo"
)

const (
	actionUserScan   = "user_scan"
	actionServerScan = "server_scan"
)

// Handler manages all command interactions
type Handler struct {
	ctx        context.Context
	session    *bot.Session
	engine     *antivirus.Engine
	db         *database.Database
	userScan   *decision.CooldownManager
	serverScan *decision.CooldownManager
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]pendingLockdown
	wg      sync.WaitGroup
}

var globalHandler *Handler

// NewHandler builds a handler; ctx bounds lockdowns started from commands
func NewHandler(ctx context.Context, session *bot.Session, engine *antivirus.Engine, db *database.Database) *Handler {
	cfg := engine.Config().Commands
	return &Handler{
		ctx:        ctx,
		session:    session,
		engine:     engine,
		db:         db,
		userScan:   decision.NewCooldownManager(cfg.UserScanCooldown),
		serverScan: decision.NewCooldownManager(cfg.ServerScanCooldown),
		now:        time.Now,
		pending:    make(map[string]pendingLockdown),
	}
}

// Initialize creates the command handler and registers all commands
func Initialize(ctx context.Context, session *bot.Session, engine *antivirus.Engine, db *database.Database, appID string) (*Handler, error) {
	h := NewHandler(ctx, session, engine, db)

	session.AddHandler(h.handleInteraction)

	commands := GetAllCommands()
	if err := session.RegisterCommands(appID, commands); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	globalHandler = h
	logging.Info("Command handler initialized with %d commands", len(commands))
	return h, nil
}

// GetHandler returns the global command handler
func GetHandler() *Handler {
	return globalHandler
}

// ApplyConfig picks up new scan cooldowns
func (h *Handler) ApplyConfig(cfg *config.Config) {
	h.userScan.SetDuration(cfg.Commands.UserScanCooldown)
	h.serverScan.SetDuration(cfg.Commands.ServerScanCooldown)
}

// Wait blocks until lockdowns started from commands have finished
func (h *Handler) Wait() {
	h.wg.Wait()
}

// handleInteraction routes all interactions (commands, buttons)
func (h *Handler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		respondError(s, i, "This command can only be used in a server")
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		h.handleComponent(s, i)
	}
}

// handleCommand routes slash commands to their handlers
func (h *Handler) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	var err error
	switch data.Name {
	case "antivirus":
		err = h.handleAntivirus(s, i, data.Options)
	case "server-scan":
		err = h.handleServerScan(s, i)
	case "scan-user":
		err = h.handleScanUser(s, i, data)
	case "lockdown":
		err = h.handleLockdown(s, i, data.Options)
	default:
		err = fmt.Errorf("unknown command: %s", data.Name)
	}

	if err != nil {
		logging.Error("Command error [%s]: %v", data.Name, err)
		respondError(s, i, err.Error())
	}
}

func (h *Handler) handleAntivirus(s *discordgo.Session, i *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	if !h.requireModerator(s, i) {
		return nil
	}

	path, opts := subcommandPath(options)
	switch strings.Join(path, " ") {
	case "status":
		return h.handleStatus(s, i)
	case "enable":
		return h.handleSetEnabled(s, i, true)
	case "disable":
		return h.handleSetEnabled(s, i, false)
	case "autolockdown":
		return h.handleAutoLockdown(s, i, opts)
	case "logchannel":
		return h.handleLogChannel(s, i, opts)
	case "scanning":
		return h.handleScanning(s, i, opts)
	case "protect add":
		return h.handleProtectAdd(s, i, opts)
	case "protect remove":
		return h.handleProtectRemove(s, i, opts)
	case "protect list":
		return h.handleProtectList(s, i)
	case "protect clear":
		return h.handleProtectClear(s, i)
	case "quarantine set":
		return h.handleQuarantineSet(s, i, opts)
	case "quarantine remove":
		return h.handleQuarantineRemove(s, i)
	case "logs":
		return h.handleLogs(s, i, opts)
	case "stats":
		return h.handleStats(s, i)
	case "history":
		return h.handleHistory(s, i)
	}
	return fmt.Errorf("unknown subcommand: %s", strings.Join(path, " "))
}

// handleComponent routes component interactions (buttons)
func (h *Handler) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()

	var err error
	switch data.CustomID {
	case lockdownConfirmID:
		err = h.handleLockdownConfirm(s, i)
	case lockdownCancelID:
		err = h.handleLockdownCancel(s, i)
	default:
		err = fmt.Errorf("unknown component: %s", data.CustomID)
	}

	if err != nil {
		logging.Error("Component error [%s]: %v", data.CustomID, err)
		respondError(s, i, err.Error())
	}
}

// subcommandPath walks nested subcommand groups and returns their names plus the leaf options
func subcommandPath(options []*discordgo.ApplicationCommandInteractionDataOption) ([]string, []*discordgo.ApplicationCommandInteractionDataOption) {
	var path []string
	for len(options) > 0 {
		opt := options[0]
		if opt.Type != discordgo.ApplicationCommandOptionSubCommand && opt.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		path = append(path, opt.Name)
		options = opt.Options
	}
	return path, options
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, embeds ...*discordgo.MessageEmbed) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &embeds,
	})
	return err
}

// respondError sends an ephemeral error message, as a followup when the interaction was already acknowledged
func respondError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	content := fmt.Sprintf("❌ Error: %s", message)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err == nil {
		return
	}

	if _, ferr := s.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); ferr != nil {
		logging.Warn("Failed to deliver error response: %v", ferr)
	}
}

func successEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       notifier.ColorSuccess,
		Footer:      &discordgo.MessageEmbedFooter{Text: notifier.Footer},
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func warningEmbed(title, description string) *discordgo.MessageEmbed {
	embed := successEmbed(title, description)
	embed.Color = notifier.ColorWarning
	return embed
}

func infoEmbed(title, description string) *discordgo.MessageEmbed {
	embed := successEmbed(title, description)
	embed.Color = notifier.ColorInfo
	return embed
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func onOff(b bool) string {
	if b {
		return "✅ Enabled"
	}
	return "❌ Disabled"
}

func channelMention(id string) string {
	if id == "" {
		return "Not set"
	}
	return "<#" + id + ">"
}
