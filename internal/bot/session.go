package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"kcl-antivirus/internal/logging"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

type Session struct {
	discord *discordgo.Session
	BotID   string
}

var globalSession *Session

// Initialize creates the global Discord session without connecting it
func Initialize(token string) error {
	s, err := NewSession(token)
	if err != nil {
		return err
	}
	globalSession = s
	return nil
}

func NewSession(token string) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	dg.Identify.Intents = intents
	dg.State.TrackMembers = true

	return &Session{discord: dg}, nil
}

// GetSession returns the global Discord session
func GetSession() *Session {
	return globalSession
}

// GetDiscord returns the underlying discordgo session
func (s *Session) GetDiscord() *discordgo.Session {
	return s.discord
}

// Connect opens the gateway connection
func (s *Session) Connect() error {
	if err := s.discord.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	if s.discord.State.User != nil {
		s.BotID = s.discord.State.User.ID
		logging.Info("Bot ID: %s", s.BotID)
	}

	logging.Info("Discord bot connected successfully")
	return nil
}

func (s *Session) Close() error {
	if s.discord != nil {
		return s.discord.Close()
	}
	return nil
}

// RegisterCommands overwrites the global slash commands in one call
func (s *Session) RegisterCommands(appID string, commands []*discordgo.ApplicationCommand) error {
	if appID == "" && s.discord.State.User != nil {
		appID = s.discord.State.User.ID
	}
	logging.Info("Registering %d slash commands...", len(commands))

	registered, err := s.discord.ApplicationCommandBulkOverwrite(appID, "", commands)
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	for _, cmd := range registered {
		logging.Info("Registered command: /%s", cmd.Name)
	}
	return nil
}

func (s *Session) AddHandler(handler interface{}) func() {
	return s.discord.AddHandler(handler)
}

// GuildIDs returns the guilds in the session state
func (s *Session) GuildIDs() []string {
	s.discord.State.RLock()
	defer s.discord.State.RUnlock()

	ids := make([]string, 0, len(s.discord.State.Guilds))
	for _, g := range s.discord.State.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}

// SyncGuilds makes sure every guild the bot is in has a settings row
func (s *Session) SyncGuilds(db interface {
	EnsureGuildSettings(guildIDs []string) error
}) {
	logging.Info("Syncing guild settings...")
	if err := db.EnsureGuildSettings(s.GuildIDs()); err != nil {
		logging.Warn("Failed to sync guild settings: %v", err)
		return
	}
	logging.Info("Guild sync completed")
}
