package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"kcl-antivirus/internal/antivirus"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/scanner"
)

// A message may need a download plus several analysis polls
const eventTimeout = 5 * time.Minute

// Subsystem receives gateway events
type Subsystem interface {
	HandleMessage(ctx context.Context, msg antivirus.Message)
	HandleJoin(ctx context.Context, j antivirus.Join)
	SetBotUserID(id string)
}

// SetupEventHandlers adapts gateway events into the subsystem. discordgo runs
// each handler in its own goroutine, so a slow scan never blocks the gateway.
func (s *Session) SetupEventHandlers(sub Subsystem, db interface {
	EnsureGuildSettings(guildIDs []string) error
}) {
	logging.Info("Setting up Discord event handlers...")

	s.discord.AddHandler(func(sess *discordgo.Session, r *discordgo.Ready) {
		logging.Info("Bot ready! Connected as %s to %d guild(s)", r.User.Username, len(r.Guilds))
		sub.SetBotUserID(r.User.ID)
	})

	s.discord.AddHandler(func(sess *discordgo.Session, g *discordgo.GuildCreate) {
		logging.Info("Bot joined/loaded guild: %s (ID: %s)", g.Name, g.ID)
		if err := db.EnsureGuildSettings([]string{g.ID}); err != nil {
			logging.Warn("Failed to ensure settings for guild %s: %v", g.ID, err)
		}
	})

	s.discord.AddHandler(func(sess *discordgo.Session, m *discordgo.MessageCreate) {
		if m.GuildID == "" || m.Author == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		sub.HandleMessage(ctx, MessageFromDiscord(m.Message, guildName(sess, m.GuildID)))
	})

	s.discord.AddHandler(func(sess *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.Member == nil || m.User == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		sub.HandleJoin(ctx, JoinFromDiscord(m.Member))
	})

	logging.Info("Event handlers configured")
}

func guildName(sess *discordgo.Session, guildID string) string {
	if sess.State == nil {
		return ""
	}
	if g, err := sess.State.Guild(guildID); err == nil {
		return g.Name
	}
	return ""
}

func MessageFromDiscord(m *discordgo.Message, guildName string) antivirus.Message {
	msg := antivirus.Message{
		GuildID:   m.GuildID,
		GuildName: guildName,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		At:        m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorBot = m.Author.Bot
		if ts, err := discordgo.SnowflakeTimestamp(m.Author.ID); err == nil {
			msg.AccountCreated = ts
		}
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, scanner.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(a.Size),
			URL:         a.URL,
		})
	}
	return msg
}

func JoinFromDiscord(m *discordgo.Member) antivirus.Join {
	j := antivirus.Join{
		GuildID:  m.GuildID,
		UserID:   m.User.ID,
		Username: m.User.Username,
		Bot:      m.User.Bot,
		At:       m.JoinedAt,
	}
	if ts, err := discordgo.SnowflakeTimestamp(m.User.ID); err == nil {
		j.AccountCreated = ts
	}
	return j
}
