package guild

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

type Member struct {
	ID          string
	Username    string
	Bot         bool
	Roles       []string
	Permissions int64
}

type Info struct {
	ID          string
	Name        string
	OwnerID     string
	MemberCount int
}

type Channel struct {
	ID       string
	Name     string
	Text     bool
	Position int
}

// Actions is the guild action surface the subsystem acts through.
// Every call is a fallible remote call; callers classify errors with Classify.
type Actions interface {
	Guild(ctx context.Context, guildID string) (*Info, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	Members(ctx context.Context, guildID string) ([]*Member, error)
	Channels(ctx context.Context, guildID string) ([]*Channel, error)

	DeleteMessage(ctx context.Context, channelID, messageID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error
	KickMember(ctx context.Context, guildID, userID, reason string) error

	SendDirect(ctx context.Context, userID string, msg *discordgo.MessageSend) error
	SendChannel(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error)
}

// SendEmbed posts a single embed to channelID; an empty channel is ErrUnconfigured
func SendEmbed(ctx context.Context, a Actions, channelID string, embed *discordgo.MessageEmbed) error {
	if channelID == "" {
		return ErrUnconfigured
	}
	_, err := a.SendChannel(ctx, channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
	return err
}
