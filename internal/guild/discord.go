package guild

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

const membersPageSize = 1000

// Discord implements Actions on a discordgo session, serving guild
// metadata from the state cache when it is available.
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if d.session.State != nil {
		if g, err := d.session.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
			return g, nil
		}
	}
	g, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get guild %s: %w", guildID, err)
	}
	return g, nil
}

func (d *Discord) Guild(ctx context.Context, guildID string) (*Info, error) {
	g, err := d.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return &Info{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID, MemberCount: g.MemberCount}, nil
}

func (d *Discord) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	g, err := d.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var m *discordgo.Member
	if d.session.State != nil {
		m, _ = d.session.State.Member(guildID, userID)
	}
	if m == nil {
		m, err = d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to get member %s: %w", userID, err)
		}
	}
	return convertMember(g, m), nil
}

func (d *Discord) Members(ctx context.Context, guildID string) ([]*Member, error) {
	g, err := d.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var members []*Member
	after := ""
	for {
		page, err := d.session.GuildMembers(guildID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list members of %s: %w", guildID, err)
		}
		for _, m := range page {
			members = append(members, convertMember(g, m))
		}
		if len(page) < membersPageSize {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *Discord) Channels(ctx context.Context, guildID string) ([]*Channel, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list channels of %s: %w", guildID, err)
	}

	out := make([]*Channel, 0, len(channels))
	for _, c := range channels {
		out = append(out, &Channel{
			ID:       c.ID,
			Name:     c.Name,
			Text:     c.Type == discordgo.ChannelTypeGuildText,
			Position: c.Position,
		})
	}
	return out, nil
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (d *Discord) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error {
	return d.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx))
}

func (d *Discord) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (d *Discord) SendDirect(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	ch, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = d.session.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) SendChannel(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error) {
	if channelID == "" {
		return "", ErrUnconfigured
	}
	m, err := d.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func convertMember(g *discordgo.Guild, m *discordgo.Member) *Member {
	if m == nil || m.User == nil {
		return &Member{}
	}
	return &Member{
		ID:          m.User.ID,
		Username:    m.User.Username,
		Bot:         m.User.Bot,
		Roles:       m.Roles,
		Permissions: BasePermissions(g.ID, g.OwnerID, m.User.ID, g.Roles, m.Roles),
	}
}
