// Package guildtest provides an in-memory guild.Actions for tests.
package guildtest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"kcl-antivirus/internal/guild"
)

type Timeout struct {
	GuildID string
	UserID  string
	Until   time.Time
}

type Sent struct {
	Target string
	Msg    *discordgo.MessageSend
}

// Fake records every action. Errors are injected per user, channel or message id.
type Fake struct {
	mu sync.Mutex

	Info        guild.Info
	MemberList  []*guild.Member
	ChannelList []*guild.Channel

	Deleted  []string
	Timeouts []Timeout
	Kicked   []string
	DMs      []Sent
	Posts    []Sent

	DeleteErr  map[string]error
	TimeoutErr map[string]error
	KickErr    map[string]error
	DMErr      map[string]error
	PostErr    map[string]error
	MembersErr error

	deletedSet map[string]bool
	nextID     int
}

func New(guildID, ownerID string) *Fake {
	return &Fake{
		Info:       guild.Info{ID: guildID, Name: "test guild", OwnerID: ownerID},
		DeleteErr:  map[string]error{},
		TimeoutErr: map[string]error{},
		KickErr:    map[string]error{},
		DMErr:      map[string]error{},
		PostErr:    map[string]error{},
		deletedSet: map[string]bool{},
	}
}

func (f *Fake) Guild(ctx context.Context, guildID string) (*guild.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.Info
	info.MemberCount = len(f.MemberList)
	return &info, nil
}

func (f *Fake) Member(ctx context.Context, guildID, userID string) (*guild.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.MemberList {
		if m.ID == userID {
			return m, nil
		}
	}
	return nil, guild.ErrNotFound
}

func (f *Fake) Members(ctx context.Context, guildID string) ([]*guild.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MembersErr != nil {
		return nil, f.MembersErr
	}
	return append([]*guild.Member(nil), f.MemberList...), nil
}

func (f *Fake) Channels(ctx context.Context, guildID string) ([]*guild.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*guild.Channel(nil), f.ChannelList...), nil
}

// DeleteMessage fails with ErrNotFound for a message that was already deleted
func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DeleteErr[messageID]; err != nil {
		return err
	}
	if f.deletedSet[messageID] {
		return guild.ErrNotFound
	}
	f.deletedSet[messageID] = true
	f.Deleted = append(f.Deleted, messageID)
	return nil
}

func (f *Fake) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.TimeoutErr[userID]; err != nil {
		return err
	}
	f.Timeouts = append(f.Timeouts, Timeout{GuildID: guildID, UserID: userID, Until: until})
	return nil
}

func (f *Fake) KickMember(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.KickErr[userID]; err != nil {
		return err
	}
	f.Kicked = append(f.Kicked, userID)
	return nil
}

func (f *Fake) SendDirect(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DMErr[userID]; err != nil {
		return err
	}
	f.DMs = append(f.DMs, Sent{Target: userID, Msg: msg})
	return nil
}

func (f *Fake) SendChannel(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channelID == "" {
		return "", guild.ErrUnconfigured
	}
	if err := f.PostErr[channelID]; err != nil {
		return "", err
	}
	f.nextID++
	f.Posts = append(f.Posts, Sent{Target: channelID, Msg: msg})
	return "msg-" + strconv.Itoa(f.nextID), nil
}

// PostsTo returns the messages posted to channelID
func (f *Fake) PostsTo(channelID string) []*discordgo.MessageSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.MessageSend
	for _, p := range f.Posts {
		if p.Target == channelID {
			out = append(out, p.Msg)
		}
	}
	return out
}

func (f *Fake) KickedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Kicked)
}

func (f *Fake) DMCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.DMs)
}

var _ guild.Actions = (*Fake)(nil)
