package bot

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 175928847299117063 is the snowflake from Discord's documentation, created 2016-04-30
const docSnowflake = "175928847299117063"

func TestMessageFromDiscord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   "hello @everyone",
		Timestamp: at,
		Author:    &discordgo.User{ID: docSnowflake, Username: "alice"},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "setup.exe", ContentType: "application/octet-stream", Size: 2048, URL: "https://cdn/a1"},
		},
	}

	msg := MessageFromDiscord(m, "guild")
	assert.Equal(t, "g1", msg.GuildID)
	assert.Equal(t, "guild", msg.GuildName)
	assert.Equal(t, "alice", msg.AuthorName)
	assert.Equal(t, at, msg.At)
	assert.Equal(t, 2016, msg.AccountCreated.Year())
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, int64(2048), msg.Attachments[0].Size)
	assert.Equal(t, "setup.exe", msg.Attachments[0].Filename)
}

func TestJoinFromDiscord(t *testing.T) {
	j := JoinFromDiscord(&discordgo.Member{
		GuildID: "g1",
		User:    &discordgo.User{ID: docSnowflake, Username: "bob", Bot: true},
	})
	assert.Equal(t, "g1", j.GuildID)
	assert.True(t, j.Bot)
	assert.Equal(t, 2016, j.AccountCreated.Year())
}
