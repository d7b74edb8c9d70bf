package lockdown

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/guild/guildtest"
)

type roleStore struct {
	roles []string
	err   error
}

func (r roleStore) GetProtectedRoles(guildID string) ([]string, error) {
	return r.roles, r.err
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestExecutor(fake *guildtest.Fake, roles RoleStore) *Executor {
	return NewExecutor(Options{
		Actions:     fake,
		Roles:       roles,
		OperatorIDs: []string{"operator"},
		Config:      config.DefaultConfig().Lockdown,
		Sleep:       noSleep,
	})
}

// guildWith builds a guild of n plain members plus the given extra members
func guildWith(n int, extra ...*guild.Member) *guildtest.Fake {
	fake := guildtest.New("g1", "owner")
	for i := 0; i < n; i++ {
		fake.MemberList = append(fake.MemberList, &guild.Member{ID: fmt.Sprintf("user-%02d", i)})
	}
	fake.MemberList = append(fake.MemberList, extra...)
	fake.ChannelList = []*guild.Channel{
		{ID: "rules", Name: "rules", Text: true, Position: 0},
		{ID: "general", Name: "💬-general", Text: true, Position: 3},
	}
	return fake
}

func TestLockdownExemptionCounts(t *testing.T) {
	fake := guildWith(45,
		&guild.Member{ID: "owner"},
		&guild.Member{ID: "operator"},
		&guild.Member{ID: "admin", Permissions: discordgo.PermissionAdministrator},
		&guild.Member{ID: "mod", Permissions: discordgo.PermissionModerateMembers},
		&guild.Member{ID: "trusted", Roles: []string{"trusted-role"}},
		&guild.Member{ID: "some-bot", Bot: true},
	)
	e := newTestExecutor(fake, roleStore{roles: []string{"trusted-role"}})

	run := e.Execute(context.Background(), Request{GuildID: "g1", Reason: "raid", LogChannel: "modlog"})

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 50, run.Total)
	assert.Equal(t, 45, run.Kicked)
	assert.Equal(t, 5, run.Protected)
	assert.Zero(t, run.Errors)
	assert.Equal(t, 45, run.DMsSent)
	assert.Equal(t, run.Total, run.Kicked+run.Protected+run.Errors)
	assert.NotEmpty(t, run.ID)

	for _, id := range fake.Kicked {
		assert.NotContains(t, []string{"owner", "operator", "admin", "mod", "trusted", "some-bot"}, id)
	}

	logs := fake.PostsTo("modlog")
	require.Len(t, logs, 1)
	assert.Equal(t, "@everyone **LOCKDOWN COMPLETE**", logs[0].Content)
	assert.Len(t, fake.PostsTo("general"), 1)
}

func TestLockdownCountsErrorsAndContinues(t *testing.T) {
	fake := guildWith(12)
	fake.KickErr["user-03"] = guild.ErrForbidden
	fake.KickErr["user-11"] = errors.New("500")
	fake.DMErr["user-00"] = errors.New("dms closed")
	e := newTestExecutor(fake, roleStore{})

	run := e.Execute(context.Background(), Request{GuildID: "g1", Reason: "raid"})

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 10, run.Kicked)
	assert.Equal(t, 2, run.Errors)
	assert.Equal(t, 11, run.DMsSent)
	assert.Equal(t, run.Total, run.Processed())
}

func TestLockdownBatchDelays(t *testing.T) {
	fake := guildWith(25)
	var waits []time.Duration
	e := NewExecutor(Options{
		Actions: fake,
		Roles:   roleStore{},
		Config:  config.DefaultConfig().Lockdown,
		Sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	})

	e.Execute(context.Background(), Request{GuildID: "g1", Reason: "raid"})

	batchWaits, memberWaits := 0, 0
	for _, w := range waits {
		switch w {
		case time.Second:
			batchWaits++
		case 200 * time.Millisecond:
			memberWaits++
		}
	}
	// three batches of 10, 10 and 5 with a pause between consecutive batches
	assert.Equal(t, 2, batchWaits)
	assert.Equal(t, 25, memberWaits)
}

func TestLockdownProgress(t *testing.T) {
	fake := guildWith(45)
	e := newTestExecutor(fake, roleStore{})

	var seen []int
	e.Execute(context.Background(), Request{GuildID: "g1", Reason: "raid", Progress: func(run Run) {
		seen = append(seen, run.Processed())
	}})
	assert.Equal(t, []int{20, 40}, seen)
}

func TestLockdownAbortsOnCancel(t *testing.T) {
	fake := guildWith(30)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	e := NewExecutor(Options{
		Actions: fake,
		Roles:   roleStore{},
		Config:  config.DefaultConfig().Lockdown,
		Sleep: func(c context.Context, d time.Duration) error {
			calls++
			if calls == 5 {
				cancel()
			}
			return c.Err()
		},
	})

	run := e.Execute(ctx, Request{GuildID: "g1", Reason: "raid", LogChannel: "modlog"})

	assert.Equal(t, StatusAborted, run.Status)
	assert.Equal(t, 4, run.Kicked)
	assert.Less(t, run.Processed(), run.Total)
	assert.Equal(t, 4, fake.KickedCount())
	// still reported
	assert.Len(t, fake.PostsTo("modlog"), 1)
}

func TestLockdownFailsWithoutExemptions(t *testing.T) {
	fake := guildWith(5)
	e := newTestExecutor(fake, roleStore{err: errors.New("db locked")})

	run := e.Execute(context.Background(), Request{GuildID: "g1", Reason: "raid"})
	assert.Equal(t, StatusFailed, run.Status)
	assert.Zero(t, fake.KickedCount())
	assert.Contains(t, run.Err, "protected roles")

	fake.MembersErr = errors.New("missing intent")
	e = newTestExecutor(fake, roleStore{})
	run = e.Execute(context.Background(), Request{GuildID: "g1", Reason: "raid"})
	assert.Equal(t, StatusFailed, run.Status)
	assert.Zero(t, fake.KickedCount())
}

func TestLockdownRejectsConcurrentRun(t *testing.T) {
	fake := guildWith(3)
	e := newTestExecutor(fake, roleStore{})
	e.running["g1"] = true

	run := e.Execute(context.Background(), Request{GuildID: "g1", Reason: "raid"})
	assert.Equal(t, StatusFailed, run.Status)
	assert.Zero(t, fake.KickedCount())
	assert.True(t, e.Running("g1"))
}

func TestHistoryNewestFirstAndCapped(t *testing.T) {
	e := newTestExecutor(guildWith(0), roleStore{})
	for i := 0; i < historyLimit+5; i++ {
		e.Execute(context.Background(), Request{GuildID: "g1", Reason: fmt.Sprintf("run %d", i)})
	}

	h := e.History("g1")
	require.Len(t, h, historyLimit)
	assert.Equal(t, fmt.Sprintf("run %d", historyLimit+4), h[0].Reason)
	assert.Empty(t, e.History("other"))
}

func TestAnnouncementChannel(t *testing.T) {
	channels := []*guild.Channel{
		{ID: "voice", Name: "general-voice", Text: false, Position: 0},
		{ID: "rules", Name: "rules", Text: true, Position: 1},
		{ID: "ann", Name: "Announcements", Text: true, Position: 2},
		{ID: "gen", Name: "general-chat", Text: true, Position: 5},
	}
	names := []string{"general", "announcements", "main"}

	assert.Equal(t, "gen", AnnouncementChannel(channels, names))
	assert.Equal(t, "ann", AnnouncementChannel(channels[:3], names))
	assert.Equal(t, "rules", AnnouncementChannel(channels[:2], names))
	assert.Equal(t, "", AnnouncementChannel(channels[:1], names))
}
