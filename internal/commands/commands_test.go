package commands

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/lockdown"
	"kcl-antivirus/internal/raid"
	"kcl-antivirus/internal/watchdog"
)

func fieldValue(embed *discordgo.MessageEmbed, name string) (string, bool) {
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func TestGetAllCommands(t *testing.T) {
	names := map[string]*discordgo.ApplicationCommand{}
	for _, cmd := range GetAllCommands() {
		names[cmd.Name] = cmd
		require.NotNil(t, cmd.DefaultMemberPermissions, cmd.Name)
	}
	assert.Len(t, names, 4)
	for _, n := range []string{"antivirus", "server-scan", "scan-user", "lockdown"} {
		assert.Contains(t, names, n)
	}

	var subs []string
	for _, opt := range names["antivirus"].Options {
		subs = append(subs, opt.Name)
	}
	assert.ElementsMatch(t, []string{
		"status", "enable", "disable", "autolockdown", "logchannel", "scanning",
		"protect", "quarantine", "logs", "stats", "history",
	}, subs)
}

func TestSubcommandPath(t *testing.T) {
	limit := &discordgo.ApplicationCommandInteractionDataOption{Name: "limit", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(5)}
	path, opts := subcommandPath([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "logs", Type: discordgo.ApplicationCommandOptionSubCommand, Options: []*discordgo.ApplicationCommandInteractionDataOption{limit}},
	})
	assert.Equal(t, []string{"logs"}, path)
	assert.Equal(t, []*discordgo.ApplicationCommandInteractionDataOption{limit}, opts)

	role := &discordgo.ApplicationCommandInteractionDataOption{Name: "role", Type: discordgo.ApplicationCommandOptionRole, Value: "r1"}
	path, opts = subcommandPath([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "protect", Type: discordgo.ApplicationCommandOptionSubCommandGroup, Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "add", Type: discordgo.ApplicationCommandOptionSubCommand, Options: []*discordgo.ApplicationCommandInteractionDataOption{role}},
		}},
	})
	assert.Equal(t, []string{"protect", "add"}, path)
	require.Len(t, opts, 1)
	assert.Equal(t, "r1", opts[0].RoleValue(nil, "g1").ID)

	path, opts = subcommandPath(nil)
	assert.Empty(t, path)
	assert.Empty(t, opts)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLogLimit, clampLimit(0))
	assert.Equal(t, defaultLogLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxLogLimit, clampLimit(500))
}

func TestIsModerator(t *testing.T) {
	assert.True(t, isModerator(discordgo.PermissionAdministrator))
	assert.True(t, isModerator(discordgo.PermissionManageServer|discordgo.PermissionSendMessages))
	assert.False(t, isModerator(discordgo.PermissionManageMessages))
	assert.False(t, isModerator(0))
}

func TestLogsEmbed(t *testing.T) {
	empty := logsEmbed(nil)
	assert.Contains(t, empty.Description, "No scans")
	assert.Empty(t, empty.Fields)

	embed := logsEmbed([]*database.ScanLog{
		{UserID: "u1", ItemName: "run.exe", ItemType: "file", ThreatLevel: "DANGEROUS FILE TYPE", ActionTaken: "Message deleted", Timestamp: 1700000000},
		{UserID: "u2", ItemName: "https://example.com", ItemType: "url", ThreatLevel: "CLEAN", ActionTaken: "No action needed", Timestamp: 1700000100},
	})
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "🦠 run.exe", embed.Fields[0].Name)
	assert.Contains(t, embed.Fields[0].Value, "<@u1>")
	assert.Contains(t, embed.Fields[0].Value, "<t:1700000000:R>")
	assert.Equal(t, "✅ https://example.com", embed.Fields[1].Name)
}

func TestStatsEmbeds(t *testing.T) {
	embeds := statsEmbeds(ActivityStats{
		Scans:          &database.ScanLogStats{Total: 8, Malicious: 2, Suspicious: 1, Clean: 5},
		Joins:          3,
		Messages:       40,
		ProtectedRoles: 2,
		Components: map[string]watchdog.ComponentHealth{
			"tracker_sweep": {Name: "tracker_sweep", Healthy: true},
			"maintenance":   {Name: "maintenance", Healthy: false},
		},
	}, SystemStats{CPUUsage: 12.5, CPUThreads: 4, UsedMemory: 2048, TotalMemory: 4096, MemoryPercent: 50, Uptime: 90 * time.Minute})
	require.Len(t, embeds, 2)

	v, ok := fieldValue(embeds[0], "🦠 Threats")
	require.True(t, ok)
	assert.Equal(t, "2 (25.0%)", v)

	v, _ = fieldValue(embeds[0], "🌐 Reputation API")
	assert.Contains(t, v, "Offline")

	v, _ = fieldValue(embeds[0], "🩺 Background Jobs")
	assert.Equal(t, "🔴 maintenance\n🟢 tracker_sweep", v)

	v, _ = fieldValue(embeds[1], "Memory")
	assert.Equal(t, "2.00 KB / 4.00 KB (50.0%)", v)
}

func TestStatsEmbedsWithoutScans(t *testing.T) {
	embeds := statsEmbeds(ActivityStats{APIAvailable: true}, SystemStats{})
	v, _ := fieldValue(embeds[0], "🦠 Threats")
	assert.Equal(t, "0 (0%)", v)
	v, _ = fieldValue(embeds[0], "🩺 Background Jobs")
	assert.Equal(t, "None registered", v)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.50 KB", formatBytes(1536))
	assert.Equal(t, "1.00 GB", formatBytes(1<<30))
}

func TestHistoryEmbed(t *testing.T) {
	assert.Contains(t, historyEmbed(nil, nil).Description, "No raid incidents")

	at := time.Unix(1700000000, 0)
	embed := historyEmbed(
		[]raid.Incident{{Level: raid.LevelRaid, Action: raid.ActionLockdown, Joins: 12, Score: 0.7, At: at, LockdownRunID: "run-1"}},
		[]lockdown.Run{{ID: "0123456789abcdef", Reason: "raid", Kicked: 5, Status: lockdown.StatusCompleted, StartedAt: at}},
	)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "🚨 raid incident", embed.Fields[0].Name)
	assert.Contains(t, embed.Fields[0].Value, "Lockdown: `run-1`")
	assert.Equal(t, "🔒 Lockdown 01234567 (completed)", embed.Fields[1].Name)
}

func TestServerScanEmbed(t *testing.T) {
	embed := serverScanEmbed(raid.ServerReport{
		Joins:         12,
		UniqueJoiners: 12,
		Messages:      60,
		TopUsers:      []raid.UserActivity{{UserID: "u1", Messages: 30}, {UserID: "u2", Messages: 25}},
		Signal:        raid.Signal{Level: raid.LevelRaid, Score: 0.7, Factors: []string{"join_burst"}},
	})
	assert.Contains(t, embed.Description, "Raid pattern")

	v, ok := fieldValue(embed, "🔥 Most Active (unprotected)")
	require.True(t, ok)
	assert.Equal(t, "1. <@u1>: 30 messages\n2. <@u2>: 25 messages", v)

	v, _ = fieldValue(embed, "Contributing Factors")
	assert.Equal(t, "join_burst", v)

	quiet := serverScanEmbed(raid.ServerReport{})
	_, ok = fieldValue(quiet, "🔥 Most Active (unprotected)")
	assert.False(t, ok)
	v, _ = fieldValue(quiet, "Contributing Factors")
	assert.Equal(t, "None", v)
}

func TestUserScanEmbed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	user := &discordgo.User{ID: "175928847299117063", Username: "alice"}

	embed := userScanEmbed(user, raid.UserReport{Messages: 4, Joins: 1}, "protected role", &discordgo.Role{ID: "r1"}, now)
	assert.Equal(t, "🔍 User Scan: alice", embed.Title)
	v, _ := fieldValue(embed, "Protection")
	assert.Equal(t, "🛡️ Protected (protected role)", v)
	v, _ = fieldValue(embed, "Highest Role")
	assert.Equal(t, "<@&r1>", v)
	v, _ = fieldValue(embed, "Account Age")
	assert.Contains(t, v, "days")

	bare := userScanEmbed(&discordgo.User{ID: "not-a-snowflake"}, raid.UserReport{}, "", nil, now)
	v, _ = fieldValue(bare, "Account Age")
	assert.Equal(t, "Unknown", v)
	v, _ = fieldValue(bare, "Protection")
	assert.Equal(t, "❌ Not protected", v)
}

func TestLockdownResultEmbed(t *testing.T) {
	done := lockdownResultEmbed(lockdown.Run{ID: "r", Kicked: 3, Protected: 1, Total: 4, Status: lockdown.StatusCompleted})
	assert.Equal(t, "🔒 Lockdown Complete", done.Title)
	v, _ := fieldValue(done, "Processed")
	assert.Equal(t, "4/4", v)

	aborted := lockdownResultEmbed(lockdown.Run{Status: lockdown.StatusAborted, Err: "context canceled"})
	assert.Equal(t, "⏹️ Lockdown Aborted", aborted.Title)
	v, _ = fieldValue(aborted, "Error")
	assert.Equal(t, "context canceled", v)

	failed := lockdownResultEmbed(lockdown.Run{Status: lockdown.StatusFailed})
	assert.Equal(t, "❌ Lockdown Failed", failed.Title)
}

func TestTakePending(t *testing.T) {
	now := time.Unix(1000, 0)
	h := &Handler{pending: make(map[string]pendingLockdown), now: func() time.Time { return now }}

	h.pending[pendingKey("g1", "owner")] = pendingLockdown{reason: "raid", at: now}
	p, ok := h.takePending("g1", "owner")
	require.True(t, ok)
	assert.Equal(t, "raid", p.reason)

	_, ok = h.takePending("g1", "owner")
	assert.False(t, ok, "a confirmation is single use")

	h.pending[pendingKey("g1", "owner")] = pendingLockdown{reason: "old", at: now.Add(-pendingTTL - time.Second)}
	_, ok = h.takePending("g1", "owner")
	assert.False(t, ok, "stale confirmations expire")
}

func TestProtectedRolesEmbed(t *testing.T) {
	assert.Contains(t, protectedRolesEmbed(nil).Description, "No roles")

	embed := protectedRolesEmbed([]string{"r1", "r2"})
	assert.Equal(t, "• <@&r1>\n• <@&r2>", embed.Description)
	v, _ := fieldValue(embed, "Total")
	assert.Equal(t, "2", v)
}
