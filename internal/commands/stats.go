package commands

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/tracker"
	"kcl-antivirus/internal/watchdog"
	"kcl-antivirus/pkg/util"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	statsRecentScans = 100
	statsWindow      = time.Hour
)

// SystemStats holds host and runtime statistics
type SystemStats struct {
	CPUUsage      float64
	CPUThreads    int
	UsedMemory    uint64
	TotalMemory   uint64
	MemoryPercent float64
	DiskPercent   float64
	Uptime        time.Duration
	GoRoutines    int
	MemAlloc      uint64
}

// ActivityStats is the guild-side half of /antivirus stats
type ActivityStats struct {
	Scans          *database.ScanLogStats
	Joins          int
	Messages       int
	ProtectedRoles int
	APIAvailable   bool
	CachedFiles    int
	CachedURLs     int
	Components     map[string]watchdog.ComponentHealth
}

func (h *Handler) handleStats(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	// Defer response to allow time for gathering stats
	if err := deferResponse(s, i); err != nil {
		return err
	}

	scans, err := h.db.GetScanLogStats(i.GuildID, statsRecentScans)
	if err != nil {
		return fmt.Errorf("failed to load scan statistics: %w", err)
	}
	roles, err := h.db.GetProtectedRoles(i.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load protected roles: %w", err)
	}

	files, urls := h.engine.Scanner().CacheSizes()
	activity := ActivityStats{
		Scans:          scans,
		Joins:          h.engine.Tracker().Count(i.GuildID, tracker.KindJoin, statsWindow),
		Messages:       h.engine.Tracker().Count(i.GuildID, tracker.KindMessage, statsWindow),
		ProtectedRoles: len(roles),
		APIAvailable:   h.engine.Scanner().Available(),
		CachedFiles:    files,
		CachedURLs:     urls,
		Components:     h.engine.Watchdog().GetStatus(),
	}

	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	return editResponse(s, i, statsEmbeds(activity, gatherSystemStats(ctx))...)
}

// gatherSystemStats collects host statistics; unreadable values stay zero
func gatherSystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{CPUThreads: runtime.NumCPU()}

	if pct, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(pct) > 0 {
		stats.CPUUsage = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.UsedMemory = vm.Used
		stats.TotalMemory = vm.Total
		stats.MemoryPercent = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stats.DiskPercent = du.UsedPercent
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		stats.Uptime = time.Duration(up) * time.Second
	}

	stats.GoRoutines = runtime.NumGoroutine()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats.MemAlloc = m.Alloc

	return stats
}

func percentOf(n, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}

func statsEmbeds(a ActivityStats, sys SystemStats) []*discordgo.MessageEmbed {
	scans := a.Scans
	if scans == nil {
		scans = &database.ScanLogStats{}
	}

	api := "✅ Online"
	if !a.APIAvailable {
		api = "⚠️ Offline (local filters only)"
	}

	security := infoEmbed("📊 KCLAntivirus Statistics", fmt.Sprintf("Based on the last %d scans and the last hour of activity.", statsRecentScans))
	security.Fields = []*discordgo.MessageEmbedField{
		field("🔍 Total Scans", fmt.Sprint(scans.Total), true),
		field("🦠 Threats", fmt.Sprintf("%d (%s)", scans.Malicious, percentOf(scans.Malicious, scans.Total)), true),
		field("⚠️ Suspicious", fmt.Sprint(scans.Suspicious), true),
		field("✅ Clean", fmt.Sprint(scans.Clean), true),
		field("❔ Other", fmt.Sprint(scans.Other), true),
		field("🛡️ Protected Roles", fmt.Sprint(a.ProtectedRoles), true),
		field("👥 Joins (1h)", fmt.Sprint(a.Joins), true),
		field("💬 Messages (1h)", fmt.Sprint(a.Messages), true),
		field("🌐 Reputation API", api, true),
		field("🗃️ Verdict Cache", fmt.Sprintf("%d files, %d URLs", a.CachedFiles, a.CachedURLs), true),
		field("🩺 Background Jobs", componentSummary(a.Components), false),
	}

	system := infoEmbed("🖥️ System Health", "")
	system.Fields = []*discordgo.MessageEmbedField{
		field("CPU", fmt.Sprintf("%.1f%% of %d threads", sys.CPUUsage, sys.CPUThreads), true),
		field("Memory", fmt.Sprintf("%s / %s (%.1f%%)", formatBytes(sys.UsedMemory), formatBytes(sys.TotalMemory), sys.MemoryPercent), true),
		field("Disk", fmt.Sprintf("%.1f%%", sys.DiskPercent), true),
		field("Host Uptime", util.FormatDuration(sys.Uptime.Truncate(time.Minute)), true),
		field("Goroutines", fmt.Sprint(sys.GoRoutines), true),
		field("Heap", formatBytes(sys.MemAlloc), true),
	}

	return []*discordgo.MessageEmbed{security, system}
}

func componentSummary(components map[string]watchdog.ComponentHealth) string {
	if len(components) == 0 {
		return "None registered"
	}

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, len(names))
	for n, name := range names {
		icon := "🟢"
		if !components[name].Healthy {
			icon = "🔴"
		}
		lines[n] = icon + " " + name
	}
	return strings.Join(lines, "\n")
}

// formatBytes formats bytes to human-readable format
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
