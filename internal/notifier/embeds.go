package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"kcl-antivirus/internal/decision"
	"kcl-antivirus/pkg/util"
)

const (
	ColorPrimary = 0x5865F2
	ColorSuccess = 0x57F287
	ColorWarning = 0xFEE75C
	ColorError   = 0xED4245
	ColorInfo    = 0x5865F2

	Footer = "KCLAntivirus Advanced Protection System"
)

var sensitiveWords = []string{"password", "token", "key"}

// Threat describes one flagged item for the threat embeds
type Threat struct {
	GuildName      string
	UserID         string
	Username       string
	ChannelID      string
	ItemName       string
	Level          decision.ThreatLevel
	Malicious      int
	Suspicious     int
	Details        string
	Content        string
	AccountCreated time.Time
	Timeout        time.Duration
}

type Raid struct {
	Joins        int
	Messages     int
	Score        float64
	Window       time.Duration
	AutoLockdown bool
}

type Lockdown struct {
	RunID     string
	Reason    string
	Kicked    int
	Protected int
	Errors    int
	DMsSent   int
	Processed int
	Remaining int
	Aborted   bool
	At        time.Time
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

func userField(userID, username string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: "User", Value: fmt.Sprintf("%s (%s)", username, userID), Inline: true}
}

func channelField(channelID string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: "Channel", Value: "<#" + channelID + ">", Inline: true}
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "-"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func days(d time.Duration) int {
	n := int(d / (24 * time.Hour))
	if n < 1 {
		return 1
	}
	return n
}

func ThreatDM(t Threat) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "🚨 KCLAntivirus Security Alert",
		Description: fmt.Sprintf("Your message in **%s** was removed due to %s content detection.", t.GuildName, strings.ToLower(t.Level.String())),
		Color:       ColorError,
		Fields: []*discordgo.MessageEmbedField{
			field("Item Detected", t.ItemName, true),
			field("Threat Level", t.Level.String(), true),
			field("Detection Count", fmt.Sprintf("%d malicious, %d suspicious", t.Malicious, t.Suspicious), true),
			field("Actions Taken", fmt.Sprintf("• Message deleted immediately\n• %d day timeout applied\n• Warning added to your record\n• Incident logged for review", days(t.Timeout)), false),
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: Footer},
		Timestamp: now(),
	}

	if t.Details != "" {
		embed.Fields = append(embed.Fields, field("Technical Details", util.Truncate(t.Details, 1000), false))
	}

	embed.Fields = append(embed.Fields,
		field("What This Means", "Our security system detected potentially harmful content in your message. This is an automated response to protect the server.", false),
		field("If You Believe This Is An Error", "Contact the server moderators with details about what you were trying to share. False positives can occur with legitimate files.", false),
	)
	return embed
}

// ThreatLog is the moderator summary; message content is omitted when it looks like it carries secrets
func ThreatLog(t Threat, logID int64, actions string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "🦠 KCLAntivirus Threat Detected",
		Color: ColorError,
		Fields: []*discordgo.MessageEmbedField{
			userField(t.UserID, t.Username),
			channelField(t.ChannelID),
			field("Threat Level", t.Level.String(), true),
			field("Item", util.Truncate(t.ItemName, 200), true),
			field("Detection", fmt.Sprintf("%d malicious, %d suspicious", t.Malicious, t.Suspicious), true),
		},
		Timestamp: now(),
	}

	if logID > 0 {
		embed.Fields = append(embed.Fields, field("Log ID", fmt.Sprintf("#%d", logID), true))
	}
	if t.Details != "" {
		embed.Fields = append(embed.Fields, field("Details", util.Truncate(t.Details, 1000), false))
	}
	embed.Fields = append(embed.Fields, field("Action Taken", actions, false))

	if t.Content != "" && !containsAny(strings.ToLower(t.Content), sensitiveWords) {
		embed.Fields = append(embed.Fields, field("Message Content", util.Truncate(t.Content, 500), false))
	}

	if !t.AccountCreated.IsZero() {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "User Account Created: " + t.AccountCreated.UTC().Format("2006-01-02")}
	}
	return embed
}

// Quarantine is a defanged record of a removed item: no file, no clickable link
func Quarantine(t Threat) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🧪 Quarantined Item",
		Description: fmt.Sprintf("`%s`", Defang(util.Truncate(t.ItemName, 300))),
		Color:       ColorWarning,
		Fields: []*discordgo.MessageEmbedField{
			userField(t.UserID, t.Username),
			channelField(t.ChannelID),
			field("Threat Level", t.Level.String(), true),
			field("Detection", fmt.Sprintf("%d malicious, %d suspicious", t.Malicious, t.Suspicious), true),
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: Footer},
		Timestamp: now(),
	}
}

// Defang breaks URLs so clients do not render them as links
func Defang(s string) string {
	r := strings.NewReplacer("http://", "hxxp://", "https://", "hxxps://", ".", "[.]")
	return r.Replace(s)
}

func LargeFile(userID, username, channelID, filename, contentType string, size int64) *discordgo.MessageEmbed {
	if contentType == "" {
		contentType = "Unknown"
	}
	return &discordgo.MessageEmbed{
		Title:       "⚠️ Large File Detected",
		Description: fmt.Sprintf("File too large to scan: **%s**", filename),
		Color:       ColorWarning,
		Fields: []*discordgo.MessageEmbedField{
			userField(userID, username),
			channelField(channelID),
			field("File Size", fmt.Sprintf("%.1f MB", float64(size)/(1024*1024)), true),
			field("Content Type", contentType, true),
			field("Action", "File allowed (too large to scan)", true),
		},
		Timestamp: now(),
	}
}

func ScanError(userID, username, item, reason string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "⚠️ Scan Error",
		Description: fmt.Sprintf("Error scanning %s", util.Truncate(item, 200)),
		Color:       ColorWarning,
		Fields: []*discordgo.MessageEmbedField{
			userField(userID, username),
			field("Item", util.Truncate(item, 200), true),
			field("Error", util.Truncate(reason, 500), false),
		},
		Timestamp: now(),
	}
}

func SuspiciousPattern(userID, username, channelID, pattern, content string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "⚠️ Suspicious Pattern Detected",
		Description: fmt.Sprintf("Message contains suspicious pattern: `%s`", pattern),
		Color:       ColorWarning,
		Fields: []*discordgo.MessageEmbedField{
			userField(userID, username),
			channelField(channelID),
			field("Message", util.Truncate(content, 500), false),
			field("Action", "Flagged for review", true),
		},
		Timestamp: now(),
	}
}

func HighThreatScore(userID, username, channelID string, score float64, reason, content string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "🔍 Suspicious Activity Detected",
		Description: fmt.Sprintf("High threat score detected: %.2f", score),
		Color:       ColorWarning,
		Fields: []*discordgo.MessageEmbedField{
			userField(userID, username),
			channelField(channelID),
			field("Threat Score", fmt.Sprintf("%.2f/1.0", score), true),
		},
		Timestamp: now(),
	}
	if reason != "" {
		embed.Fields = append(embed.Fields, field("Reason", reason, false))
	}
	embed.Fields = append(embed.Fields,
		field("Message", util.Truncate(content, 500), false),
		field("Action", "Flagged for review (no action taken)", true),
	)
	return embed
}

func NewAccount(userID, username string, ageDays int, created time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "👶 New Account Joined",
		Description: fmt.Sprintf("Account less than %d days old joined", ageDays+1),
		Color:       ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			userField(userID, username),
			field("Account Age", fmt.Sprintf("%d days", ageDays), true),
			field("Created", created.UTC().Format("2006-01-02 15:04"), true),
		},
		Timestamp: now(),
	}
}

func SecurityHealth(messages int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "📊 Security Health Alert",
		Description: "Sustained high message activity detected.",
		Color:       ColorWarning,
		Fields: []*discordgo.MessageEmbedField{
			field("Messages (1h)", fmt.Sprint(messages), true),
			field("Recommendation", "Monitor for coordinated activity", true),
		},
		Timestamp: now(),
	}
}

func RaidAlert(r Raid) *discordgo.MessageEmbed {
	confidence := "MEDIUM"
	if r.Score > 0.8 {
		confidence = "HIGH"
	}
	autoLockdown := "Disabled"
	if r.AutoLockdown {
		autoLockdown = "Enabled"
	}

	return &discordgo.MessageEmbed{
		Title:       "🚨 RAID DETECTED - IMMEDIATE ACTION REQUIRED",
		Description: "Advanced raid detection system has identified a coordinated attack!",
		Color:       ColorError,
		Fields: []*discordgo.MessageEmbedField{
			field("Recent Joins", fmt.Sprint(r.Joins), true),
			field("Recent Messages", fmt.Sprint(r.Messages), true),
			field("Raid Score", fmt.Sprintf("%.2f/1.0", r.Score), true),
			field("Time Window", fmt.Sprintf("%ds", int(r.Window.Seconds())), true),
			field("Auto-Lockdown", autoLockdown, true),
			field("Confidence", confidence, true),
			field("🚨 IMMEDIATE ACTIONS AVAILABLE", "• `/lockdown` - Emergency lockdown\n• `/server-scan` - Detailed analysis\n• `/antivirus autolockdown enabled:True` - Enable auto-lockdown", false),
			field("⚠️ THREAT ASSESSMENT", "This appears to be a coordinated attack. Consider immediate lockdown if activity continues.", false),
		},
		Timestamp: now(),
	}
}

func SuspiciousActivity(r Raid) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "⚠️ Suspicious Activity Detected",
		Description: "Unusual activity patterns detected - monitoring for potential raid",
		Color:       ColorWarning,
		Fields: []*discordgo.MessageEmbedField{
			field("Recent Joins", fmt.Sprint(r.Joins), true),
			field("Recent Messages", fmt.Sprint(r.Messages), true),
			field("Suspicion Score", fmt.Sprintf("%.2f/1.0", r.Score), true),
			field("Status", "Monitoring", true),
			field("Action", "No immediate action required", true),
		},
		Timestamp: now(),
	}
}

func LockdownDM(guildName, reason string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🔒 Emergency Server Lockdown - KCLAntivirus",
		Description: fmt.Sprintf("**%s** has been placed under emergency security lockdown.", guildName),
		Color:       ColorError,
		Fields: []*discordgo.MessageEmbedField{
			field("🚨 What Happened?", "Our advanced security system detected a coordinated attack or security breach targeting the server.", false),
			field("📋 Lockdown Reason", reason, false),
			field("⚡ Your Status", "You have been temporarily removed from the server as a security precaution. This is **not** because you did anything wrong.", false),
			field("🔄 What's Next?", "• The server is now secure\n• You can rejoin once the situation is resolved\n• Server moderators will announce when it's safe to return", false),
			field("❓ Questions?", "Contact the server moderators if you have any questions about this security action.", false),
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: Footer + " - This is an automated security response"},
		Timestamp: now(),
	}
}

func LockdownProgress(processed, total, kicked, protected int) *discordgo.MessageEmbed {
	desc := fmt.Sprintf("Processing %d members...", total)
	if processed > 0 {
		desc = fmt.Sprintf("Processed %d/%d members... (%d kicked, %d protected)", processed, total, kicked, protected)
	}
	return &discordgo.MessageEmbed{
		Title:       "🔒 Lockdown Progress",
		Description: desc,
		Color:       ColorWarning,
	}
}

func successRate(l Lockdown) string {
	if l.Kicked+l.Errors == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(l.Kicked)/float64(l.Kicked+l.Errors)*100)
}

func LockdownLog(l Lockdown) *discordgo.MessageEmbed {
	status := "SECURED - Threat neutralized"
	if l.Aborted {
		status = "ABORTED - Lockdown stopped before completion"
	}

	embed := &discordgo.MessageEmbed{
		Title:       "🔒 ADVANCED SERVER LOCKDOWN EXECUTED",
		Description: "KCLAntivirus Advanced has executed an emergency server lockdown with detailed tracking.",
		Color:       ColorError,
		Fields: []*discordgo.MessageEmbedField{
			field("📋 Lockdown Reason", l.Reason, false),
			field("👥 Users Kicked", fmt.Sprint(l.Kicked), true),
			field("🛡️ Users Protected", fmt.Sprint(l.Protected), true),
			field("⚠️ Errors", fmt.Sprint(l.Errors), true),
			field("📨 DMs Sent", fmt.Sprint(l.DMsSent), true),
			field("📊 Total Processed", fmt.Sprint(l.Processed), true),
			field("🏆 Success Rate", successRate(l), true),
			field("🔒 Server Status", status, false),
			field("📈 Remaining Members", fmt.Sprint(l.Remaining), true),
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "All affected users received explanatory DMs where possible"},
		Timestamp: l.At.Format(time.RFC3339),
	}
	if l.RunID != "" {
		embed.Fields = append(embed.Fields, field("Run ID", "`"+l.RunID+"`", true))
	}
	return embed
}

func LockdownAnnouncement(l Lockdown) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🔒 EMERGENCY LOCKDOWN COMPLETE",
		Description: "The server has been secured following a detected security threat.",
		Color:       ColorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			field("🛡️ Security Status", "**SECURED** - Threat neutralized", false),
			field("📊 Lockdown Results", fmt.Sprintf("• %d users temporarily removed\n• %d staff members retained\n• %d users notified via DM", l.Kicked, l.Protected, l.DMsSent), false),
			field("⚡ What Happened?", "Our advanced security system detected suspicious activity and executed an emergency lockdown to protect the server.", false),
			field("🔄 Current Status", "• Server is now secure\n• Normal operations resuming\n• Affected users can rejoin when ready", false),
			field("❓ Questions?", "Contact server moderators if you have any concerns about this security action.", false),
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: Footer},
		Timestamp: now(),
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
