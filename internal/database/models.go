package database

// AntivirusSettings is the per-guild protection configuration.
// Version increments on every successful update.
type AntivirusSettings struct {
	GuildID           string
	Enabled           bool
	AutoLockdown      bool
	ModLogChannel     string
	ScanAttachments   bool
	ScanURLs          bool
	QuarantineChannel string
	Version           int64
	UpdatedAt         int64
}

// DefaultAntivirusSettings returns the settings a guild starts with
func DefaultAntivirusSettings(guildID string) *AntivirusSettings {
	return &AntivirusSettings{
		GuildID:         guildID,
		Enabled:         true,
		AutoLockdown:    false,
		ScanAttachments: true,
		ScanURLs:        true,
		Version:         1,
	}
}

// ScanLog is an append-only audit record of one completed scan
type ScanLog struct {
	ID              int64
	GuildID         string
	UserID          string
	ItemName        string
	ItemType        string // "file" or "url"
	ThreatLevel     string
	MaliciousCount  int
	SuspiciousCount int
	ActionTaken     string
	Timestamp       int64
}

// ScanLogStats aggregates the most recent scan logs of a guild
type ScanLogStats struct {
	Total      int
	Malicious  int
	Suspicious int
	Clean      int
	Other      int
}

// Warning is a moderation warning recorded against a user
type Warning struct {
	ID          int64
	UserID      string
	GuildID     string
	ModeratorID string
	Reason      string
	Timestamp   int64
}
