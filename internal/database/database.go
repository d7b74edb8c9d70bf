package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSettingsConflict is returned when settings changed since they were read
var ErrSettingsConflict = errors.New("antivirus settings were modified concurrently")

type Database struct {
	db *sql.DB
}

var globalDB *Database

// Open creates the SQLite database at dbPath and applies the schema
func Open(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	d := &Database{db: db}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return d, nil
}

// Initialize opens the database and installs it as the global instance
func Initialize(dbPath string) error {
	d, err := Open(dbPath)
	if err != nil {
		return err
	}
	globalDB = d
	return nil
}

// GetDB returns the global database instance
func GetDB() *Database {
	return globalDB
}

// IsConnected checks if database connection is alive
func IsConnected() bool {
	if globalDB == nil || globalDB.db == nil {
		return false
	}
	return globalDB.db.Ping() == nil
}

// Close closes the global database connection
func Close() error {
	if globalDB != nil {
		return globalDB.Close()
	}
	return nil
}

func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *Database) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS antivirus_settings (
		guild_id TEXT PRIMARY KEY,
		enabled INTEGER DEFAULT 1,
		auto_lockdown INTEGER DEFAULT 0,
		mod_log_channel TEXT DEFAULT '',
		scan_attachments INTEGER DEFAULT 1,
		scan_urls INTEGER DEFAULT 1,
		quarantine_channel TEXT DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS antivirus_protected_roles (
		guild_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		PRIMARY KEY (guild_id, role_id)
	);

	CREATE TABLE IF NOT EXISTS antivirus_scan_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		item_type TEXT NOT NULL,
		threat_level TEXT NOT NULL,
		malicious_count INTEGER DEFAULT 0,
		suspicious_count INTEGER DEFAULT 0,
		action_taken TEXT DEFAULT '',
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scan_logs_guild ON antivirus_scan_logs(guild_id, timestamp);

	CREATE TABLE IF NOT EXISTS warnings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		moderator_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_warnings_member ON warnings(guild_id, user_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// GetAntivirusSettings retrieves guild settings, creating the default row when absent
func (d *Database) GetAntivirusSettings(guildID string) (*AntivirusSettings, error) {
	var s AntivirusSettings
	err := d.db.QueryRow(
		`SELECT guild_id, enabled, auto_lockdown, mod_log_channel, scan_attachments, scan_urls,
		        quarantine_channel, version, updated_at
		 FROM antivirus_settings WHERE guild_id = ?`,
		guildID,
	).Scan(&s.GuildID, &s.Enabled, &s.AutoLockdown, &s.ModLogChannel, &s.ScanAttachments, &s.ScanURLs,
		&s.QuarantineChannel, &s.Version, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		def := DefaultAntivirusSettings(guildID)
		def.UpdatedAt = time.Now().Unix()
		if err := d.insertDefaultSettings(def); err != nil {
			return nil, err
		}
		return def, nil
	}

	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (d *Database) insertDefaultSettings(s *AntivirusSettings) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO antivirus_settings
		 (guild_id, enabled, auto_lockdown, mod_log_channel, scan_attachments, scan_urls, quarantine_channel, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.GuildID, s.Enabled, s.AutoLockdown, s.ModLogChannel, s.ScanAttachments, s.ScanURLs,
		s.QuarantineChannel, s.Version, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create default settings: %w", err)
	}
	return nil
}

// UpdateAntivirusSettings writes s if nobody updated the row since s was read.
// On success s.Version is advanced; otherwise ErrSettingsConflict is returned.
func (d *Database) UpdateAntivirusSettings(s *AntivirusSettings) error {
	now := time.Now().Unix()

	res, err := d.db.Exec(
		`UPDATE antivirus_settings SET
		 enabled = ?, auto_lockdown = ?, mod_log_channel = ?, scan_attachments = ?, scan_urls = ?,
		 quarantine_channel = ?, version = version + 1, updated_at = ?
		 WHERE guild_id = ? AND version = ?`,
		s.Enabled, s.AutoLockdown, s.ModLogChannel, s.ScanAttachments, s.ScanURLs,
		s.QuarantineChannel, now, s.GuildID, s.Version,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSettingsConflict
	}

	s.Version++
	s.UpdatedAt = now
	return nil
}

// ModifyAntivirusSettings applies fn to a fresh read and saves, retrying once on conflict
func (d *Database) ModifyAntivirusSettings(guildID string, fn func(*AntivirusSettings)) (*AntivirusSettings, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		s, err := d.GetAntivirusSettings(guildID)
		if err != nil {
			return nil, err
		}

		fn(s)

		lastErr = d.UpdateAntivirusSettings(s)
		if lastErr == nil {
			return s, nil
		}
		if !errors.Is(lastErr, ErrSettingsConflict) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// AddProtectedRole returns false when the role was already protected
func (d *Database) AddProtectedRole(guildID, roleID string) (bool, error) {
	res, err := d.db.Exec(
		`INSERT OR IGNORE INTO antivirus_protected_roles (guild_id, role_id) VALUES (?, ?)`,
		guildID, roleID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveProtectedRole returns false when the role was not protected
func (d *Database) RemoveProtectedRole(guildID, roleID string) (bool, error) {
	res, err := d.db.Exec(
		`DELETE FROM antivirus_protected_roles WHERE guild_id = ? AND role_id = ?`,
		guildID, roleID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (d *Database) GetProtectedRoles(guildID string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT role_id FROM antivirus_protected_roles WHERE guild_id = ? ORDER BY role_id`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		roles = append(roles, roleID)
	}
	return roles, rows.Err()
}

// ClearProtectedRoles returns how many roles were removed
func (d *Database) ClearProtectedRoles(guildID string) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM antivirus_protected_roles WHERE guild_id = ?`, guildID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddScanLog appends an audit entry and returns its id
func (d *Database) AddScanLog(entry *ScanLog) (int64, error) {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	res, err := d.db.Exec(
		`INSERT INTO antivirus_scan_logs
		 (guild_id, user_id, item_name, item_type, threat_level, malicious_count, suspicious_count, action_taken, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.GuildID, entry.UserID, entry.ItemName, entry.ItemType, entry.ThreatLevel,
		entry.MaliciousCount, entry.SuspiciousCount, entry.ActionTaken, entry.Timestamp,
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	entry.ID = id
	return id, nil
}

// GetScanLogs returns the newest limit entries of a guild
func (d *Database) GetScanLogs(guildID string, limit int) ([]*ScanLog, error) {
	rows, err := d.db.Query(
		`SELECT id, guild_id, user_id, item_name, item_type, threat_level, malicious_count,
		        suspicious_count, action_taken, timestamp
		 FROM antivirus_scan_logs
		 WHERE guild_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		guildID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ScanLog
	for rows.Next() {
		var l ScanLog
		if err := rows.Scan(&l.ID, &l.GuildID, &l.UserID, &l.ItemName, &l.ItemType, &l.ThreatLevel,
			&l.MaliciousCount, &l.SuspiciousCount, &l.ActionTaken, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// GetScanLogStats counts threat levels over the newest recent entries
func (d *Database) GetScanLogStats(guildID string, recent int) (*ScanLogStats, error) {
	rows, err := d.db.Query(
		`SELECT threat_level, COUNT(*) FROM (
			SELECT threat_level FROM antivirus_scan_logs
			WHERE guild_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		 ) GROUP BY threat_level`,
		guildID, recent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &ScanLogStats{}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch level {
		case "MALICIOUS", "DANGEROUS FILE TYPE", "MALICIOUS DOMAIN":
			stats.Malicious += n
		case "SUSPICIOUS", "POTENTIALLY HARMFUL":
			stats.Suspicious += n
		case "CLEAN":
			stats.Clean += n
		default:
			stats.Other += n
		}
	}
	return stats, rows.Err()
}

// AddWarning records a warning and returns its id
func (d *Database) AddWarning(w *Warning) (int64, error) {
	if w.Timestamp == 0 {
		w.Timestamp = time.Now().Unix()
	}

	res, err := d.db.Exec(
		`INSERT INTO warnings (user_id, guild_id, moderator_id, reason, timestamp) VALUES (?, ?, ?, ?, ?)`,
		w.UserID, w.GuildID, w.ModeratorID, w.Reason, w.Timestamp,
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	w.ID = id
	return id, nil
}

func (d *Database) GetWarnings(guildID, userID string) ([]*Warning, error) {
	rows, err := d.db.Query(
		`SELECT id, user_id, guild_id, moderator_id, reason, timestamp
		 FROM warnings WHERE guild_id = ? AND user_id = ?
		 ORDER BY timestamp DESC, id DESC`,
		guildID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warnings []*Warning
	for rows.Next() {
		var w Warning
		if err := rows.Scan(&w.ID, &w.UserID, &w.GuildID, &w.ModeratorID, &w.Reason, &w.Timestamp); err != nil {
			return nil, err
		}
		warnings = append(warnings, &w)
	}
	return warnings, rows.Err()
}
