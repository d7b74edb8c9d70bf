package database

import (
	"fmt"

	"kcl-antivirus/internal/logging"
)

// EnsureGuildSettings creates default settings rows for guilds the bot is in
func (d *Database) EnsureGuildSettings(guildIDs []string) error {
	created := 0
	for _, guildID := range guildIDs {
		def := DefaultAntivirusSettings(guildID)
		res, err := d.db.Exec(
			`INSERT OR IGNORE INTO antivirus_settings (guild_id, enabled, auto_lockdown, scan_attachments, scan_urls, version)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			def.GuildID, def.Enabled, def.AutoLockdown, def.ScanAttachments, def.ScanURLs, def.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to ensure settings for guild %s: %w", guildID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}

	if created > 0 {
		logging.Info("Created default antivirus settings for %d guild(s)", created)
	}
	return nil
}

// ListEnabledGuilds returns guild IDs with protection enabled
func (d *Database) ListEnabledGuilds() ([]string, error) {
	rows, err := d.db.Query(`SELECT guild_id FROM antivirus_settings WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query guild settings: %w", err)
	}
	defer rows.Close()

	var guildIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		guildIDs = append(guildIDs, id)
	}
	return guildIDs, rows.Err()
}
