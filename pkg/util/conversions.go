package util

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Uint64ToString converts uint64 to string
func Uint64ToString(n uint64) string {
	return strconv.FormatUint(n, 10)
}

// StringToUint64 converts string to uint64
func StringToUint64(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse uint64: %w", err)
	}
	return n, nil
}

// IsSnowflake reports whether s looks like a Discord ID
func IsSnowflake(s string) bool {
	if len(s) < 15 || len(s) > 20 {
		return false
	}
	_, err := StringToUint64(s)
	return err == nil
}

// AccountCreatedAt derives the creation time encoded in a user snowflake.
// Returns the zero time for malformed IDs.
func AccountCreatedAt(userID string) time.Time {
	ts, err := discordgo.SnowflakeTimestamp(userID)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// AccountAgeDays returns whole days between created and now
func AccountAgeDays(created, now time.Time) int {
	if created.IsZero() {
		return 0
	}
	return int(now.Sub(created).Hours() / 24)
}

// Truncate cuts s to at most n runes, for embed field limits
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// FormatDuration renders whole days as "N day(s)" and anything else as time.Duration does
func FormatDuration(d time.Duration) string {
	const day = 24 * time.Hour
	if d >= day && d%day == 0 {
		n := int(d / day)
		if n == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", n)
	}
	return d.String()
}
