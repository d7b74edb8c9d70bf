package antivirus

import (
	"time"

	"kcl-antivirus/internal/scanner"
)

// Message is a guild message as the subsystem sees it
type Message struct {
	GuildID        string
	GuildName      string
	ChannelID      string
	MessageID      string
	AuthorID       string
	AuthorName     string
	AuthorBot      bool
	AccountCreated time.Time
	Content        string
	Attachments    []scanner.Attachment
	At             time.Time
}

// Join is a member arriving in a guild
type Join struct {
	GuildID        string
	UserID         string
	Username       string
	Bot            bool
	AccountCreated time.Time
	At             time.Time
}
