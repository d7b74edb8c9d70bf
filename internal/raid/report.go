package raid

import (
	"sort"
	"time"

	"kcl-antivirus/internal/tracker"
)

const (
	ReportWindow     = time.Hour
	heavyPosterFloor = 20
	heavyPosterLimit = 5
)

type UserActivity struct {
	UserID   string
	Messages int
}

// ServerReport is the hour-long activity summary behind /server-scan
type ServerReport struct {
	GuildID         string
	Window          time.Duration
	Joins           int
	Messages        int
	UniqueJoiners   int
	UniqueMessagers int
	TopUsers        []UserActivity
	Signal          Signal
}

// UserReport is one member's activity over the report window
type UserReport struct {
	UserID   string
	Window   time.Duration
	Messages int
	Joins    int
}

// BuildServerReport summarizes the last hour. protected filters users out of TopUsers; nil keeps everyone.
func (c *Classifier) BuildServerReport(guildID string, protected func(userID string) bool) ServerReport {
	joins := c.tracker.Stats(guildID, tracker.KindJoin, ReportWindow)
	messages := c.tracker.Stats(guildID, tracker.KindMessage, ReportWindow)

	report := ServerReport{
		GuildID:         guildID,
		Window:          ReportWindow,
		Joins:           joins.Count,
		Messages:        messages.Count,
		UniqueJoiners:   joins.Distinct,
		UniqueMessagers: messages.Distinct,
		Signal:          c.Evaluate(guildID),
	}

	for userID, n := range messages.PerPrincipal {
		if n <= heavyPosterFloor {
			continue
		}
		if protected != nil && protected(userID) {
			continue
		}
		report.TopUsers = append(report.TopUsers, UserActivity{UserID: userID, Messages: n})
	}

	sort.Slice(report.TopUsers, func(i, j int) bool {
		if report.TopUsers[i].Messages != report.TopUsers[j].Messages {
			return report.TopUsers[i].Messages > report.TopUsers[j].Messages
		}
		return report.TopUsers[i].UserID < report.TopUsers[j].UserID
	})
	if len(report.TopUsers) > heavyPosterLimit {
		report.TopUsers = report.TopUsers[:heavyPosterLimit]
	}
	return report
}

func (c *Classifier) BuildUserReport(guildID, userID string) UserReport {
	return UserReport{
		UserID:   userID,
		Window:   ReportWindow,
		Messages: c.tracker.Stats(guildID, tracker.KindMessage, ReportWindow).PerPrincipal[userID],
		Joins:    c.tracker.Stats(guildID, tracker.KindJoin, ReportWindow).PerPrincipal[userID],
	}
}
