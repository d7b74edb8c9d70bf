package guild

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrForbidden    = errors.New("guild action forbidden")
	ErrNotFound     = errors.New("guild resource not found")
	ErrUnconfigured = errors.New("guild action not configured")
)

// Outcome is the typed result of one best-effort guild action
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	OutcomeSkippedForbidden
	OutcomeSkippedNotFound
	OutcomeSkippedUnconfigured
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkippedForbidden:
		return "skipped_forbidden"
	case OutcomeSkippedNotFound:
		return "skipped_not_found"
	case OutcomeSkippedUnconfigured:
		return "skipped_unconfigured"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (o Outcome) OK() bool {
	return o == OutcomeOK
}

// Skipped reports whether the action was not performed for a known, non-error reason
func (o Outcome) Skipped() bool {
	return o == OutcomeSkippedForbidden || o == OutcomeSkippedNotFound || o == OutcomeSkippedUnconfigured
}

// Classify maps an action error onto an Outcome
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}

	switch {
	case errors.Is(err, ErrForbidden):
		return OutcomeSkippedForbidden
	case errors.Is(err, ErrNotFound):
		return OutcomeSkippedNotFound
	case errors.Is(err, ErrUnconfigured):
		return OutcomeSkippedUnconfigured
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeFailed
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return OutcomeSkippedForbidden
		case http.StatusNotFound:
			return OutcomeSkippedNotFound
		}
	}

	return OutcomeFailed
}
