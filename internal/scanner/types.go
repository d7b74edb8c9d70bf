package scanner

import (
	"context"
	"time"

	"kcl-antivirus/internal/decision"
)

type Kind uint8

const (
	KindFile Kind = iota
	KindURL
)

func (k Kind) String() string {
	if k == KindURL {
		return "url"
	}
	return "file"
}

type Status uint8

const (
	// StatusVerdict carries a classified Verdict
	StatusVerdict Status = iota
	// StatusInconclusive means no verdict could be obtained; it is never clean
	StatusInconclusive
	// StatusUnscannable is an oversized file, allowed through
	StatusUnscannable
	// StatusSkipped means reputation lookups are unavailable (no API key)
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusVerdict:
		return "verdict"
	case StatusInconclusive:
		return "inconclusive"
	case StatusUnscannable:
		return "unscannable"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

type Source string

const (
	SourceReputation Source = "reputation"
	SourceExtension  Source = "extension"
	SourceDomain     Source = "domain"
)

type Verdict struct {
	Subject   string
	Kind      Kind
	Stats     decision.EngineStats
	Level     decision.ThreatLevel
	Source    Source
	ScannedAt time.Time
}

type Result struct {
	Status  Status
	Verdict *Verdict
	Cached  bool
	Reason  string
}

// Level returns the threat level of a verdict, or Clean for verdict-less results
func (r Result) Level() decision.ThreatLevel {
	if r.Status != StatusVerdict || r.Verdict == nil {
		return decision.ThreatClean
	}
	return r.Verdict.Level
}

// Label is the audit-log threat level of the result
func (r Result) Label() string {
	switch r.Status {
	case StatusVerdict:
		return r.Level().String()
	case StatusUnscannable:
		return "UNSCANNABLE"
	case StatusSkipped:
		return "NOT SCANNED"
	default:
		return "INCONCLUSIVE"
	}
}

func (r Result) IsThreat() bool {
	return r.Level().IsThreat()
}

// Service is the external reputation API
type Service interface {
	FileReport(ctx context.Context, sha256 string) (decision.EngineStats, error)
	SubmitFile(ctx context.Context, filename string, content []byte) (string, error)
	URLReport(ctx context.Context, rawURL string) (decision.EngineStats, error)
	SubmitURL(ctx context.Context, rawURL string) (string, error)
	Analysis(ctx context.Context, analysisID string) (decision.EngineStats, bool, error)
}

// Fetcher downloads attachment content
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	URL         string
}
