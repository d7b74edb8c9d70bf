package decision

import "time"

type ThreatLevel uint8

// Ordered by severity; later values win when several items of one message are flagged.
const (
	ThreatClean ThreatLevel = iota
	ThreatPotentiallyHarmful
	ThreatSuspicious
	ThreatMalicious
	ThreatMaliciousDomain
	ThreatDangerousExtension
)

// EngineStats are the per-engine verdict counts reported by the reputation service
type EngineStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout"`
}

func (s EngineStats) Total() int {
	return s.Malicious + s.Suspicious + s.Harmless + s.Undetected + s.Timeout
}

type Thresholds struct {
	Malicious    int
	Suspicious   int
	HarmfulRatio float64
}

func Classify(stats EngineStats, th Thresholds) ThreatLevel {
	switch {
	case stats.Malicious >= th.Malicious:
		return ThreatMalicious
	case stats.Suspicious >= th.Suspicious:
		return ThreatSuspicious
	}

	total := stats.Total()
	if total == 0 {
		return ThreatClean
	}

	ratio := (float64(stats.Malicious) + 0.5*float64(stats.Suspicious)) / float64(total)
	if ratio > th.HarmfulRatio {
		return ThreatPotentiallyHarmful
	}
	return ThreatClean
}

// TimeoutFor scales the configured timeout to the threat level
func TimeoutFor(level ThreatLevel, full time.Duration) time.Duration {
	const day = 24 * time.Hour

	switch level {
	case ThreatMalicious, ThreatMaliciousDomain, ThreatDangerousExtension:
		return full
	case ThreatSuspicious:
		half := full / 2
		if half < day {
			return day
		}
		return half
	case ThreatPotentiallyHarmful:
		return day
	default:
		return 0
	}
}

func (l ThreatLevel) IsThreat() bool {
	return l != ThreatClean
}

func (l ThreatLevel) String() string {
	switch l {
	case ThreatClean:
		return "CLEAN"
	case ThreatPotentiallyHarmful:
		return "POTENTIALLY HARMFUL"
	case ThreatSuspicious:
		return "SUSPICIOUS"
	case ThreatMalicious:
		return "MALICIOUS"
	case ThreatMaliciousDomain:
		return "MALICIOUS DOMAIN"
	case ThreatDangerousExtension:
		return "DANGEROUS FILE TYPE"
	default:
		return "UNKNOWN"
	}
}

func (l ThreatLevel) Emoji() string {
	switch l {
	case ThreatClean:
		return "✅"
	case ThreatMalicious, ThreatMaliciousDomain, ThreatDangerousExtension:
		return "🦠"
	default:
		return "⚠️"
	}
}
