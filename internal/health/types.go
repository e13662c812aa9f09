package health

import "time"

// TrackingSample holds the fields recovered from `chronyc tracking`.
// A nil field means the line was absent or did not parse.
type TrackingSample struct {
	LeapStatus    *string
	Stratum       *int
	LastOffsetSec *float64
}

// SourcesSummary is the digest of a `chronyc sources -n` report.
type SourcesSummary struct {
	HasSelectedSource  bool
	SelectedSourceLine *string
	TotalSources       int
}

// FixStatus summarizes a stream of receiver fix reports.
type FixStatus struct {
	HasFix          bool
	LastMode        *int // 0 unknown, 1 no fix, 2 2D, 3 3D
	TPVMessageCount int
	Summary         string
}

// Fix modes reported by gpsd TPV records and NMEA GSA sentences.
const (
	ModeUnknown = 0
	ModeNoFix   = 1
	Mode2D      = 2
	Mode3D      = 3
)

// ModeName returns the human label used in fix summaries.
func ModeName(mode int) string {
	switch mode {
	case ModeUnknown:
		return "Unknown"
	case ModeNoFix:
		return "No fix"
	case Mode2D:
		return "2D fix"
	case Mode3D:
		return "3D fix"
	default:
		return itoa(mode)
	}
}

// Sample bundles the three typed samples gathered in one polling cycle.
// The same Sample feeds evaluation and persistence.
type Sample struct {
	// Host labels the appliance as "<host> (<fallback address>)".
	Host     string
	Taken    time.Time
	Tracking TrackingSample
	Sources  SourcesSummary
	Fix      FixStatus
}

// Thresholds bound the acceptable discipline of the appliance.
type Thresholds struct {
	MaxStratum      int
	MaxAbsOffsetSec float64
}

// DefaultThresholds returns the stock limits: stratum 4, 50ms offset.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxStratum:      4,
		MaxAbsOffsetSec: 0.050,
	}
}

// Verdict is the outcome of evaluating one Sample.
type Verdict struct {
	OK       bool
	Problems []string
	// Detail summarizes every field regardless of outcome.
	Detail string
}
