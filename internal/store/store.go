// Package store persists health samples and answers the dashboard queries
// over them. Postgres is the production backend; SQLite and an in-memory
// ring serve single-host installs and tests.
package store

import (
	"context"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/health"
)

// GPS mode labels written with each row.
const (
	GPSModeFix   = "3D fix"
	GPSModeNoFix = "No fix"
)

// MetricSample is one persisted row. Timestamps are unique: inserting a
// second row with the same TS is a no-op.
type MetricSample struct {
	// TS is assigned by the store when zero.
	TS             time.Time
	LastOffsetSec  *float64
	Stratum        *int
	TotalSources   int
	LeapStatus     *string
	GPSMode        string
	SelectedSource *string
	GPSSummary     string
}

// FromSample flattens a cycle's sample into a row. TS is left zero so the
// store stamps the row at insertion.
func FromSample(s *health.Sample) MetricSample {
	mode := GPSModeNoFix
	if s.Fix.HasFix {
		mode = GPSModeFix
	}

	return MetricSample{
		LastOffsetSec:  s.Tracking.LastOffsetSec,
		Stratum:        s.Tracking.Stratum,
		TotalSources:   s.Sources.TotalSources,
		LeapStatus:     s.Tracking.LeapStatus,
		GPSMode:        mode,
		SelectedSource: s.Sources.SelectedSourceLine,
		GPSSummary:     s.Fix.Summary,
	}
}

// normalizeTS trims to the microsecond precision of a timestamptz column so
// every backend keys rows identically.
func normalizeTS(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// OffsetBucket aggregates offsets over one interval. Values are nil when no
// row in the bucket had an offset.
type OffsetBucket struct {
	Bucket          time.Time
	AvgOffsetSec    *float64
	P95AbsOffsetSec *float64
	MaxAbsOffsetSec *float64
}

// Sink accepts samples from healthy cycles.
type Sink interface {
	Insert(ctx context.Context, m MetricSample) error
}

// Reader is the read side used by the status view.
type Reader interface {
	// Latest returns the newest row, or nil when the store is empty.
	Latest(ctx context.Context) (*MetricSample, error)
	// OffsetBuckets aggregates offsets within window, grouped by interval.
	// Both must be listed by WindowNames and IntervalNames.
	OffsetBuckets(ctx context.Context, window, interval string) ([]OffsetBucket, error)
}

// Store is a Sink and Reader with resources to release.
type Store interface {
	Sink
	Reader
	Close() error
}
