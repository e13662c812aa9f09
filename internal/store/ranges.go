package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
)

// span pairs a Postgres interval literal with its duration.
type span struct {
	literal  string
	duration time.Duration
}

const day = 24 * time.Hour

// windows are the allowed look-back periods for OffsetBuckets.
var windows = map[string]span{
	"24h": {"24 hours", 24 * time.Hour},
	"14d": {"14 days", 14 * day},
	"90d": {"90 days", 90 * day},
}

// intervals are the allowed bucket widths for OffsetBuckets.
var intervals = map[string]span{
	"5min": {"5 minutes", 5 * time.Minute},
	"1h":   {"1 hour", time.Hour},
	"1d":   {"1 day", day},
}

// Default query range, matching the dashboard's initial view.
const (
	DefaultWindow   = "24h"
	DefaultInterval = "5min"
)

// resolveRange validates window and interval against the allow-lists.
func resolveRange(window, interval string) (span, span, error) {
	w, ok := windows[window]
	if !ok {
		return span{}, span{}, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown window %q", window),
			"Use one of: "+strings.Join(WindowNames(), ", "))
	}
	i, ok := intervals[interval]
	if !ok {
		return span{}, span{}, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown interval %q", interval),
			"Use one of: "+strings.Join(IntervalNames(), ", "))
	}
	return w, i, nil
}

// WindowNames lists the accepted windows, shortest first.
func WindowNames() []string { return sortedNames(windows) }

// IntervalNames lists the accepted intervals, shortest first.
func IntervalNames() []string { return sortedNames(intervals) }

func sortedNames(m map[string]span) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Slice(names, func(a, b int) bool { return m[names[a]].duration < m[names[b]].duration })
	return names
}
