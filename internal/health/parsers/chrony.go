// Package parsers turns raw remote command output into typed health samples.
//
// Every parser is total: malformed or missing input degrades individual
// fields to nil (or zero counts) instead of returning an error, so a single
// garbled line never aborts a polling cycle.
package parsers

import (
	"strconv"
	"strings"

	"github.com/rileyhilliard/ntpwatch/internal/health"
)

// Line prefixes recognized in `chronyc tracking` output.
const (
	keyLeapStatus = "Leap status"
	keyStratum    = "Stratum"
	keyLastOffset = "Last offset"
)

// ParseTracking extracts leap status, stratum and last offset from
// `chronyc tracking` output:
//
//	Reference ID    : 50505300 (PPS)
//	Stratum         : 1
//	Last offset     : -0.000000123 seconds
//	Leap status     : Normal
func ParseTracking(text string) health.TrackingSample {
	var sample health.TrackingSample

	for _, raw := range lines(text) {
		line := strings.TrimSpace(raw)
		value, ok := valueAfterColon(line)

		switch {
		case strings.HasPrefix(line, keyLeapStatus):
			if ok {
				leap := strings.TrimSpace(value)
				sample.LeapStatus = &leap
			}
		case strings.HasPrefix(line, keyStratum):
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				sample.Stratum = &n
			}
		case strings.HasPrefix(line, keyLastOffset):
			if !ok {
				continue
			}
			fields := strings.Fields(value)
			if len(fields) == 0 {
				continue
			}
			if f, err := strconv.ParseFloat(fields[0], 64); err == nil {
				sample.LastOffsetSec = &f
			}
		}
	}

	return sample
}

// lines splits command output on newlines. No line is too long to be
// looked at, so oversized noise is skipped like any other.
func lines(text string) []string {
	return strings.Split(text, "\n")
}

// valueAfterColon returns the text after the first colon of line.
func valueAfterColon(line string) (string, bool) {
	idx := strings.Index(line, ":")
	if idx == -1 {
		return "", false
	}
	return line[idx+1:], true
}

// Header prefixes printed by `chronyc sources`.
var sourcesHeaderPrefixes = []string{"MS", "Name/IP"}

// ParseSources counts data rows in `chronyc sources -n` output and finds the
// currently selected reference (state indicator `*`):
//
//	MS Name/IP address         Stratum Poll Reach LastRx Last sample
//	===============================================================================
//	#* PPS0                          0   4   377    12   -234ns[ -312ns] +/-  102ns
//	^- 192.168.1.1                   2   6   377    37  +1234us[+1234us] +/-   15ms
//
// When several rows carry the marker the last one wins.
func ParseSources(text string) health.SourcesSummary {
	var summary health.SourcesSummary

	for _, raw := range lines(text) {
		line := strings.TrimSpace(raw)
		if line == "" || isSourcesHeader(line) {
			continue
		}

		summary.TotalSources++

		if isSelectedSource(line) {
			selected := line
			summary.HasSelectedSource = true
			summary.SelectedSourceLine = &selected
		}
	}

	return summary
}

func isSourcesHeader(line string) bool {
	for _, prefix := range sourcesHeaderPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	// ===== ruler under the column titles
	return strings.Trim(line, "=") == ""
}

func isSelectedSource(line string) bool {
	return strings.HasPrefix(line, "^*") ||
		strings.Contains(line, "* ") ||
		strings.Contains(line, " ^* ")
}
