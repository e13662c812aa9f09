package health

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalLeapToken is the leap status chrony reports when no adjustment is pending.
const NormalLeapToken = "Normal"

// Evaluate applies the thresholds to a sample. It is a pure function: the
// same inputs always produce the same Verdict, problems included in order.
//
// Problems are appended in a fixed order: leap, stratum, offset,
// no selected source, zero sources, no fix.
func Evaluate(s *Sample, th Thresholds) Verdict {
	var problems []string

	leap := s.Tracking.LeapStatus
	if leap == nil || !strings.Contains(*leap, NormalLeapToken) {
		problems = append(problems, fmt.Sprintf("Leap status not Normal (got %s)", formatString(leap)))
	}

	stratum := s.Tracking.Stratum
	if stratum == nil || *stratum > th.MaxStratum {
		problems = append(problems, fmt.Sprintf("Stratum too high (got %s, max %d)", formatInt(stratum), th.MaxStratum))
	}

	offset := s.Tracking.LastOffsetSec
	if offset == nil || math.Abs(*offset) > th.MaxAbsOffsetSec {
		problems = append(problems, fmt.Sprintf("Time offset too large (abs %ss > %ss)",
			formatFloat(offset), strconv.FormatFloat(th.MaxAbsOffsetSec, 'g', -1, 64)))
	}

	if !s.Sources.HasSelectedSource {
		problems = append(problems, "No selected NTP source in chronyc sources")
	}

	if s.Sources.TotalSources == 0 {
		problems = append(problems, "No NTP sources visible in chronyc sources")
	}

	if !s.Fix.HasFix {
		problems = append(problems, "GPS has no fix via gpspipe")
	}

	return Verdict{
		OK:       len(problems) == 0,
		Problems: problems,
		Detail:   Detail(s),
	}
}

// Detail renders every sampled field on one line, separated by " | ".
func Detail(s *Sample) string {
	parts := []string{
		"Host: " + s.Host,
		"Leap: " + formatString(s.Tracking.LeapStatus),
		"Stratum: " + formatInt(s.Tracking.Stratum),
		"Last offset: " + formatFloat(s.Tracking.LastOffsetSec) + " sec",
		"Selected source: " + formatString(s.Sources.SelectedSourceLine),
		"Total sources: " + strconv.Itoa(s.Sources.TotalSources),
		"GPS: " + s.Fix.Summary,
	}
	return strings.Join(parts, " | ")
}

// Message is the full line logged for a verdict and sent in alerts.
func (v Verdict) Message() string {
	if v.OK {
		return "OK | " + v.Detail
	}
	return strings.Join(v.Problems, " | ") + " || " + v.Detail
}

const nilText = "none"

func formatString(s *string) string {
	if s == nil {
		return nilText
	}
	return *s
}

func formatInt(n *int) string {
	if n == nil {
		return nilText
	}
	return strconv.Itoa(*n)
}

func formatFloat(f *float64) string {
	if f == nil {
		return nilText
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
