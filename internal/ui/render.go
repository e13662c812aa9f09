package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/ntpwatch/internal/health"
	"github.com/rileyhilliard/ntpwatch/internal/store"
)

const labelWidth = 17

const none = "none"

// CheckView is what RenderCheck needs from one cycle.
type CheckView struct {
	Label   string
	Sample  *health.Sample
	Verdict *health.Verdict
	// Err is a transport failure; Sample and Verdict are nil when set.
	Err      string
	Duration time.Duration
}

// RenderCheck renders a one-off check: a status line, the problems found, and
// every sampled field.
func RenderCheck(v CheckView) string {
	var b strings.Builder

	took := fg(ColorMuted).Render(fmt.Sprintf("(%s)", v.Duration.Round(time.Millisecond)))

	switch {
	case v.Err != "":
		b.WriteString(fg(ColorError).Render(SymbolFail+" "+v.Label+" unreachable") + " " + took + "\n")
		b.WriteString("  " + fg(ColorError).Render(v.Err) + "\n")
		return b.String()
	case v.Verdict == nil:
		b.WriteString(fg(ColorWarning).Render(SymbolWarn+" "+v.Label+" not evaluated") + "\n")
		return b.String()
	case v.Verdict.OK:
		b.WriteString(fg(ColorSuccess).Render(SymbolSuccess+" "+v.Label+" healthy") + " " + took + "\n")
	default:
		b.WriteString(fg(ColorError).Render(SymbolFail+" "+v.Label+" unhealthy") + " " + took + "\n")
		for _, p := range v.Verdict.Problems {
			b.WriteString("  " + fg(ColorError).Render(SymbolBullet+" "+p) + "\n")
		}
	}

	if s := v.Sample; s != nil {
		b.WriteString("\n")
		b.WriteString(field("Leap status", strPtr(s.Tracking.LeapStatus)))
		b.WriteString(field("Stratum", intPtr(s.Tracking.Stratum)))
		b.WriteString(field("Last offset", offsetPtr(s.Tracking.LastOffsetSec)))
		b.WriteString(field("Selected source", strPtr(s.Sources.SelectedSourceLine)))
		b.WriteString(field("Sources", strconv.Itoa(s.Sources.TotalSources)))
		b.WriteString(field("GPS", s.Fix.Summary))
	}
	return b.String()
}

// RenderLatest renders the newest stored row relative to now.
func RenderLatest(m *store.MetricSample, now time.Time) string {
	if m == nil {
		return fg(ColorWarning).Render(SymbolWarn+" No samples stored yet") + "\n"
	}

	var b strings.Builder
	age := now.Sub(m.TS).Round(time.Second)
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Latest sample") + " " +
		fg(ColorMuted).Render(fmt.Sprintf("%s (%s ago)", m.TS.UTC().Format(time.RFC3339), age)) + "\n")
	b.WriteString(field("Leap status", strPtr(m.LeapStatus)))
	b.WriteString(field("Stratum", intPtr(m.Stratum)))
	b.WriteString(field("Last offset", offsetPtr(m.LastOffsetSec)))
	b.WriteString(field("Selected source", strPtr(m.SelectedSource)))
	b.WriteString(field("Sources", strconv.Itoa(m.TotalSources)))

	mode := fg(ColorSuccess).Render(m.GPSMode)
	if m.GPSMode != store.GPSModeFix {
		mode = fg(ColorError).Render(m.GPSMode)
	}
	b.WriteString(field("GPS", mode+" "+fg(ColorMuted).Render(m.GPSSummary)))
	return b.String()
}

// RenderBuckets renders aggregated offsets as a sparkline of the per-bucket
// maximum followed by a table. limit is the offset threshold in seconds.
func RenderBuckets(buckets []store.OffsetBucket, window, interval string, limit float64, width int) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(
		fmt.Sprintf("Offset over %s (%s buckets)", window, interval)) + "\n")

	if len(buckets) == 0 {
		b.WriteString(fg(ColorMuted).Render("  no data in this window") + "\n")
		return b.String()
	}

	maxes := make([]float64, len(buckets))
	for i, bk := range buckets {
		maxes[i] = math.NaN()
		if bk.MaxAbsOffsetSec != nil {
			maxes[i] = *bk.MaxAbsOffsetSec
		}
	}
	sparkWidth := width - 4
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	b.WriteString("  " + RenderSparkline(maxes, sparkWidth, limit) + "\n\n")

	header := fmt.Sprintf("  %-20s %12s %12s %12s", "BUCKET", "AVG", "P95 |OFF|", "MAX |OFF|")
	b.WriteString(fg(ColorMuted).Render(header) + "\n")

	for _, bk := range buckets {
		maxCell := fmt.Sprintf("%12s", offsetPtr(bk.MaxAbsOffsetSec))
		if bk.MaxAbsOffsetSec != nil && limit > 0 {
			maxCell = fg(limitColor(*bk.MaxAbsOffsetSec, limit)).Render(maxCell)
		}
		b.WriteString(fmt.Sprintf("  %-20s %12s %12s %s\n",
			bk.Bucket.UTC().Format("2006-01-02 15:04"),
			offsetPtr(bk.AvgOffsetSec),
			offsetPtr(bk.P95AbsOffsetSec),
			maxCell))
	}
	return b.String()
}

// FormatOffset renders seconds with a unit suited to the magnitude.
func FormatOffset(sec float64) string {
	abs := math.Abs(sec)
	switch {
	case abs == 0:
		return "0s"
	case abs < 1e-6:
		return fmt.Sprintf("%.0fns", sec*1e9)
	case abs < 1e-3:
		return fmt.Sprintf("%.1fµs", sec*1e6)
	case abs < 1:
		return fmt.Sprintf("%.3fms", sec*1e3)
	default:
		return fmt.Sprintf("%.3fs", sec)
	}
}

func field(name, value string) string {
	return "  " + padRight(fg(ColorMuted).Render(name), labelWidth) + value + "\n"
}

// padRight pads s to width visible cells, ignoring ANSI codes.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func strPtr(s *string) string {
	if s == nil {
		return none
	}
	return *s
}

func intPtr(n *int) string {
	if n == nil {
		return none
	}
	return strconv.Itoa(*n)
}

func offsetPtr(f *float64) string {
	if f == nil {
		return none
	}
	return FormatOffset(*f)
}
