package ui

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/ntpwatch/internal/health"
	"github.com/rileyhilliard/ntpwatch/internal/store"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func ptr[T any](v T) *T { return &v }

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0s"},
		{-0.000000123, "-123ns"},
		{0.0000152, "15.2µs"},
		{0.002, "2.000ms"},
		{-0.0495, "-49.500ms"},
		{1.5, "1.500s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatOffset(tt.in))
	}
}

func sampleFixture() *health.Sample {
	return &health.Sample{
		Host:     "myntp (10.0.0.5)",
		Tracking: health.TrackingSample{LeapStatus: ptr("Normal"), Stratum: ptr(9), LastOffsetSec: ptr(0.002)},
		Sources:  health.SourcesSummary{HasSelectedSource: true, SelectedSourceLine: ptr("^* 10.0.0.1"), TotalSources: 3},
		Fix:      health.FixStatus{HasFix: true, Summary: "GPS(TPV): mode=3D fix"},
	}
}

func TestRenderCheck(t *testing.T) {
	s := sampleFixture()
	v := health.Evaluate(s, health.DefaultThresholds())

	out := RenderCheck(CheckView{Label: s.Host, Sample: s, Verdict: &v, Duration: 1234 * time.Millisecond})

	assert.Contains(t, out, "✗ myntp (10.0.0.5) unhealthy (1.234s)")
	assert.Contains(t, out, "• Stratum too high (got 9, max 4)")
	assert.Contains(t, out, "Stratum          9")
	assert.Contains(t, out, "Last offset      2.000ms")
	assert.Contains(t, out, "Selected source  ^* 10.0.0.1")
	assert.Contains(t, out, "GPS              GPS(TPV): mode=3D fix")

	s.Tracking.Stratum = ptr(1)
	s.Tracking.LeapStatus = nil
	v = health.Evaluate(s, health.Thresholds{MaxStratum: 4, MaxAbsOffsetSec: 1})
	out = RenderCheck(CheckView{Label: s.Host, Sample: s, Verdict: &v})
	assert.Contains(t, out, "Leap status      none")
}

func TestRenderCheck_Healthy(t *testing.T) {
	s := sampleFixture()
	s.Tracking.Stratum = ptr(1)
	v := health.Evaluate(s, health.DefaultThresholds())
	require.True(t, v.OK)

	out := RenderCheck(CheckView{Label: s.Host, Sample: s, Verdict: &v})
	assert.True(t, strings.HasPrefix(out, "✓ myntp (10.0.0.5) healthy"))
	assert.NotContains(t, out, "•")
}

func TestRenderCheck_Unreachable(t *testing.T) {
	out := RenderCheck(CheckView{Label: "myntp (10.0.0.5)", Err: "SSH command timed out contacting myntp (10.0.0.5): chronyc tracking"})
	assert.Contains(t, out, "✗ myntp (10.0.0.5) unreachable")
	assert.Contains(t, out, "timed out contacting")
	assert.NotContains(t, out, "Stratum")

	out = RenderCheck(CheckView{Label: "x"})
	assert.Contains(t, out, "not evaluated")
}

func TestRenderLatest(t *testing.T) {
	assert.Contains(t, RenderLatest(nil, time.Now()), "No samples stored yet")

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := &store.MetricSample{
		TS:            ts,
		LastOffsetSec: ptr(-0.0000152),
		TotalSources:  2,
		GPSMode:       store.GPSModeNoFix,
		GPSSummary:    "no TPV data from gpspipe",
	}

	out := RenderLatest(m, ts.Add(90*time.Second))
	assert.Contains(t, out, "Latest sample 2025-06-01T12:00:00Z (1m30s ago)")
	assert.Contains(t, out, "Last offset      -15.2µs")
	assert.Contains(t, out, "Stratum          none")
	assert.Contains(t, out, "GPS              No fix no TPV data from gpspipe")
}

func TestRenderBuckets(t *testing.T) {
	out := RenderBuckets(nil, "24h", "5min", 0.05, 80)
	assert.Contains(t, out, "Offset over 24h (5min buckets)")
	assert.Contains(t, out, "no data in this window")

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	buckets := []store.OffsetBucket{
		{Bucket: base, AvgOffsetSec: ptr(-0.001), P95AbsOffsetSec: ptr(0.0039), MaxAbsOffsetSec: ptr(0.004)},
		{Bucket: base.Add(5 * time.Minute)},
		{Bucket: base.Add(10 * time.Minute), AvgOffsetSec: ptr(0.01), P95AbsOffsetSec: ptr(0.01), MaxAbsOffsetSec: ptr(0.01)},
	}

	out = RenderBuckets(buckets, "14d", "1h", 0.05, 80)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "Offset over 14d (1h buckets)", lines[0])
	assert.Equal(t, "▁ █", strings.TrimSpace(lines[1]), "empty bucket leaves a gap")
	assert.Contains(t, lines[3], "BUCKET")
	assert.Contains(t, lines[4], "2025-06-01 12:00")
	assert.Contains(t, lines[4], "-1.000ms")
	assert.Contains(t, lines[4], "3.900ms")
	assert.Contains(t, lines[5], "none")
	assert.Contains(t, lines[6], "10.000ms")
}

func TestRenderSparkline(t *testing.T) {
	assert.Empty(t, RenderSparkline(nil, 10, 1))
	assert.Empty(t, RenderSparkline([]float64{1, 2}, 0, 1))

	assert.Equal(t, "▁▄█", RenderSparkline([]float64{0, 0.5, 1}, 10, 0))
	assert.Equal(t, "▅▅", RenderSparkline([]float64{3, 3}, 10, 0), "flat series sits mid-height")
	assert.Equal(t, "▁█", RenderSparkline([]float64{0, 1, 2}, 2, 0), "keeps the most recent points")

	nan := []float64{0, 1}
	nan = append(nan, nan[0]/zero())
	assert.Equal(t, "▁█ ", RenderSparkline(nan, 10, 0))
	assert.Equal(t, "  ", RenderSparkline([]float64{nan[2], nan[2]}, 10, 1), "all gaps")
}

func zero() float64 { return 0 }

func TestLimitColor(t *testing.T) {
	assert.Equal(t, ColorSuccess, limitColor(0.01, 0.05))
	assert.Equal(t, ColorWarning, limitColor(-0.04, 0.05))
	assert.Equal(t, ColorError, limitColor(0.06, 0.05))
}

func TestTerminalWidth_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f))
	assert.False(t, IsTerminal(nil))
	assert.Equal(t, 100, TerminalWidth(f, 100))
}
