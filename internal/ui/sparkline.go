package ui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline block characters representing 8 vertical levels (lowest to highest).
const sparklineBlocks = "▁▂▃▄▅▆▇█"

var sparklineBlockRunes = []rune(sparklineBlocks)

// RenderSparkline draws the most recent width values as block characters
// scaled between the series minimum and maximum. NaN values (buckets with no
// offset) render as a gap. The line is colored by how the largest value
// compares to limit; a non-positive limit leaves it uncolored.
func RenderSparkline(data []float64, width int, limit float64) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) {
			continue
		}
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	var sb strings.Builder
	sb.Grow(len(data) * 3)

	numLevels := len(sparklineBlockRunes)
	valueRange := maxVal - minVal

	for _, v := range data {
		if math.IsNaN(v) {
			sb.WriteRune(' ')
			continue
		}
		var level int
		if valueRange == 0 {
			// All values are the same, use middle level
			level = numLevels / 2
		} else {
			level = int((v - minVal) / valueRange * float64(numLevels-1))
			if level < 0 {
				level = 0
			} else if level >= numLevels {
				level = numLevels - 1
			}
		}
		sb.WriteRune(sparklineBlockRunes[level])
	}

	line := sb.String()
	if limit <= 0 || math.IsInf(maxVal, -1) {
		return line
	}
	return lipgloss.NewStyle().Foreground(limitColor(maxVal, limit)).Render(line)
}

// limitColor grades v against limit:
//   - under 60%: green (success)
//   - 60-100%: yellow (warning)
//   - over the limit: red (error)
func limitColor(v, limit float64) lipgloss.Color {
	switch pct := math.Abs(v) / limit * 100; {
	case pct > 100:
		return ColorError
	case pct >= 60:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
