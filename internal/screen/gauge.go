package screen

import (
	"fmt"
	"math"
	"strings"

	"github.com/fatih/color"
)

// Gauge renders a value in [0,1] as a horizontal bar whose color runs from red
// through yellow to green as the value grows.
type Gauge struct {
	Width   int
	NoColor bool
}

var gaugeColors = []*color.Color{
	color.New(color.FgRed),
	color.New(color.FgYellow),
	color.New(color.FgGreen),
}

// Normalize maps v from [lo,hi] to [0,1], clamped. An empty range gives 0.
func Normalize(v, lo, hi float64) float64 {
	if hi <= lo || math.IsNaN(v) {
		return 0
	}
	p := (v - lo) / (hi - lo)
	return math.Max(0, math.Min(1, p))
}

// Render draws the bar followed by the percentage.
func (g Gauge) Render(progress float64) string {
	width := g.Width
	if width <= 0 {
		width = 20
	}
	progress = math.Max(0, math.Min(1, progress))
	filled := int(math.Round(progress * float64(width)))

	bar := strings.Repeat("█", filled)
	if !g.NoColor {
		bar = colorFor(progress).Sprint(bar)
	}
	return fmt.Sprintf("[%s%s] %3.0f%%", bar, strings.Repeat("·", width-filled), progress*100)
}

func colorFor(progress float64) *color.Color {
	i := int(progress * float64(len(gaugeColors)))
	if i >= len(gaugeColors) {
		i = len(gaugeColors) - 1
	}
	return gaugeColors[i]
}
