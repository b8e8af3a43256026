package screen

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi float64
		want      float64
	}{
		{"middle", 25, 0, 100, 0.25},
		{"below range", -5, 0, 100, 0},
		{"above range", 250, 0, 100, 1},
		{"offset range", 15, 10, 20, 0.5},
		{"empty range", 5, 10, 10, 0},
		{"inverted range", 5, 10, 0, 0},
		{"nan", math.NaN(), 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Normalize(tt.v, tt.lo, tt.hi), 1e-9)
		})
	}
}

func TestGaugeRender(t *testing.T) {
	g := Gauge{Width: 10, NoColor: true}

	assert.Equal(t, "[··········]   0%", g.Render(0))
	assert.Equal(t, "[█████·····]  50%", g.Render(0.5))
	assert.Equal(t, "[██████████] 100%", g.Render(1))
	assert.Equal(t, "[██████████] 100%", g.Render(3), "progress MUST be clamped")
	assert.Equal(t, "[··········]   0%", g.Render(-1))
}

func TestGaugeDefaultWidth(t *testing.T) {
	out := Gauge{NoColor: true}.Render(0)
	assert.Equal(t, "["+strings.Repeat("·", 20)+"]   0%", out)
}

func TestGaugeColorRunsRedToGreen(t *testing.T) {
	assert.Same(t, gaugeColors[0], colorFor(0))
	assert.Same(t, gaugeColors[0], colorFor(0.2))
	assert.Same(t, gaugeColors[1], colorFor(0.5))
	assert.Same(t, gaugeColors[2], colorFor(0.9))
	assert.Same(t, gaugeColors[2], colorFor(1))
}
