package vocoder

import (
	"fmt"
	"math"
)

// Frame is one analysis/synthesis position. The window spans
// [Center-HalfWidth, Center+HalfWidth], so its length is always odd.
type Frame struct {
	Center    int     `json:"center" msgpack:"center"`
	HalfWidth int     `json:"half_width" msgpack:"half_width"`
	Period    float64 `json:"period,omitempty" msgpack:"period,omitempty"` // contour period in samples, 0 at constant rate
	Voiced    bool    `json:"voiced,omitempty" msgpack:"voiced,omitempty"`
}

// Len returns the window length in samples.
func (f Frame) Len() int { return 2*f.HalfWidth + 1 }

// Start returns the index of the first windowed sample, possibly negative.
func (f Frame) Start() int { return f.Center - f.HalfWidth }

// Grid is an ordered sequence of frames with strictly increasing centers.
type Grid []Frame

// Centers returns the frame centers.
func (g Grid) Centers() []int {
	out := make([]int, len(g))
	for i, f := range g {
		out[i] = f.Center
	}
	return out
}

// Shifts returns the distance from each center to the next one. The last
// frame repeats the previous shift.
func (g Grid) Shifts() []int {
	out := make([]int, len(g))
	for i := 0; i+1 < len(g); i++ {
		out[i] = g[i+1].Center - g[i].Center
	}
	if len(g) > 1 {
		out[len(g)-1] = out[len(g)-2]
	}
	return out
}

// Validate checks ordering, gaps and window sizes against a transform
// limit. Gaps wider than the limit would leave samples outside every window.
func (g Grid) Validate(numSamples, maxHalfWidth int) error {
	for i, f := range g {
		if f.HalfWidth < 1 || f.HalfWidth > maxHalfWidth {
			return fmt.Errorf("%w: frame %d half width %d outside [1, %d]", ErrInvalidDimension, i, f.HalfWidth, maxHalfWidth)
		}
		if i == 0 && (f.Center < 0 || f.Center > maxHalfWidth) {
			return fmt.Errorf("%w: first center %d outside [0, %d]", ErrInvalidDimension, f.Center, maxHalfWidth)
		}
		if i > 0 && f.Center <= g[i-1].Center {
			return fmt.Errorf("%w: centers not increasing at frame %d", ErrInvalidDimension, i)
		}
		if i > 0 && f.Center-g[i-1].Center > maxHalfWidth {
			return fmt.Errorf("%w: gap of %d samples before frame %d exceeds %d", ErrInvalidDimension, f.Center-g[i-1].Center, i, maxHalfWidth)
		}
	}
	if numSamples > 0 && len(g) > 0 && g[len(g)-1].Center >= numSamples {
		return fmt.Errorf("%w: last center %d beyond %d samples", ErrInvalidDimension, g[len(g)-1].Center, numSamples)
	}
	return nil
}

// ConstantGrid places centers every shift samples from 0 and closes the
// grid on numSamples-1.
func ConstantGrid(numSamples, shift, maxHalfWidth int) Grid {
	shift = clampInt(shift, 1, maxHalfWidth)
	centers := walk(numSamples, maxHalfWidth, func(int) int { return shift })
	g := make(Grid, len(centers))
	for i, c := range centers {
		g[i].Center = c
	}
	return g.withHalfWidths(maxHalfWidth)
}

// PitchSyncGrid walks the signal from sample 0, advancing each center by
// PeriodsPerShift periods of the smoothed contour at that center. Unvoiced
// stretches follow the interpolated contour, so placement depends on the
// stored log-F0 alone and GridFromLF0 can rebuild it.
func PitchSyncGrid(numSamples, sampleRate int, track *F0Track, cfg Config, maxHalfWidth int) Grid {
	centers := walk(numSamples, maxHalfWidth, func(c int) int {
		return pitchShift(track.LF0At(c), sampleRate, cfg, maxHalfWidth)
	})
	g := make(Grid, len(centers))
	for i, c := range centers {
		g[i] = Frame{
			Center: c,
			Period: float64(sampleRate) / math.Exp(track.LF0At(c)),
			Voiced: track.VoicedAt(c),
		}
	}
	return g.withHalfWidths(maxHalfWidth)
}

// GridLF0 samples the contour at each center of g. The last entry instead
// records the gap to the previous center, which the end of the signal
// clips, so GridFromLF0 restores the original length.
func GridLF0(g Grid, track *F0Track, sampleRate int, cfg Config) []float64 {
	lf0 := make([]float64, len(g))
	for i, f := range g {
		lf0[i] = track.LF0At(f.Center)
	}
	if n := len(g); n > 1 {
		lf0[n-1] = endLF0(g[n-1].Center-g[n-2].Center, sampleRate, cfg)
	}
	return lf0
}

// GridFromLF0 rebuilds a grid with exactly len(lf0) frames from a log-F0
// row written by GridLF0. In pitch synchronous mode frame i advances by
// the shift of lf0[i]; in constant rate mode by the default shift. The last
// gap comes from the last entry in both modes. A known numSamples pins the
// last center.
func GridFromLF0(lf0 []float64, sampleRate, numSamples int, cfg Config, maxHalfWidth int) Grid {
	n := len(lf0)
	if n == 0 {
		return nil
	}
	def := clampInt(cfg.shiftSamples(sampleRate), 1, maxHalfWidth)
	g := make(Grid, n)
	for i := range g {
		if !cfg.ConstantRate {
			g[i].Period = float64(sampleRate) / math.Exp(lf0[i])
		}
		if i == 0 {
			continue
		}
		shift := def
		switch {
		case i == n-1:
			shift = pitchShift(lf0[n-1], sampleRate, cfg, maxHalfWidth)
		case !cfg.ConstantRate:
			shift = pitchShift(lf0[i-1], sampleRate, cfg, maxHalfWidth)
		}
		g[i].Center = g[i-1].Center + shift
	}
	if n > 1 && numSamples > 0 {
		g[n-1].Center = max(numSamples-1, g[n-2].Center+1)
	}
	return g.withHalfWidths(maxHalfWidth)
}

// walk places centers from 0, each advanced by next, and closes on
// numSamples-1. A closing gap under half the nominal shift is folded into
// the previous gap when the sum still fits a window.
func walk(numSamples, maxHalfWidth int, next func(c int) int) []int {
	last := numSamples - 1
	centers := []int{0}
	if last <= 0 {
		return centers
	}
	for {
		c := centers[len(centers)-1]
		shift := next(c)
		if c+shift < last {
			centers = append(centers, c+shift)
			continue
		}
		if k := len(centers); k > 1 && 2*(last-c) < shift && last-centers[k-2] <= maxHalfWidth {
			centers = centers[:k-1]
		}
		return append(centers, last)
	}
}

// pitchShift is PeriodsPerShift periods of exp(lf0), in samples.
func pitchShift(lf0 float64, sampleRate int, cfg Config, maxHalfWidth int) int {
	return clampInt(int(math.Round(cfg.PeriodsPerShift*float64(sampleRate)/math.Exp(lf0))), 1, maxHalfWidth)
}

// endLF0 is the log-F0 whose pitchShift is gap.
func endLF0(gap, sampleRate int, cfg Config) float64 {
	return math.Log(cfg.PeriodsPerShift * float64(sampleRate) / float64(gap))
}

// withHalfWidths sets each half width to the larger distance to a
// neighbouring center, so every sample between two centers falls strictly
// inside both of their windows.
func (g Grid) withHalfWidths(maxHalfWidth int) Grid {
	for i := range g {
		d := 0
		if i > 0 {
			d = g[i].Center - g[i-1].Center
		}
		if i+1 < len(g) {
			d = max(d, g[i+1].Center-g[i].Center)
		}
		g[i].HalfWidth = clampInt(d, 1, maxHalfWidth)
	}
	return g
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
