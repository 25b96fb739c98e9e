// Package vocoder decomposes speech into mel-compressed log magnitude,
// mel-compressed phase (real and imaginary parts of the unit phasor) and a
// smoothed log-F0 contour, and resynthesizes a waveform from them by
// windowed overlap-add on a constant or pitch-synchronous frame grid.
package vocoder

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Features is the output of analysis: one row per frame in each matrix, plus
// what synthesis needs to reproduce the analysis grid.
type Features struct {
	MagMelLog [][]float64 `json:"mag_mel_log" msgpack:"mag_mel_log"`
	RealMel   [][]float64 `json:"real_mel" msgpack:"real_mel"`
	ImagMel   [][]float64 `json:"imag_mel" msgpack:"imag_mel"`
	LF0       []float64   `json:"lf0" msgpack:"lf0"`

	Grid       Grid `json:"grid,omitempty" msgpack:"grid,omitempty"`
	SampleRate int  `json:"sample_rate" msgpack:"sample_rate"`
	FFTLength  int  `json:"fft_length" msgpack:"fft_length"`
	NumSamples int  `json:"num_samples,omitempty" msgpack:"num_samples,omitempty"`
}

// Frames returns the number of frames.
func (f *Features) Frames() int { return len(f.LF0) }

// MagDim returns the magnitude dimension, 0 when empty.
func (f *Features) MagDim() int {
	if len(f.MagMelLog) == 0 {
		return 0
	}
	return len(f.MagMelLog[0])
}

// PhaseDim returns the phase dimension, 0 when empty.
func (f *Features) PhaseDim() int {
	if len(f.RealMel) == 0 {
		return 0
	}
	return len(f.RealMel[0])
}

// Shifts returns the frame shifts in samples.
func (f *Features) Shifts() []int { return f.Grid.Shifts() }

// Clone returns a deep copy. Modifications between analysis and synthesis
// should be applied to a clone.
func (f *Features) Clone() *Features {
	out := *f
	out.MagMelLog = cloneRows(f.MagMelLog)
	out.RealMel = cloneRows(f.RealMel)
	out.ImagMel = cloneRows(f.ImagMel)
	out.LF0 = append([]float64(nil), f.LF0...)
	out.Grid = append(Grid(nil), f.Grid...)
	return &out
}

// validate checks that all matrices agree on frame count and row width.
func (f *Features) validate() error {
	n := len(f.LF0)
	if n == 0 {
		return fmt.Errorf("%w: no frames", ErrInvalidDimension)
	}
	if f.NumSamples < 0 {
		return fmt.Errorf("%w: negative sample count %d", ErrInvalidDimension, f.NumSamples)
	}
	if len(f.MagMelLog) != n || len(f.RealMel) != n || len(f.ImagMel) != n {
		return fmt.Errorf("%w: frame counts differ: mag %d, real %d, imag %d, lf0 %d",
			ErrInvalidDimension, len(f.MagMelLog), len(f.RealMel), len(f.ImagMel), n)
	}
	magDim, phaseDim := f.MagDim(), f.PhaseDim()
	for i := range n {
		if len(f.MagMelLog[i]) != magDim {
			return fmt.Errorf("%w: magnitude row %d has %d columns, want %d", ErrInvalidDimension, i, len(f.MagMelLog[i]), magDim)
		}
		if len(f.RealMel[i]) != phaseDim || len(f.ImagMel[i]) != phaseDim {
			return fmt.Errorf("%w: phase row %d has %d/%d columns, want %d", ErrInvalidDimension, i, len(f.RealMel[i]), len(f.ImagMel[i]), phaseDim)
		}
		if math.IsNaN(f.LF0[i]) || math.IsInf(f.LF0[i], 0) {
			return fmt.Errorf("%w: non-finite lf0 at frame %d", ErrInvalidDimension, i)
		}
	}
	return nil
}

// Vocoder runs analysis and synthesis with a fixed configuration. It is safe
// for concurrent use; mel bases are built once per sample rate and dimension
// and shared.
type Vocoder struct {
	cfg   Config
	log   *zap.Logger
	bases *basisCache
}

// Option configures a Vocoder.
type Option func(*Vocoder)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(v *Vocoder) {
		if l != nil {
			v.log = l
		}
	}
}

// New creates a Vocoder.
func New(cfg Config, opts ...Option) (*Vocoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Vocoder{
		cfg:   cfg,
		log:   zap.NewNop(),
		bases: &basisCache{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Config returns the configuration.
func (v *Vocoder) Config() Config { return v.cfg }

// Analyze decomposes a mono waveform into features. x is not modified.
func (v *Vocoder) Analyze(x []float64, sampleRate int) (*Features, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}
	n := FFTLength(sampleRate)
	maxHalf := (n - 1) / 2

	if need := 2*v.cfg.shiftSamples(sampleRate) + 1; len(x) < need {
		return nil, fmt.Errorf("%w: %d samples, need at least %d", ErrInsufficientSignal, len(x), need)
	}
	magBasis, err := v.bases.get(sampleRate, n, v.cfg.MagDim)
	if err != nil {
		return nil, fmt.Errorf("magnitude basis: %w", err)
	}
	phaseBasis, err := v.bases.get(sampleRate, n, v.cfg.PhaseDim)
	if err != nil {
		return nil, fmt.Errorf("phase basis: %w", err)
	}

	track, err := EstimateF0(x, sampleRate, v.cfg)
	if err != nil {
		return nil, fmt.Errorf("estimate f0: %w", err)
	}

	var grid Grid
	if v.cfg.ConstantRate {
		grid = ConstantGrid(len(x), v.cfg.shiftSamples(sampleRate), maxHalf)
	} else {
		grid = PitchSyncGrid(len(x), sampleRate, track, v.cfg, maxHalf)
	}

	f := &Features{
		MagMelLog:  make([][]float64, len(grid)),
		RealMel:    make([][]float64, len(grid)),
		ImagMel:    make([][]float64, len(grid)),
		LF0:        GridLF0(grid, track, sampleRate, v.cfg),
		Grid:       grid,
		SampleRate: sampleRate,
		FFTLength:  n,
		NumSamples: len(x),
	}

	type scratch struct {
		t          *transform
		lm, re, im []float64
	}
	newScratch := func() *scratch { return &scratch{t: newTransform(n)} }
	forEachFrame(len(grid), v.cfg.Workers, newScratch, func(s *scratch, i int) {
		spec := s.t.Forward(x, grid[i])
		s.lm, s.re, s.im = Decompose(spec, s.lm, s.re, s.im)
		f.MagMelLog[i] = magBasis.Compress(nil, s.lm)
		f.RealMel[i] = phaseBasis.Compress(nil, s.re)
		f.ImagMel[i] = phaseBasis.Compress(nil, s.im)
	})

	v.log.Debug("analyzed",
		zap.Int("samples", len(x)),
		zap.Int("sample_rate", sampleRate),
		zap.Int("fft_length", n),
		zap.Int("frames", len(grid)),
		zap.Int("mag_dim", v.cfg.MagDim),
		zap.Int("phase_dim", v.cfg.PhaseDim),
		zap.Bool("constant_rate", v.cfg.ConstantRate),
	)
	return f, nil
}

// Synthesize reconstructs a waveform from features. When the features carry
// no grid, one is derived from LF0 using the configured rate mode. f is not
// modified.
func (v *Vocoder) Synthesize(f *Features) ([]float64, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, f.SampleRate)
	}
	n := FFTLength(f.SampleRate)
	if f.FFTLength != 0 && f.FFTLength != n {
		return nil, fmt.Errorf("%w: features use %d, sample rate %d derives %d", ErrUnstableTransformSize, f.FFTLength, f.SampleRate, n)
	}
	maxHalf := (n - 1) / 2

	magBasis, err := v.bases.get(f.SampleRate, n, f.MagDim())
	if err != nil {
		return nil, fmt.Errorf("magnitude basis: %w", err)
	}
	phaseBasis, err := v.bases.get(f.SampleRate, n, f.PhaseDim())
	if err != nil {
		return nil, fmt.Errorf("phase basis: %w", err)
	}

	grid := f.Grid
	if len(grid) == 0 {
		grid = GridFromLF0(f.LF0, f.SampleRate, f.NumSamples, v.cfg, maxHalf)
	} else if len(grid) != f.Frames() {
		return nil, fmt.Errorf("%w: grid has %d frames, features have %d", ErrInvalidDimension, len(grid), f.Frames())
	}
	if err := grid.Validate(f.NumSamples, maxHalf); err != nil {
		return nil, err
	}
	end := grid[len(grid)-1].Center
	if f.NumSamples > end+maxHalf+1 {
		return nil, fmt.Errorf("%w: %d samples extend past the last window ending at %d", ErrInvalidDimension, f.NumSamples, end+maxHalf)
	}
	numSamples := f.NumSamples
	if numSamples == 0 {
		numSamples = end + 1
	}

	type scratch struct {
		t          *transform
		lm, re, im []float64
		spec       []complex128
	}
	newScratch := func() *scratch { return &scratch{t: newTransform(n)} }
	frames := make([][]float64, len(grid))
	forEachFrame(len(grid), v.cfg.Workers, newScratch, func(s *scratch, i int) {
		s.lm = magBasis.Decompress(s.lm, f.MagMelLog[i])
		s.re = phaseBasis.Decompress(s.re, f.RealMel[i])
		s.im = phaseBasis.Decompress(s.im, f.ImagMel[i])
		s.spec = Recombine(s.spec, s.lm, s.re, s.im)
		frames[i] = s.t.Inverse(nil, s.spec, grid[i])
	})

	y := OverlapAdd(frames, grid, numSamples)
	if v.cfg.OutputHighPass {
		y = HighPass(y, f.SampleRate, v.cfg.HighPassHz)
	}

	v.log.Debug("synthesized",
		zap.Int("samples", numSamples),
		zap.Int("sample_rate", f.SampleRate),
		zap.Int("frames", len(grid)),
		zap.Bool("derived_grid", len(f.Grid) == 0),
		zap.Bool("highpass", v.cfg.OutputHighPass),
	)
	return y, nil
}

// shared serves the package level Analyze and Synthesize.
var shared = &basisCache{}

// Analyze decomposes x with default tuning and the given dimensions and rate mode.
func Analyze(x []float64, sampleRate, magDim, phaseDim int, constantRate bool) (*Features, error) {
	cfg := DefaultConfig()
	cfg.MagDim = magDim
	cfg.PhaseDim = phaseDim
	cfg.ConstantRate = constantRate
	v, err := New(cfg)
	if err != nil {
		return nil, err
	}
	v.bases = shared
	return v.Analyze(x, sampleRate)
}

// Synthesize reconstructs a waveform from bare feature matrices. Frame
// positions and the output length are derived from lf0 as written by
// Analyze; only the per-frame voicing flags are lost.
func Synthesize(magMelLog, realMel, imagMel [][]float64, lf0 []float64, sampleRate int, constantRate, highPass bool) ([]float64, error) {
	cfg := DefaultConfig()
	cfg.ConstantRate = constantRate
	cfg.OutputHighPass = highPass
	v, err := New(cfg)
	if err != nil {
		return nil, err
	}
	v.bases = shared
	return v.Synthesize(&Features{
		MagMelLog:  magMelLog,
		RealMel:    realMel,
		ImagMel:    imagMel,
		LF0:        lf0,
		SampleRate: sampleRate,
		FFTLength:  FFTLength(max(sampleRate, 1)),
	})
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
