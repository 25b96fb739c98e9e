package vocoder

import (
	"fmt"
	"math"
)

// Config holds the analysis and synthesis parameters.
type Config struct {
	MagDim         int  `yaml:"mag_dim" json:"mag_dim"`
	PhaseDim       int  `yaml:"phase_dim" json:"phase_dim"`
	ConstantRate   bool `yaml:"constant_rate" json:"constant_rate"`
	OutputHighPass bool `yaml:"output_highpass" json:"output_highpass"`

	ShiftMs         float64 `yaml:"shift_ms" json:"shift_ms"`                   // default frame shift
	PeriodsPerShift float64 `yaml:"periods_per_shift" json:"periods_per_shift"` // voiced shift in pitch periods

	MinF0        float64 `yaml:"min_f0" json:"min_f0"`
	MaxF0        float64 `yaml:"max_f0" json:"max_f0"`
	YinThreshold float64 `yaml:"yin_threshold" json:"yin_threshold"`
	OctaveJump   float64 `yaml:"octave_jump" json:"octave_jump"`   // outlier distance in octaves
	SmoothWidth  int     `yaml:"smooth_width" json:"smooth_width"` // median filter width, <= 1 disables; config files treat 0 as unset

	HighPassHz float64 `yaml:"highpass_hz" json:"highpass_hz"`
	Workers    int     `yaml:"workers" json:"workers"` // 0 uses GOMAXPROCS
}

// DefaultConfig returns the parameters used by the copy-synthesis tools.
func DefaultConfig() Config {
	return Config{
		MagDim:          60,
		PhaseDim:        45,
		ShiftMs:         5,
		PeriodsPerShift: 2,
		MinF0:           60,
		MaxF0:           500,
		YinThreshold:    0.15,
		OctaveJump:      0.5,
		SmoothWidth:     5,
		HighPassHz:      50,
	}
}

// Validate checks the tuning values. Mel dimensions are checked against the
// bin count at analysis time since that depends on the sample rate.
func (c Config) Validate() error {
	switch {
	case c.ShiftMs <= 0:
		return fmt.Errorf("%w: shift_ms must be positive, got %g", ErrInvalidConfig, c.ShiftMs)
	case c.PeriodsPerShift <= 0:
		return fmt.Errorf("%w: periods_per_shift must be positive, got %g", ErrInvalidConfig, c.PeriodsPerShift)
	case c.MinF0 <= 0 || c.MaxF0 <= c.MinF0:
		return fmt.Errorf("%w: need 0 < min_f0 < max_f0, got %g and %g", ErrInvalidConfig, c.MinF0, c.MaxF0)
	case c.YinThreshold <= 0 || c.YinThreshold >= 1:
		return fmt.Errorf("%w: yin_threshold must be in (0, 1), got %g", ErrInvalidConfig, c.YinThreshold)
	case c.OctaveJump <= 0:
		return fmt.Errorf("%w: octave_jump must be positive, got %g", ErrInvalidConfig, c.OctaveJump)
	case c.SmoothWidth < 0:
		return fmt.Errorf("%w: smooth_width must not be negative", ErrInvalidConfig)
	case c.OutputHighPass && c.HighPassHz <= 0:
		return fmt.Errorf("%w: highpass_hz must be positive", ErrInvalidConfig)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	return nil
}

// shiftSamples is the default frame shift at sampleRate, at least one sample.
func (c Config) shiftSamples(sampleRate int) int {
	return max(1, int(math.Round(c.ShiftMs*float64(sampleRate)/1000)))
}

// unvoicedLF0 is the log-F0 whose pitch-synchronous shift equals the default
// shift. It fills tracks with no voiced frame so that a grid derived from the
// track matches the constant grid used during analysis.
func (c Config) unvoicedLF0() float64 {
	return math.Log(c.PeriodsPerShift * 1000 / c.ShiftMs)
}

// FFTLength returns the transform size used at sampleRate: the smallest
// power of two covering 1/12 s, enough for four periods at the lowest F0.
func FFTLength(sampleRate int) int {
	n := 1
	for n*12 < sampleRate {
		n <<= 1
	}
	return max(n, 16)
}
