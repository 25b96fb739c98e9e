package vocoder

import "errors"

var (
	// ErrInsufficientSignal is returned when the input is shorter than two frame shifts.
	ErrInsufficientSignal = errors.New("vocoder: insufficient signal")

	// ErrInvalidDimension is returned for out-of-range mel dimensions and for
	// feature matrices whose shapes disagree.
	ErrInvalidDimension = errors.New("vocoder: invalid dimension")

	// ErrUnstableTransformSize is returned when features were produced with a
	// transform size that synthesis would not derive for the same sample rate.
	ErrUnstableTransformSize = errors.New("vocoder: unstable transform size")

	// ErrInvalidConfig is returned for a non-positive sample rate or bad tuning values.
	ErrInvalidConfig = errors.New("vocoder: invalid config")
)
