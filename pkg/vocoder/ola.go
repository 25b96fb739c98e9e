package vocoder

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
)

// normFloor marks samples that no window reaches.
const normFloor = 1e-12

// OverlapAdd places each frame at its grid position, weights it by the
// synthesis window and divides by the summed squared window. frames[i] must
// hold grid[i].Len() samples that already carry the analysis window.
func OverlapAdd(frames [][]float64, grid Grid, numSamples int) []float64 {
	y := make([]float64, numSamples)
	norm := make([]float64, numSamples)
	windows := make(map[int][]float64)

	for i, f := range grid {
		w, ok := windows[f.HalfWidth]
		if !ok {
			w = hannWindow(f.Len())
			windows[f.HalfWidth] = w
		}
		start := f.Start()
		for k, v := range frames[i] {
			n := start + k
			if n < 0 || n >= numSamples {
				continue
			}
			y[n] += w[k] * v
			norm[n] += w[k] * w[k]
		}
	}

	for n := range y {
		if norm[n] > normFloor {
			y[n] /= norm[n]
		} else {
			y[n] = 0
		}
	}
	return y
}

// HighPass runs a second-order Butterworth high-pass section forward and
// then backward, which removes DC and rumble below cutoffHz without
// shifting phase.
func HighPass(x []float64, sampleRate int, cutoffHz float64) []float64 {
	sec := biquad.NewSection(butterworthHighPass(float64(sampleRate), cutoffHz))

	y := make([]float64, len(x))
	for n, v := range x {
		y[n] = sec.ProcessSample(v)
	}
	sec.Reset()
	for n := len(y) - 1; n >= 0; n-- {
		y[n] = sec.ProcessSample(y[n])
	}
	return y
}

// butterworthHighPass returns RBJ cookbook high-pass coefficients with
// Q = 1/sqrt(2), normalized by a0.
func butterworthHighPass(sampleRate, cutoffHz float64) biquad.Coefficients {
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cw := math.Cos(w0)
	sw := math.Sin(w0)

	const q = 0.7071067811865476

	alpha := sw / (2 * q)
	inv := 1 / (1 + alpha)

	return biquad.Coefficients{
		B0: ((1 + cw) * 0.5) * inv,
		B1: -(1 + cw) * inv,
		B2: ((1 + cw) * 0.5) * inv,
		A1: (-2 * cw) * inv,
		A2: (1 - alpha) * inv,
	}
}
