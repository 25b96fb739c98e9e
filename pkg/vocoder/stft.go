package vocoder

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// transform computes zero-phase windowed spectra for single frames.
// A transform is not safe for concurrent use; each worker owns one.
type transform struct {
	n       int
	fft     *fourier.FFT
	buf     []float64
	coeffs  []complex128
	windows map[int][]float64
}

func newTransform(n int) *transform {
	return &transform{
		n:       n,
		fft:     fourier.NewFFT(n),
		buf:     make([]float64, n),
		coeffs:  make([]complex128, n/2+1),
		windows: make(map[int][]float64),
	}
}

// window returns the Hann window for a frame with the given half width.
func (t *transform) window(halfWidth int) []float64 {
	w, ok := t.windows[halfWidth]
	if !ok {
		w = hannWindow(2*halfWidth + 1)
		t.windows[halfWidth] = w
	}
	return w
}

// Forward windows x around the frame center and returns n/2+1 bins.
// The center sample goes to index 0 and the left half wraps to the end of
// the buffer, so the phase is measured relative to the center. Samples
// outside x are zero. The returned slice is reused by the next call.
func (t *transform) Forward(x []float64, f Frame) []complex128 {
	w := t.window(f.HalfWidth)
	clear(t.buf)
	start := f.Start()
	for k := range w {
		i := start + k
		if i < 0 || i >= len(x) {
			continue
		}
		t.buf[(k-f.HalfWidth+t.n)%t.n] = x[i] * w[k]
	}
	return t.fft.Coefficients(t.coeffs, t.buf)
}

// Inverse transforms spec back to the 2M+1 samples around the frame center.
// It undoes Forward exactly, so the result still carries the analysis window.
func (t *transform) Inverse(dst []float64, spec []complex128, f Frame) []float64 {
	seq := t.fft.Sequence(t.buf, spec)
	if cap(dst) < f.Len() {
		dst = make([]float64, f.Len())
	}
	dst = dst[:f.Len()]
	scale := 1 / float64(t.n)
	for k := range dst {
		dst[k] = seq[(k-f.HalfWidth+t.n)%t.n] * scale
	}
	return dst
}

// hannWindow creates a symmetric raised-cosine window without zero end points.
func hannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i+1)/float64(size+1))
	}
	return window
}
