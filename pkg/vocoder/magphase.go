package vocoder

import (
	"math"
	"math/cmplx"
)

// magFloor keeps the log magnitude finite at silent bins.
const magFloor = 1e-10

// Decompose splits a spectrum into log magnitude and the real and imaginary
// parts of its unit-modulus phase. Bins at or below magFloor get phase 1+0i.
// The destination slices are grown as needed and returned.
func Decompose(spec []complex128, logMag, re, im []float64) ([]float64, []float64, []float64) {
	logMag = resize(logMag, len(spec))
	re = resize(re, len(spec))
	im = resize(im, len(spec))
	for k, x := range spec {
		m := cmplx.Abs(x)
		logMag[k] = math.Log(m + magFloor)
		if m <= magFloor {
			re[k], im[k] = 1, 0
			continue
		}
		re[k] = real(x) / m
		im[k] = imag(x) / m
	}
	return logMag, re, im
}

// Recombine rebuilds a spectrum from log magnitude and a phase pair. The
// phase pair is renormalized since mel compression does not keep it on the
// unit circle.
func Recombine(dst []complex128, logMag, re, im []float64) []complex128 {
	if cap(dst) < len(logMag) {
		dst = make([]complex128, len(logMag))
	}
	dst = dst[:len(logMag)]
	for k := range logMag {
		m := max(math.Exp(logMag[k])-magFloor, 0)
		r := math.Hypot(re[k], im[k])
		if r == 0 || math.IsNaN(r) {
			dst[k] = complex(m, 0)
			continue
		}
		dst[k] = complex(m*re[k]/r, m*im[k]/r)
	}
	return dst
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}
