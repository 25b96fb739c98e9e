package vocoder

import (
	"math"
	"math/cmplx"
)

func sine(sampleRate int, hz, amp, seconds float64) []float64 {
	x := make([]float64, int(seconds*float64(sampleRate)))
	for n := range x {
		x[n] = amp * math.Sin(2*math.Pi*hz*float64(n)/float64(sampleRate))
	}
	return x
}

// harmonic is a voiced-like test tone with decaying harmonics of f0.
func harmonic(sampleRate int, f0, seconds float64) []float64 {
	x := make([]float64, int(seconds*float64(sampleRate)))
	for h := 1; float64(h)*f0 < float64(sampleRate)/2; h++ {
		amp := 0.4 / float64(h)
		phase := 0.7 * float64(h*h)
		for n := range x {
			x[n] += amp * math.Sin(2*math.Pi*float64(h)*f0*float64(n)/float64(sampleRate)+phase)
		}
	}
	return x
}

// nrmse is the RMS error normalized by the RMS of want.
func nrmse(want, got []float64) float64 {
	var num, den float64
	for n := range want {
		d := want[n] - got[n]
		num += d * d
		den += want[n] * want[n]
	}
	return math.Sqrt(num / den)
}

// toneAmplitude estimates the amplitude of a sinusoid at hz in x.
func toneAmplitude(x []float64, sampleRate int, hz float64) float64 {
	var acc complex128
	w := 2 * math.Pi * hz / float64(sampleRate)
	for n, v := range x {
		acc += complex(v, 0) * cmplx.Exp(complex(0, -w*float64(n)))
	}
	return 2 * cmplx.Abs(acc) / float64(len(x))
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
