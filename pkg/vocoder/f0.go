package vocoder

import (
	"fmt"
	"math"
	"slices"

	"github.com/RyanBlaney/sonido-sonar/algorithms/tonal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// outlierRadius is how many frames on each side are compared when looking
// for octave jumps.
const outlierRadius = 3

// silenceRatio gates frames quieter than -60 dB relative to the signal peak.
const silenceRatio = 1e-3

// F0Track is a fundamental frequency contour sampled every Hop samples,
// starting at sample 0.
type F0Track struct {
	Hop    int
	F0     []float64 // raw estimates in Hz, 0 where unvoiced
	Voiced []bool    // voicing after octave outlier removal
	LF0    []float64 // smoothed natural-log F0, defined at every frame
}

// Len returns the number of track frames.
func (t *F0Track) Len() int { return len(t.LF0) }

// LF0At linearly interpolates the smoothed log-F0 at a sample position.
func (t *F0Track) LF0At(sample int) float64 {
	n := len(t.LF0)
	if n == 0 {
		return 0
	}
	pos := float64(sample) / float64(t.Hop)
	i := int(math.Floor(pos))
	if i < 0 {
		return t.LF0[0]
	}
	if i >= n-1 {
		return t.LF0[n-1]
	}
	frac := pos - float64(i)
	return t.LF0[i] + frac*(t.LF0[i+1]-t.LF0[i])
}

// VoicedAt reports the voicing of the track frame nearest to a sample.
func (t *F0Track) VoicedAt(sample int) bool {
	if len(t.Voiced) == 0 {
		return false
	}
	i := int(math.Round(float64(sample) / float64(t.Hop)))
	return t.Voiced[clampInt(i, 0, len(t.Voiced)-1)]
}

// EstimateF0 tracks the fundamental frequency of x with a YIN
// estimator at the default frame shift, drops octave outliers, fills
// unvoiced gaps by interpolating in the log domain and median smooths the
// result. A signal without voiced frames gets a constant contour.
func EstimateF0(x []float64, sampleRate int, cfg Config) (*F0Track, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hop := cfg.shiftSamples(sampleRate)
	n := 1
	if len(x) > 1 {
		n = (len(x)-2)/hop + 2
	}

	est := newPitchEstimator(sampleRate, hop, cfg)

	peak := 0.0
	if len(x) > 0 {
		peak = math.Max(floats.Max(x), -floats.Min(x))
	}
	gate := peak * silenceRatio

	track := &F0Track{
		Hop:    hop,
		F0:     make([]float64, n),
		Voiced: make([]bool, n),
		LF0:    make([]float64, n),
	}
	forEachFrame(n, cfg.Workers, est.newDetector, func(d *pitchDetector, i int) {
		track.F0[i] = d.estimate(x, i*hop, gate)
	})

	logs := make([]float64, n)
	for i, f := range track.F0 {
		if f > 0 {
			logs[i] = math.Log(f)
			track.Voiced[i] = true
		}
	}
	track.Voiced = removeOctaveOutliers(logs, track.Voiced, cfg.OctaveJump)

	filled, ok := interpolateLF0(logs, track.Voiced)
	if !ok {
		for i := range track.LF0 {
			track.LF0[i] = cfg.unvoicedLF0()
		}
		return track, nil
	}
	track.LF0 = medianSmooth(filled, cfg.SmoothWidth)
	return track, nil
}

// pitchEstimator configures a YIN detector per worker. The detectors keep
// a pitch history, so they are never shared.
type pitchEstimator struct {
	params tonal.PitchDetectionParams
}

func newPitchEstimator(sampleRate, hop int, cfg Config) *pitchEstimator {
	maxLag := int(math.Ceil(float64(sampleRate) / cfg.MinF0))
	return &pitchEstimator{params: tonal.PitchDetectionParams{
		Method:     tonal.AutocorrelationYin,
		SampleRate: sampleRate,
		// YIN compares the first half of the frame against lags up to half
		// its length, and the last lag is only checked as a neighbour.
		WindowSize:     2 * (maxLag + 2),
		HopSize:        hop,
		MinFreq:        cfg.MinF0,
		MaxFreq:        cfg.MaxF0,
		YinThreshold:   cfg.YinThreshold,
		WindowFunction: "rectangular",
		ZeroPadding:    1,
	}}
}

type pitchDetector struct {
	det *tonal.PitchDetector
	seg []float64
}

func (e *pitchEstimator) newDetector() *pitchDetector {
	return &pitchDetector{
		det: tonal.NewPitchDetectorWithParams(e.params),
		seg: make([]float64, e.params.WindowSize),
	}
}

// estimate returns the F0 in Hz of the segment centered on sample c, or 0
// when the segment is silent, aperiodic or outside the F0 range. Near the
// edges the segment is moved inside the signal instead of being zero padded.
func (d *pitchDetector) estimate(x []float64, c int, gate float64) float64 {
	start := c - len(d.seg)/2
	if len(x) >= len(d.seg) {
		start = clampInt(start, 0, len(x)-len(d.seg))
	} else {
		start = 0
	}
	for j := range d.seg {
		i := start + j
		if i < 0 || i >= len(x) {
			d.seg[j] = 0
			continue
		}
		d.seg[j] = x[i]
	}

	energy := floats.Dot(d.seg, d.seg) / float64(len(d.seg))
	if energy == 0 || math.Sqrt(energy) < gate {
		return 0
	}

	res, err := d.det.DetectPitch(d.seg)
	if err != nil || math.IsNaN(res.Pitch) {
		return 0
	}
	return res.Pitch
}

// removeOctaveOutliers unvoices frames that sit more than jump octaves away
// from the median of their voiced neighbours, or that have none.
func removeOctaveOutliers(logs []float64, voiced []bool, jump float64) []bool {
	out := slices.Clone(voiced)
	limit := jump * math.Ln2
	var near []float64
	for i := range logs {
		if !voiced[i] {
			continue
		}
		near = near[:0]
		for j := max(0, i-outlierRadius); j <= min(len(logs)-1, i+outlierRadius); j++ {
			if j != i && voiced[j] {
				near = append(near, logs[j])
			}
		}
		if len(near) == 0 {
			out[i] = false
			continue
		}
		if math.Abs(logs[i]-median(near)) > limit {
			out[i] = false
		}
	}
	return out
}

// interpolateLF0 fills unvoiced frames linearly between voiced neighbours
// and holds the first and last voiced values at the edges. It returns false
// when no frame is voiced.
func interpolateLF0(logs []float64, voiced []bool) ([]float64, bool) {
	out := make([]float64, len(logs))
	prev := -1
	for i := range logs {
		if !voiced[i] {
			continue
		}
		out[i] = logs[i]
		switch {
		case prev < 0:
			for j := 0; j < i; j++ {
				out[j] = logs[i]
			}
		case i-prev > 1:
			for j := prev + 1; j < i; j++ {
				frac := float64(j-prev) / float64(i-prev)
				out[j] = logs[prev] + frac*(logs[i]-logs[prev])
			}
		}
		prev = i
	}
	if prev < 0 {
		return nil, false
	}
	for j := prev + 1; j < len(out); j++ {
		out[j] = logs[prev]
	}
	return out, true
}

// medianSmooth applies a running median of the given width, shrinking the
// window at the edges.
func medianSmooth(v []float64, width int) []float64 {
	if width <= 1 {
		return slices.Clone(v)
	}
	half := width / 2
	out := make([]float64, len(v))
	buf := make([]float64, 0, 2*half+1)
	for i := range v {
		buf = append(buf[:0], v[max(0, i-half):min(len(v), i+half+1)]...)
		out[i] = median(buf)
	}
	return out
}

// median sorts v in place and returns its empirical median.
func median(v []float64) float64 {
	slices.Sort(v)
	return stat.Quantile(0.5, stat.Empirical, v, nil)
}
