package analysis

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/nzoschke/magphase/pkg/audio"
)

// CopySynthesis analyzes an audio file, resynthesizes it from the
// compressed features and writes the result to outDir. It returns the
// output path and the reconstruction SNR in dB.
func (a *Analyzer) CopySynthesis(audioPath, outDir string) (string, float64, error) {
	samples, sampleRate, err := a.Load(audioPath)
	if err != nil {
		return "", 0, err
	}
	name := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))

	ta, err := a.AnalyzeSamples(name, samples, sampleRate)
	if err != nil {
		return "", 0, err
	}
	y, err := a.voc.Synthesize(ta.Features)
	if err != nil {
		return "", 0, fmt.Errorf("synthesize %s: %w", name, err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", 0, fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(outDir, CopySynthesisName(name, ta.MagDim, ta.PhaseDim, ta.ConstantRate))
	if err := audio.WriteWAV(out, y, sampleRate); err != nil {
		return "", 0, err
	}

	snr := SNR(samples, y)
	a.log.Infof("%s: %d frames, SNR %.2f dB -> %s", name, ta.Frames, snr, out)
	return out, snr, nil
}

// CopySynthesisName names copy synthesis output after the parameters used.
func CopySynthesisName(name string, magDim, phaseDim int, constantRate bool) string {
	rate := 0
	if constantRate {
		rate = 1
	}
	return fmt.Sprintf("%s_copy_syn_low_dim_mag_dim_%d_ph_dim_%d_const_rate_%d.wav", name, magDim, phaseDim, rate)
}

// SynthesizeFile resynthesizes a stored sidecar to a WAV file.
func (a *Analyzer) SynthesizeFile(sidecarPath, outPath string) error {
	ta, err := ReadTrackAnalysis(sidecarPath)
	if err != nil {
		return err
	}
	y, err := a.voc.Synthesize(ta.Features)
	if err != nil {
		return fmt.Errorf("synthesize %s: %w", filepath.Base(sidecarPath), err)
	}
	if err := audio.WriteWAV(outPath, y, ta.Features.SampleRate); err != nil {
		return err
	}
	a.log.Infof("%s: %d samples -> %s", ta.File, len(y), outPath)
	return nil
}

// SNR is the signal to error ratio in dB over the common length.
func SNR(ref, test []float64) float64 {
	var sig, noise float64
	for n := range min(len(ref), len(test)) {
		d := ref[n] - test[n]
		sig += ref[n] * ref[n]
		noise += d * d
	}
	if noise == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(sig/noise)
}
