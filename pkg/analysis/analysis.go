// Package analysis runs the vocoder over audio files and stores the
// resulting features as sidecar files.
package analysis

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/nzoschke/magphase/pkg/audio"
	"github.com/nzoschke/magphase/pkg/vocoder"
)

// Sidecar formats.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// TrackAnalysis is the sidecar content for one audio file.
type TrackAnalysis struct {
	File         string            `json:"file" msgpack:"file"`
	Duration     float64           `json:"duration" msgpack:"duration"`
	SampleRate   int               `json:"sample_rate" msgpack:"sample_rate"`
	MagDim       int               `json:"mag_dim" msgpack:"mag_dim"`
	PhaseDim     int               `json:"phase_dim" msgpack:"phase_dim"`
	ConstantRate bool              `json:"constant_rate" msgpack:"constant_rate"`
	Frames       int               `json:"frames" msgpack:"frames"`
	Features     *vocoder.Features `json:"features" msgpack:"features"`
}

// Analyzer wraps a vocoder with file loading and sidecar output.
type Analyzer struct {
	voc        *vocoder.Vocoder
	log        *zap.SugaredLogger
	format     string
	resampleTo int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFormat selects the sidecar format written by AnalyzeDir.
func WithFormat(format string) Option {
	return func(a *Analyzer) { a.format = format }
}

// WithResample resamples input files to rate before analysis. 0 disables.
func WithResample(rate int) Option {
	return func(a *Analyzer) { a.resampleTo = rate }
}

// WithLogger sets the logger for progress output.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) { a.log = l.Sugar() }
}

// New creates an Analyzer for the given vocoder configuration.
func New(cfg vocoder.Config, opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		log:    zap.NewNop().Sugar(),
		format: FormatJSON,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.format != FormatJSON && a.format != FormatMsgpack {
		return nil, fmt.Errorf("unsupported sidecar format %q", a.format)
	}

	voc, err := vocoder.New(cfg, vocoder.WithLogger(a.log.Desugar().Named("vocoder")))
	if err != nil {
		return nil, fmt.Errorf("create vocoder: %w", err)
	}
	a.voc = voc
	return a, nil
}

// Vocoder returns the underlying vocoder.
func (a *Analyzer) Vocoder() *vocoder.Vocoder { return a.voc }

// Load reads an audio file as mono, resampled if configured.
func (a *Analyzer) Load(path string) ([]float64, int, error) {
	samples, sampleRate, err := audio.LoadAudioMono(path)
	if err != nil {
		return nil, 0, fmt.Errorf("load audio: %w", err)
	}
	if a.resampleTo > 0 && a.resampleTo != sampleRate {
		samples, err = audio.Resample(samples, sampleRate, a.resampleTo)
		if err != nil {
			return nil, 0, err
		}
		sampleRate = a.resampleTo
	}
	return samples, sampleRate, nil
}

// AnalyzeFileWithPath analyzes a single audio file.
func (a *Analyzer) AnalyzeFileWithPath(audioPath string) (*TrackAnalysis, error) {
	samples, sampleRate, err := a.Load(audioPath)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeSamples(filepath.Base(audioPath), samples, sampleRate)
}

// AnalyzeSamples analyzes an in-memory waveform.
func (a *Analyzer) AnalyzeSamples(name string, samples []float64, sampleRate int) (*TrackAnalysis, error) {
	features, err := a.voc.Analyze(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", name, err)
	}
	cfg := a.voc.Config()
	return &TrackAnalysis{
		File:         name,
		Duration:     float64(len(samples)) / float64(sampleRate),
		SampleRate:   sampleRate,
		MagDim:       cfg.MagDim,
		PhaseDim:     cfg.PhaseDim,
		ConstantRate: cfg.ConstantRate,
		Frames:       features.Frames(),
		Features:     features,
	}, nil
}

// SidecarPath returns where the sidecar for audioPath is stored.
func SidecarPath(audioPath, format string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + "." + format
}

// AnalyzeDir recursively analyzes all audio files in a directory.
// For each audio file, it creates a sidecar next to it.
// If force is true, existing sidecars are overwritten.
func (a *Analyzer) AnalyzeDir(dir string, force bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !audio.IsSupported(filepath.Ext(path)) {
			return nil
		}

		sidecar := SidecarPath(path, a.format)
		if !force {
			if _, err := os.Stat(sidecar); err == nil {
				a.log.Infof("Skipping %s (already analyzed)", filepath.Base(path))
				return nil
			}
		}

		a.log.Infof("Analyzing %s...", filepath.Base(path))

		analysis, err := a.AnalyzeFileWithPath(path)
		if err != nil {
			a.log.Warnf("  Error: %v", err)
			return nil // Continue with other files
		}
		if err := analysis.WriteFile(sidecar); err != nil {
			return err
		}

		a.log.Infof("  Duration: %.1fs, %d Hz, %d frames -> %s",
			analysis.Duration, analysis.SampleRate, analysis.Frames, filepath.Base(sidecar))
		return nil
	})
}

// WriteFile writes the analysis as JSON or msgpack depending on the extension.
func (ta *TrackAnalysis) WriteFile(path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(ta, "", "  ")
	case ".msgpack":
		data, err = msgpack.Marshal(ta)
	default:
		return fmt.Errorf("unsupported sidecar extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadTrackAnalysis reads a sidecar written by WriteFile.
func ReadTrackAnalysis(path string) (*TrackAnalysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ta := &TrackAnalysis{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, ta)
	case ".msgpack":
		err = msgpack.Unmarshal(data, ta)
	default:
		return nil, fmt.Errorf("unsupported sidecar extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if ta.Features == nil {
		return nil, fmt.Errorf("decode %s: no features", filepath.Base(path))
	}
	return ta, nil
}
