// Package config loads the YAML configuration shared by the CLI and server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nzoschke/magphase/pkg/logger"
	"github.com/nzoschke/magphase/pkg/vocoder"
)

// Config is the top-level configuration.
type Config struct {
	Vocoder  vocoder.Config `yaml:"vocoder"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Server   ServerConfig   `yaml:"server"`
	Log      logger.Config  `yaml:"log"`
}

// AnalysisConfig controls batch analysis and copy synthesis.
type AnalysisConfig struct {
	Format     string `yaml:"format"`      // sidecar format: json or msgpack
	ResampleTo int    `yaml:"resample_to"` // 0 keeps the file rate
	OutDir     string `yaml:"out_dir"`     // copy synthesis output
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	MusicDir string `yaml:"music_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load reads path, expanding ${VAR} references from the environment. An
// empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that setDefaults cannot repair.
func (c *Config) Validate() error {
	switch c.Analysis.Format {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported sidecar format %q", c.Analysis.Format)
	}
	if c.Analysis.ResampleTo < 0 {
		return fmt.Errorf("resample_to must not be negative")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return c.Vocoder.Validate()
}

// setDefaults fills zero values. A smooth_width of 0 reads as unset, so
// files disable smoothing with 1.
func setDefaults(cfg *Config) {
	def := vocoder.DefaultConfig()
	v := &cfg.Vocoder
	if v.MagDim == 0 {
		v.MagDim = def.MagDim
	}
	if v.PhaseDim == 0 {
		v.PhaseDim = def.PhaseDim
	}
	if v.ShiftMs == 0 {
		v.ShiftMs = def.ShiftMs
	}
	if v.PeriodsPerShift == 0 {
		v.PeriodsPerShift = def.PeriodsPerShift
	}
	if v.MinF0 == 0 {
		v.MinF0 = def.MinF0
	}
	if v.MaxF0 == 0 {
		v.MaxF0 = def.MaxF0
	}
	if v.YinThreshold == 0 {
		v.YinThreshold = def.YinThreshold
	}
	if v.OctaveJump == 0 {
		v.OctaveJump = def.OctaveJump
	}
	if v.SmoothWidth == 0 {
		v.SmoothWidth = def.SmoothWidth
	}
	if v.HighPassHz == 0 {
		v.HighPassHz = def.HighPassHz
	}

	if cfg.Analysis.Format == "" {
		cfg.Analysis.Format = "json"
	}
	if cfg.Analysis.OutDir == "" {
		cfg.Analysis.OutDir = "wavs_syn"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MusicDir == "" {
		cfg.Server.MusicDir = "music"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
