// CLI for magnitude/phase feature analysis, copy synthesis and the API server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nzoschke/magphase/pkg/analysis"
	"github.com/nzoschke/magphase/pkg/config"
	"github.com/nzoschke/magphase/pkg/logger"
	"github.com/nzoschke/magphase/pkg/server"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "app",
	Short: "Mel-compressed magnitude/phase vocoder",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if err := logger.Init(cfg.Log); err != nil {
			return err
		}
		if path == "" {
			logger.Debugf("No config file, using defaults")
		} else {
			logger.Debugf("Loaded config %s", path)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <directory>",
	Short: "Analyze audio files and create feature sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if cmd.Flags().Changed("format") {
			cfg.Analysis.Format, _ = cmd.Flags().GetString("format")
		}
		return runAnalyze(args[0], force)
	},
}

var copysynCmd = &cobra.Command{
	Use:   "copysyn <file>",
	Short: "Analyze and resynthesize an audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("out-dir") {
			cfg.Analysis.OutDir, _ = flags.GetString("out-dir")
		}
		if flags.Changed("mag-dim") {
			cfg.Vocoder.MagDim, _ = flags.GetInt("mag-dim")
		}
		if flags.Changed("phase-dim") {
			cfg.Vocoder.PhaseDim, _ = flags.GetInt("phase-dim")
		}
		if flags.Changed("const-rate") {
			cfg.Vocoder.ConstantRate, _ = flags.GetBool("const-rate")
		}
		if flags.Changed("hpf") {
			cfg.Vocoder.OutputHighPass, _ = flags.GetBool("hpf")
		}
		return runCopySynthesis(args[0])
	},
}

var synthCmd = &cobra.Command{
	Use:   "synth <sidecar> <out.wav>",
	Short: "Synthesize a WAV file from a feature sidecar",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("hpf") {
			cfg.Vocoder.OutputHighPass, _ = cmd.Flags().GetBool("hpf")
		}
		return runSynth(args[0], args[1])
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
		}
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	analyzeCmd.Flags().BoolP("force", "f", false, "Force re-analysis even if a sidecar exists")
	analyzeCmd.Flags().String("format", analysis.FormatJSON, "Sidecar format (json, msgpack)")

	copysynCmd.Flags().String("out-dir", "wavs_syn", "Output directory")
	copysynCmd.Flags().Int("mag-dim", 60, "Mel magnitude dimension")
	copysynCmd.Flags().Int("phase-dim", 45, "Mel phase dimension")
	copysynCmd.Flags().Bool("const-rate", false, "Use a constant frame rate instead of pitch-synchronous frames")
	copysynCmd.Flags().Bool("hpf", false, "High-pass filter the output")

	synthCmd.Flags().Bool("hpf", false, "High-pass filter the output")

	serveCmd.Flags().String("addr", ":8080", "Listen address")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(copysynCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func newAnalyzer() (*analysis.Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	analyzer, err := analysis.New(cfg.Vocoder,
		analysis.WithFormat(cfg.Analysis.Format),
		analysis.WithResample(cfg.Analysis.ResampleTo),
		analysis.WithLogger(logger.Named("analysis")),
	)
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	return analyzer, nil
}

func runAnalyze(dir string, force bool) error {
	analyzer, err := newAnalyzer()
	if err != nil {
		return err
	}
	if err := analyzer.AnalyzeDir(dir, force); err != nil {
		return err
	}
	logger.Infof("Analyzed %s", dir)
	return nil
}

func runCopySynthesis(path string) error {
	analyzer, err := newAnalyzer()
	if err != nil {
		return err
	}
	out, snr, err := analyzer.CopySynthesis(path, cfg.Analysis.OutDir)
	if err != nil {
		return err
	}
	logger.Infof("Wrote %s (SNR %.2f dB)", out, snr)
	return nil
}

func runSynth(sidecar, out string) error {
	analyzer, err := newAnalyzer()
	if err != nil {
		return err
	}
	if err := analyzer.SynthesizeFile(sidecar, out); err != nil {
		return err
	}
	logger.Infof("Wrote %s", out)
	return nil
}

func runServe() error {
	analyzer, err := newAnalyzer()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Server.MusicDir); err != nil {
		logger.Warnf("Music dir %s is not readable: %v", cfg.Server.MusicDir, err)
	}
	srv, err := server.New(cfg.Server, analyzer, logger.Named("server"))
	if err != nil {
		return err
	}
	return srv.Run()
}
