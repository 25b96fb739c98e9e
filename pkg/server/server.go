// Package server provides the Echo web server for feature analysis and synthesis.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/nzoschke/magphase/pkg/analysis"
	"github.com/nzoschke/magphase/pkg/audio"
	"github.com/nzoschke/magphase/pkg/config"
	"github.com/nzoschke/magphase/pkg/vocoder"
)

// Track represents a track in the music library.
type Track struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	HasFeatures  bool   `json:"has_features"`
	FeaturesPath string `json:"features_path,omitempty"`
}

// Server serves the music library and the vocoder API.
type Server struct {
	e        *echo.Echo
	cfg      config.ServerConfig
	analyzer *analysis.Analyzer
	highPass *vocoder.Vocoder
	log      *zap.SugaredLogger
}

// New creates a server. Analysis and plain synthesis run on analyzer's
// vocoder; a second vocoder with the output high-pass enabled serves
// ?highpass=1 requests.
func New(cfg config.ServerConfig, analyzer *analysis.Analyzer, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vcfg := analyzer.Vocoder().Config()
	vcfg.OutputHighPass = true
	hp, err := vocoder.New(vcfg, vocoder.WithLogger(log.Named("vocoder")))
	if err != nil {
		return nil, fmt.Errorf("create high-pass vocoder: %w", err)
	}

	s := &Server{
		e:        echo.New(),
		cfg:      cfg,
		analyzer: analyzer,
		highPass: hp,
		log:      log.Sugar(),
	}
	s.e.HideBanner = true

	// Middleware
	s.e.Use(middleware.Logger())
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.CORS())

	// Routes
	s.e.GET("/api/music", s.listMusic)
	s.e.GET("/api/music/*", s.serveMusic)
	s.e.POST("/api/analyze", s.analyze)
	s.e.POST("/api/synthesize", s.synthesize)

	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.e }

// Run starts the web server on the configured address.
func (s *Server) Run() error {
	s.log.Infof("Serving %s on %s", s.cfg.MusicDir, s.cfg.Addr)
	return s.e.Start(s.cfg.Addr)
}

// listMusic returns a list of all tracks in the music directory.
func (s *Server) listMusic(c echo.Context) error {
	tracks := []Track{}
	root := s.cfg.MusicDir

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if !audio.IsSupported(ext) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		track := Track{
			Name: strings.TrimSuffix(filepath.Base(path), ext),
			Path: filepath.ToSlash(relPath),
		}

		// First sidecar found wins
		for _, format := range []string{analysis.FormatJSON, analysis.FormatMsgpack} {
			sidecar := analysis.SidecarPath(path, format)
			if _, err := os.Stat(sidecar); err == nil {
				track.HasFeatures = true
				track.FeaturesPath = filepath.ToSlash(analysis.SidecarPath(relPath, format))
				break
			}
		}

		tracks = append(tracks, track)
		return nil
	})

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, tracks)
}

// serveMusic serves audio files and feature sidecars from the music directory.
func (s *Server) serveMusic(c echo.Context) error {
	// Get the path after /api/music/ and URL-decode it
	path := c.Param("*")
	decodedPath, err := url.PathUnescape(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}

	// Security: prevent directory traversal
	if strings.Contains(decodedPath, "..") {
		return echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}
	fullPath := filepath.Join(s.cfg.MusicDir, decodedPath)

	info, err := os.Stat(fullPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}

	// Only serve allowed file types
	ext := strings.ToLower(filepath.Ext(decodedPath))
	switch {
	case audio.IsSupported(ext):
		return c.File(fullPath)
	case ext == ".json":
		// Validate before serving
		data, err := os.ReadFile(fullPath)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		var ta map[string]any
		if err := json.Unmarshal(data, &ta); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "invalid JSON")
		}
		return c.JSON(http.StatusOK, ta)
	case ext == ".msgpack":
		if _, err := analysis.ReadTrackAnalysis(fullPath); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "invalid msgpack")
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/msgpack")
		return c.File(fullPath)
	}
	return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
}

// analyze runs the vocoder analysis on an uploaded audio file.
func (s *Server) analyze(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !audio.IsSupported(ext) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported audio format: "+ext)
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	// Decoders need a path with the right extension
	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := tmp.Close(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ta, err := s.analyzer.AnalyzeFileWithPath(tmp.Name())
	if err != nil {
		return httpError(err)
	}
	ta.File = filepath.Base(fh.Filename)
	s.log.Infof("Analyzed %s: %d frames", ta.File, ta.Frames)

	return c.JSON(http.StatusOK, ta)
}

// synthesize renders posted features to a WAV file.
func (s *Server) synthesize(c echo.Context) error {
	f := &vocoder.Features{}
	if err := json.NewDecoder(c.Request().Body).Decode(f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid features: "+err.Error())
	}

	voc := s.analyzer.Vocoder()
	if c.QueryParam("highpass") == "1" {
		voc = s.highPass
	}
	y, err := voc.Synthesize(f)
	if err != nil {
		return httpError(err)
	}

	// The WAV encoder seeks back to patch the header
	tmp, err := os.CreateTemp("", "synth-*.wav")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := audio.EncodeWAV(tmp, y, f.SampleRate); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Stream(http.StatusOK, "audio/wav", tmp)
}

// httpError maps vocoder input errors to 422 and everything else to 500.
func httpError(err error) error {
	for _, target := range []error{
		vocoder.ErrInsufficientSignal,
		vocoder.ErrInvalidDimension,
		vocoder.ErrUnstableTransformSize,
		vocoder.ErrInvalidConfig,
	} {
		if errors.Is(err, target) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
