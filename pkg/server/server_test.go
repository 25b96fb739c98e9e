package server

import (
	"bytes"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nzoschke/magphase/pkg/analysis"
	"github.com/nzoschke/magphase/pkg/audio"
	"github.com/nzoschke/magphase/pkg/config"
	"github.com/nzoschke/magphase/pkg/vocoder"
)

func tone(n int) []float64 {
	x := make([]float64, n)
	for h := 1; h <= 6; h++ {
		for i := range x {
			x[i] += 0.2 / float64(h) * math.Sin(2*math.Pi*float64(h)*160*float64(i)/16000)
		}
	}
	return x
}

func newServer(t *testing.T, musicDir string) *Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	a, err := analysis.New(vocoder.DefaultConfig(), analysis.WithLogger(log))
	require.NoError(t, err)
	s, err := New(config.ServerConfig{Addr: ":0", MusicDir: musicDir}, a, log)
	require.NoError(t, err)
	return s
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestListMusic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.wav"), "")
	writeFile(t, filepath.Join(dir, "a.json"), "{}")
	writeFile(t, filepath.Join(dir, "b.mp3"), "")
	writeFile(t, filepath.Join(dir, "sub", "c.wav"), "")
	writeFile(t, filepath.Join(dir, "sub", "c.msgpack"), "")
	writeFile(t, filepath.Join(dir, "notes.txt"), "")

	rec := do(newServer(t, dir), httptest.NewRequest(http.MethodGet, "/api/music", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var tracks []Track
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	assert.Equal(t, []Track{
		{Name: "a", Path: "a.wav", HasFeatures: true, FeaturesPath: "a.json"},
		{Name: "b", Path: "b.mp3"},
		{Name: "c", Path: "sub/c.wav", HasFeatures: true, FeaturesPath: "sub/c.msgpack"},
	}, tracks)
}

func TestListMusicMissingDir(t *testing.T) {
	rec := do(newServer(t, filepath.Join(t.TempDir(), "missing")), httptest.NewRequest(http.MethodGet, "/api/music", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeMusic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, audio.WriteWAV(filepath.Join(dir, "a.wav"), tone(1600), 16000))
	writeFile(t, filepath.Join(dir, "a.json"), `{"file":"a.wav"}`)
	writeFile(t, filepath.Join(dir, "bad.json"), `{`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "hi")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))

	s := newServer(t, dir)

	tests := []struct {
		path string
		code int
	}{
		{"/api/music/a.wav", http.StatusOK},
		{"/api/music/a.json", http.StatusOK},
		{"/api/music/bad.json", http.StatusInternalServerError},
		{"/api/music/notes.txt", http.StatusForbidden},
		{"/api/music/sub", http.StatusForbidden},
		{"/api/music/missing.wav", http.StatusNotFound},
		{"/api/music/..%2Fsecret.json", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(s, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestServeMusicMsgpack(t *testing.T) {
	dir := t.TempDir()
	s := newServer(t, dir)

	ta, err := s.analyzer.AnalyzeSamples("a.wav", tone(4000), 16000)
	require.NoError(t, err)
	require.NoError(t, ta.WriteFile(filepath.Join(dir, "a.msgpack")))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/music/a.msgpack", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
}

func upload(t *testing.T, name string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func wavBytes(t *testing.T, x []float64) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, audio.WriteWAV(path, x, 16000))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestAnalyze(t *testing.T) {
	s := newServer(t, t.TempDir())

	rec := do(s, upload(t, "voice.wav", wavBytes(t, tone(4000))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ta analysis.TrackAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ta))
	assert.Equal(t, "voice.wav", ta.File)
	assert.Equal(t, 16000, ta.SampleRate)
	require.NotNil(t, ta.Features)
	assert.Equal(t, ta.Frames, ta.Features.Frames())
	assert.Equal(t, 60, ta.Features.MagDim())
}

func TestAnalyzeErrors(t *testing.T) {
	s := newServer(t, t.TempDir())

	rec := do(s, upload(t, "short.wav", wavBytes(t, tone(40))))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = do(s, upload(t, "voice.flac", []byte("fLaC")))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = do(s, upload(t, "junk.wav", []byte("junk")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func synthRequest(t *testing.T, f *vocoder.Features, query string) *http.Request {
	t.Helper()
	body, err := json.Marshal(f)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/synthesize"+query, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSynthesize(t *testing.T) {
	s := newServer(t, t.TempDir())
	x := tone(4000)
	ta, err := s.analyzer.AnalyzeSamples("voice.wav", x, 16000)
	require.NoError(t, err)

	rec := do(s, synthRequest(t, ta.Features, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))

	y, sampleRate, err := audio.DecodeWAV(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 16000, sampleRate)
	assert.Len(t, y, len(x))

	rec = do(s, synthRequest(t, ta.Features, "?highpass=1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hp, _, err := audio.DecodeWAV(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, hp, len(y))
	assert.NotEqual(t, y, hp)
}

func TestSynthesizeErrors(t *testing.T) {
	s := newServer(t, t.TempDir())
	ta, err := s.analyzer.AnalyzeSamples("voice.wav", tone(4000), 16000)
	require.NoError(t, err)

	short := ta.Features.Clone()
	short.LF0 = short.LF0[1:]
	rec := do(s, synthRequest(t, short, ""))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	wrongSize := ta.Features.Clone()
	wrongSize.FFTLength = 1024
	rec = do(s, synthRequest(t, wrongSize, ""))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	for _, numSamples := range []int{-1, 1 << 30} {
		bad := ta.Features.Clone()
		bad.NumSamples = numSamples
		rec = do(s, synthRequest(t, bad, ""))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "num_samples %d", numSamples)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/synthesize", bytes.NewReader([]byte("{")))
	rec = do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
