package vocoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateF0Sine(t *testing.T) {
	for _, tc := range []struct {
		sampleRate int
		hz         float64
	}{
		{16000, 110},
		{16000, 220},
		{48000, 220},
		{22050, 330},
	} {
		x := sine(tc.sampleRate, tc.hz, 0.5, 0.5)
		track, err := EstimateF0(x, tc.sampleRate, DefaultConfig())
		require.NoError(t, err)

		voiced := 0
		for i := track.Len() / 4; i < 3*track.Len()/4; i++ {
			require.True(t, track.Voiced[i], "%g Hz frame %d unvoiced", tc.hz, i)
			assert.InDelta(t, tc.hz, track.F0[i], 1, "%g Hz frame %d", tc.hz, i)
			assert.InDelta(t, math.Log(tc.hz), track.LF0[i], 0.005)
			voiced++
		}
		t.Logf("%d Hz @ %d: %d frames, %d checked", int(tc.hz), tc.sampleRate, track.Len(), voiced)
	}
}

func TestEstimateF0TrackCoversSignal(t *testing.T) {
	x := harmonic(16000, 150, 0.3)
	track, err := EstimateF0(x, 16000, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 80, track.Hop)
	assert.GreaterOrEqual(t, (track.Len()-1)*track.Hop, len(x)-1)
	assert.Less(t, (track.Len()-2)*track.Hop, len(x)-1)
	assert.False(t, hasNaN(track.LF0))
}

func TestEstimateF0Silence(t *testing.T) {
	cfg := DefaultConfig()
	track, err := EstimateF0(make([]float64, 8000), 16000, cfg)
	require.NoError(t, err)

	for i := range track.LF0 {
		assert.False(t, track.Voiced[i])
		assert.Equal(t, 0.0, track.F0[i])
		assert.Equal(t, cfg.unvoicedLF0(), track.LF0[i])
	}
	assert.InDelta(t, 400, math.Exp(cfg.unvoicedLF0()), 1e-9)
}

func TestEstimateF0Errors(t *testing.T) {
	_, err := EstimateF0(make([]float64, 100), 0, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.MaxF0 = cfg.MinF0
	_, err = EstimateF0(make([]float64, 100), 16000, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRemoveOctaveOutliers(t *testing.T) {
	l := math.Log
	logs := []float64{l(200), l(202), l(400), l(201), l(199), 0, 0, 0, 0, l(150)}
	voiced := []bool{true, true, true, true, true, false, false, false, false, true}

	got := removeOctaveOutliers(logs, voiced, 0.5)
	assert.Equal(t, []bool{true, true, false, true, true, false, false, false, false, false}, got)
	// input untouched
	assert.True(t, voiced[2])
}

func TestInterpolateLF0(t *testing.T) {
	logs := []float64{0, 0, 4, 0, 0, 0, 8, 0}
	voiced := []bool{false, false, true, false, false, false, true, false}

	got, ok := interpolateLF0(logs, voiced)
	require.True(t, ok)
	assert.Equal(t, []float64{4, 4, 4, 5, 6, 7, 8, 8}, got)

	_, ok = interpolateLF0(logs, make([]bool, len(logs)))
	assert.False(t, ok)
}

func TestMedianSmooth(t *testing.T) {
	v := []float64{1, 1, 9, 1, 1, 2, 2, 2}
	assert.Equal(t, []float64{1, 1, 1, 1, 2, 2, 2, 2}, medianSmooth(v, 5))
	assert.Equal(t, v, medianSmooth(v, 1))
	assert.Equal(t, v, medianSmooth(v, 0))
}

func TestF0TrackSampling(t *testing.T) {
	track := &F0Track{
		Hop:    10,
		LF0:    []float64{1, 2, 4},
		Voiced: []bool{true, false, true},
	}
	assert.Equal(t, 1.0, track.LF0At(-5))
	assert.Equal(t, 1.5, track.LF0At(5))
	assert.Equal(t, 3.0, track.LF0At(15))
	assert.Equal(t, 4.0, track.LF0At(100))

	assert.True(t, track.VoicedAt(4))
	assert.False(t, track.VoicedAt(6))
	assert.True(t, track.VoicedAt(1000))
}
