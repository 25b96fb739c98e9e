package vocoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertCovers(t *testing.T, g Grid, numSamples int) {
	t.Helper()
	require.NotEmpty(t, g)
	assert.Equal(t, 0, g[0].Center)
	assert.Equal(t, numSamples-1, g[len(g)-1].Center)
	require.NoError(t, g.Validate(numSamples, 1023))

	i := 0
	for n := 0; n < numSamples; n++ {
		for g[i].Center < n && i+1 < len(g) && g[i+1].Center <= n {
			i++
		}
		inside := abs(n-g[i].Center) <= g[i].HalfWidth
		if i+1 < len(g) {
			inside = inside || abs(g[i+1].Center-n) <= g[i+1].HalfWidth
		}
		require.True(t, inside, "sample %d outside every window", n)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func constantTrack(hop, n int, hz float64, voiced bool) *F0Track {
	track := &F0Track{Hop: hop, F0: make([]float64, n), Voiced: make([]bool, n), LF0: make([]float64, n)}
	for i := range n {
		track.LF0[i] = math.Log(hz)
		track.Voiced[i] = voiced
		if voiced {
			track.F0[i] = hz
		}
	}
	return track
}

func TestConstantGrid(t *testing.T) {
	g := ConstantGrid(1001, 80, 1023)

	assert.Equal(t, []int{0, 80, 160, 240, 320, 400, 480, 560, 640, 720, 800, 880, 960, 1000}, g.Centers())
	assert.Equal(t, 80, g[0].HalfWidth)
	assert.Equal(t, 80, g[12].HalfWidth)
	assert.Equal(t, 40, g[13].HalfWidth)
	assert.Equal(t, 80, g.Shifts()[0])
	assert.Equal(t, 40, g.Shifts()[13])
	assertCovers(t, g, 1001)

	// an exact multiple does not duplicate the last center
	g = ConstantGrid(161, 80, 1023)
	assert.Equal(t, []int{0, 80, 160}, g.Centers())
}

func TestPitchSyncGridVoiced(t *testing.T) {
	cfg := DefaultConfig()
	track := constantTrack(80, 200, 200, true)

	g := PitchSyncGrid(16000, 16000, track, cfg, 1023)
	for i := 0; i+2 < len(g); i++ {
		assert.Equal(t, 160, g[i+1].Center-g[i].Center, "frame %d", i)
		assert.True(t, g[i].Voiced)
		assert.InDelta(t, 80, g[i].Period, 1e-9)
	}
	assert.Equal(t, 160, g[1].HalfWidth)
	assertCovers(t, g, 16000)
}

func TestConstantGridFoldsShortTail(t *testing.T) {
	g := ConstantGrid(971, 80, 1023)

	centers := g.Centers()
	assert.Equal(t, []int{800, 880, 970}, centers[len(centers)-3:])
	assert.Equal(t, 90, g[len(g)-1].HalfWidth)
	assertCovers(t, g, 971)
}

func TestPitchSyncGridUnvoicedFill(t *testing.T) {
	cfg := DefaultConfig()
	track := constantTrack(80, 200, math.Exp(cfg.unvoicedLF0()), false)

	g := PitchSyncGrid(16000, 16000, track, cfg, 1023)
	assert.Equal(t, ConstantGrid(16000, 80, 1023).Centers(), g.Centers())
	for _, f := range g {
		assert.False(t, f.Voiced)
		assert.InDelta(t, 40, f.Period, 1e-9)
	}
}

func TestPitchSyncGridFollowsContourWhenUnvoiced(t *testing.T) {
	cfg := DefaultConfig()
	track := constantTrack(80, 101, 125, true)
	for i := 50; i < len(track.Voiced); i++ {
		track.Voiced[i] = false
	}

	g := PitchSyncGrid(8000, 16000, track, cfg, 1023)
	assertCovers(t, g, 8000)
	for i := 0; i+2 < len(g); i++ {
		assert.Equal(t, 256, g[i+1].Center-g[i].Center, "frame %d", i)
	}
	assert.True(t, g[0].Voiced)
	assert.False(t, g[len(g)-2].Voiced)
}

func TestGridFromLF0MatchesAnalysisGrid(t *testing.T) {
	cfg := DefaultConfig()
	track := constantTrack(80, 101, 180, true)
	for i := range track.LF0 {
		track.LF0[i] = math.Log(150 + float64(i))
	}

	for _, numSamples := range []int{8000, 7777, 1234} {
		g := PitchSyncGrid(numSamples, 16000, track, cfg, 1023)
		lf0 := GridLF0(g, track, 16000, cfg)
		require.Len(t, lf0, len(g))

		for _, known := range []int{0, numSamples} {
			derived := GridFromLF0(lf0, 16000, known, cfg, 1023)
			require.Len(t, derived, len(g))
			for i := range g {
				assert.Equal(t, g[i].Center, derived[i].Center, "%d samples, frame %d", numSamples, i)
				assert.Equal(t, g[i].HalfWidth, derived[i].HalfWidth, "%d samples, frame %d", numSamples, i)
			}
		}
	}
}

func TestGridFromLF0ConstantRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConstantRate = true

	for _, numSamples := range []int{1001, 971, 161} {
		g := ConstantGrid(numSamples, 80, 1023)
		lf0 := GridLF0(g, constantTrack(80, 14, 150, true), 16000, cfg)

		assert.Equal(t, g.Centers(), GridFromLF0(lf0, 16000, numSamples, cfg, 1023).Centers())
		assert.Equal(t, g.Centers(), GridFromLF0(lf0, 16000, 0, cfg, 1023).Centers())
	}
	assert.Nil(t, GridFromLF0(nil, 16000, 0, cfg, 1023))
}

func TestGridLF0EndGap(t *testing.T) {
	cfg := DefaultConfig()
	g := ConstantGrid(1001, 80, 1023)
	lf0 := GridLF0(g, constantTrack(80, 14, 150, true), 16000, cfg)

	assert.InDelta(t, math.Log(150), lf0[0], 1e-12)
	assert.Equal(t, 40, pitchShift(lf0[len(lf0)-1], 16000, cfg, 1023))
	assert.Equal(t, []float64{0}, GridLF0(Grid{{Center: 0, HalfWidth: 1}}, constantTrack(80, 1, 1, true), 16000, cfg))
}

func TestGridValidate(t *testing.T) {
	good := Grid{{Center: 0, HalfWidth: 10}, {Center: 10, HalfWidth: 10}}
	assert.NoError(t, good.Validate(11, 1023))

	for name, g := range map[string]Grid{
		"unordered":  {{Center: 10, HalfWidth: 10}, {Center: 10, HalfWidth: 10}},
		"negative":   {{Center: -1, HalfWidth: 10}},
		"zero width": {{Center: 0, HalfWidth: 0}},
		"too wide":   {{Center: 0, HalfWidth: 2000}},
		"late start": {{Center: 2000, HalfWidth: 10}},
		"wide gap":   {{Center: 0, HalfWidth: 1000}, {Center: 1100, HalfWidth: 1000}},
	} {
		assert.ErrorIs(t, g.Validate(0, 1023), ErrInvalidDimension, name)
	}
	assert.ErrorIs(t, good.Validate(5, 1023), ErrInvalidDimension)
}
