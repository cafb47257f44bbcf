package detect

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// burst returns unit noise with 10x bursts starting at each onset.
func burst(n int, onsets ...int) []float64 {
	rng := rand.New(rand.NewSource(9))
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	for _, o := range onsets {
		for i := o; i < min(n, o+200); i++ {
			x[i] *= 10
		}
	}
	return x
}

func TestSTALTA_FindsBursts(t *testing.T) {
	d := STALTA{STA: 0.5, LTA: 5, Threshold: 4, MinGap: 3}
	x := burst(6000, 1500, 4000)

	cf, picks, err := d.Detect(context.Background(), x, 100)
	require.NoError(t, err)
	assert.Len(t, cf, len(x))
	require.Len(t, picks, 2)

	assert.InDelta(t, 1550, picks[0].Time, 60)
	assert.InDelta(t, 4050, picks[1].Time, 60)
	assert.Less(t, picks[0].Time, picks[1].Time)
	for _, p := range picks {
		assert.GreaterOrEqual(t, p.Score, 4.0)
		assert.Equal(t, cf[p.Time], p.Score)
	}
}

func TestSTALTA_QuietSignalHasNoPicks(t *testing.T) {
	d := STALTA{STA: 0.5, LTA: 5, Threshold: 4, MinGap: 3}
	_, picks, err := d.Detect(context.Background(), burst(3000), 100)
	require.NoError(t, err)
	assert.Empty(t, picks)
}

func TestSTALTA_ShortSignal(t *testing.T) {
	d := STALTA{STA: 0.5, LTA: 5, Threshold: 4}
	cf, picks, err := d.Detect(context.Background(), burst(100), 100)
	require.NoError(t, err)
	assert.Len(t, cf, 100)
	assert.Empty(t, picks)
}

func TestSTALTA_InvalidParameters(t *testing.T) {
	x := burst(1000)
	cases := map[string]STALTA{
		"zero sta":       {STA: 0, LTA: 5, Threshold: 3},
		"lta below sta":  {STA: 2, LTA: 1, Threshold: 3},
		"zero threshold": {STA: 1, LTA: 5, Threshold: 0},
		"negative gap":   {STA: 1, LTA: 5, Threshold: 3, MinGap: -1},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := d.Detect(context.Background(), x, 100)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}

	_, _, err := STALTA{STA: 1, LTA: 5, Threshold: 3}.Detect(context.Background(), x, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestPeaks_MinimumGap(t *testing.T) {
	cf := []float64{0, 5, 0, 6, 0, 0, 0, 0, 7, 0}
	got := peaks(cf, 4, 3)
	assert.Equal(t, []Pick{{Time: 3, Score: 6}, {Time: 8, Score: 7}}, got)

	got = peaks(cf, 4, 0)
	assert.Len(t, got, 3)
}

func TestSTALTA_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := STALTA{STA: 0.5, LTA: 5, Threshold: 4, MinGap: 3}
	_, _, err := d.Detect(ctx, burst(2000, 1000), 100)
	assert.ErrorIs(t, err, context.Canceled)
}
