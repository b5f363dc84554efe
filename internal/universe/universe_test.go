package universe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	expirations []string
	strikes     map[string][]float64
}

func (s *stubSource) Expirations(ctx context.Context, underlying string) ([]string, error) {
	return s.expirations, nil
}

func (s *stubSource) Strikes(ctx context.Context, underlying, expiration string) ([]float64, error) {
	return s.strikes[expiration], nil
}

func testCfg() Config {
	return Config{Underlying: "SPY", Expirations: 2, StrikeDistance: 10, RecalcInterval: 10, PriceMoveThresh: 1.0, Loc: time.UTC}
}

func TestRecompute_SelectsStrikesWithinDistanceAndBothSides(t *testing.T) {
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	src := &stubSource{
		expirations: []string{"2026-03-21", "2026-03-28", "2026-04-04"},
		strikes: map[string][]float64{
			"2026-03-21": {430, 440, 448, 450, 452, 460, 470},
			"2026-03-28": {440, 450, 460},
		},
	}
	u := New(testCfg())
	evicted, err := u.Recompute(context.Background(), src, 450, now)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	contracts := u.Contracts()
	// Only the nearest 2 expirations, strikes within ±10 of 450 (inclusive), both call+put.
	assert.Len(t, contracts, (5+3)*2) // 440,448,450,452,460 from exp1 + 440,450,460 from exp2, *2 types
}

func TestRecompute_DropsExpirationsPastN(t *testing.T) {
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	src := &stubSource{
		expirations: []string{"2026-03-21", "2026-03-28", "2026-04-04"},
		strikes:     map[string][]float64{"2026-03-21": {450}, "2026-03-28": {450}, "2026-04-04": {450}},
	}
	u := New(testCfg())
	_, err := u.Recompute(context.Background(), src, 450, now)
	require.NoError(t, err)
	for _, c := range u.Contracts() {
		assert.NotEqual(t, "2026-04-04", c.Expiration.Format("2006-01-02"))
	}
}

func TestRecompute_EvictsContractsNoLongerPresent(t *testing.T) {
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	src := &stubSource{
		expirations: []string{"2026-03-21"},
		strikes:     map[string][]float64{"2026-03-21": {440, 450}},
	}
	u := New(testCfg())
	_, err := u.Recompute(context.Background(), src, 450, now)
	require.NoError(t, err)
	require.Len(t, u.Contracts(), 4) // 440,450 * call/put

	src.strikes["2026-03-21"] = []float64{450} // 440 drops out
	evicted, err := u.Recompute(context.Background(), src, 450, now)
	require.NoError(t, err)
	assert.Len(t, evicted, 2) // 440 call + put
	assert.Len(t, u.Contracts(), 2)
}

func TestShouldRecompute_Triggers(t *testing.T) {
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	src := &stubSource{expirations: []string{"2026-03-21"}, strikes: map[string][]float64{"2026-03-21": {450}}}
	u := New(testCfg())

	assert.True(t, u.ShouldRecompute(450, now)) // empty universe always recomputes

	_, err := u.Recompute(context.Background(), src, 450, now)
	require.NoError(t, err)
	assert.False(t, u.ShouldRecompute(450, now))

	assert.True(t, u.ShouldRecompute(451.5, now)) // price move > threshold

	for i := 0; i < 10; i++ {
		u.Tick()
	}
	assert.True(t, u.ShouldRecompute(450, now)) // iteration counter

	u.iterationsSinceRC = 0
	pastExpiry := now.AddDate(0, 0, 2)
	assert.True(t, u.ShouldRecompute(450, pastExpiry)) // expiration rolled
}

func TestSnapshot_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	src := &stubSource{expirations: []string{"2026-03-21"}, strikes: map[string][]float64{"2026-03-21": {450}}}
	u := New(testCfg())
	_, err := u.Recompute(context.Background(), src, 450, now)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "universe.msgpack")
	require.NoError(t, u.SaveSnapshot(path))

	u2 := New(testCfg())
	require.NoError(t, u2.LoadSnapshot(path))
	assert.ElementsMatch(t, u.Contracts(), u2.Contracts())
	assert.Equal(t, u.lastRecomputeSpot, u2.lastRecomputeSpot)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
