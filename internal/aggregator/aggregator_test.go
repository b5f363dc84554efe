package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optionpulse/internal/domain"
	"github.com/aristath/optionpulse/internal/validate"
)

func domainContract(symbol string) domain.OptionContract {
	return domain.OptionContract{
		Underlying: "SPY",
		Expiration: time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC),
		Strike:     decimal.NewFromInt(450),
		Type:       domain.Call,
		Symbol:     symbol,
	}
}

func tick(sym string, price float64, vol int64, ts time.Time) validate.UnderlyingTick {
	return validate.UnderlyingTick{Symbol: sym, Timestamp: ts, Price: decimal.NewFromFloat(price), CumVolume: vol}
}

func TestPut_FirstTickSetsOpenHighLowClose(t *testing.T) {
	a := NewUnderlyingAggregator(time.Minute, time.UTC, 1000)
	ts := time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)
	a.Put(tick("SPY", 450, 100, ts), ts)

	bars := a.Sweep(ts.Add(time.Minute))
	require.Len(t, bars, 1)
	b := bars[0]
	assert.True(t, b.Open.Equal(decimal.NewFromFloat(450)))
	assert.True(t, b.High.Equal(decimal.NewFromFloat(450)))
	assert.True(t, b.Low.Equal(decimal.NewFromFloat(450)))
	assert.True(t, b.Close.Equal(decimal.NewFromFloat(450)))
	assert.EqualValues(t, 100, b.UpVolume)
}

func TestPut_UpdatesHighLowCloseAndOverwritesCounters(t *testing.T) {
	a := NewUnderlyingAggregator(time.Minute, time.UTC, 1000)
	base := time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)
	a.Put(tick("SPY", 450, 100, base), base)
	a.Put(tick("SPY", 452, 150, base.Add(10*time.Second)), base)
	a.Put(tick("SPY", 448, 200, base.Add(20*time.Second)), base)

	bars := a.Sweep(base.Add(time.Minute))
	require.Len(t, bars, 1)
	b := bars[0]
	assert.True(t, b.Open.Equal(decimal.NewFromFloat(450)))
	assert.True(t, b.High.Equal(decimal.NewFromFloat(452)))
	assert.True(t, b.Low.Equal(decimal.NewFromFloat(448)))
	assert.True(t, b.Close.Equal(decimal.NewFromFloat(448)))
	assert.EqualValues(t, 200, b.UpVolume) // overwritten, never summed
}

func TestSweep_HalfOpenLeftBoundary(t *testing.T) {
	// A tick exactly on a bucket boundary belongs to the *starting* bucket
	// (spec.md §8), and that bucket is complete exactly at the next boundary.
	a := NewUnderlyingAggregator(time.Minute, time.UTC, 1000)
	boundary := time.Date(2026, 3, 20, 14, 31, 0, 0, time.UTC)
	a.Put(tick("SPY", 450, 0, boundary), boundary)

	// Not yet complete: "now" still inside the bucket.
	assert.Empty(t, a.Sweep(boundary.Add(30*time.Second)))

	// Complete once now reaches the next boundary.
	bars := a.Sweep(boundary.Add(time.Minute))
	require.Len(t, bars, 1)
	assert.True(t, bars[0].BucketStart.Equal(boundary))
}

func TestPut_BackPressureFlushesOldestWhenOverCapacity(t *testing.T) {
	a := NewUnderlyingAggregator(time.Minute, time.UTC, 1)
	t1 := time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	flushed := a.Put(tick("SPY", 450, 0, t1), t1)
	assert.Empty(t, flushed) // first bucket alone is within capacity

	flushed = a.Put(tick("SPY", 451, 0, t2), t2)
	require.Len(t, flushed, 1) // second distinct bucket pushes over MAX_BUFFER_SIZE=1
	assert.True(t, flushed[0].BucketStart.Equal(t1))

	// The second bucket is still live and completes normally; no data lost.
	bars := a.Sweep(t2.Add(time.Minute))
	require.Len(t, bars, 1)
	assert.True(t, bars[0].BucketStart.Equal(t2))
}

func TestFlushAll_EmitsIncompleteBucketsForShutdown(t *testing.T) {
	a := NewUnderlyingAggregator(time.Minute, time.UTC, 1000)
	ts := time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)
	a.Put(tick("SPY", 450, 0, ts), ts)

	bars := a.FlushAll()
	require.Len(t, bars, 1)
	assert.Equal(t, 0, a.Count())
}

func TestFlushSymbol_EvictsOnlyMatchingSymbol(t *testing.T) {
	a := NewUnderlyingAggregator(time.Minute, time.UTC, 1000)
	ts := time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)
	a.Put(tick("SPY", 450, 0, ts), ts)
	a.Put(tick("QQQ", 380, 0, ts), ts)

	bars := a.FlushSymbol("SPY")
	require.Len(t, bars, 1)
	assert.Equal(t, "SPY", bars[0].Symbol)
	assert.Equal(t, 1, a.Count())
}

func optTick(symbol string, last float64, ts time.Time) validate.OptionTick {
	l := decimal.NewFromFloat(last)
	return validate.OptionTick{
		Contract:  domainContract(symbol),
		Timestamp: ts,
		Last:      &l,
	}
}
