// Package aggregator is C7: accumulates arriving ticks into one-minute
// buckets keyed by (id, bucket_start) and emits completed buckets on
// sweep. Grounded on the teacher's map-plus-mutex accumulator idiom (e.g.
// internal/modules/universe/security_repository.go's in-memory cache) —
// the teacher's codebase predates Go generics and never reaches for them,
// so this keeps two concrete accumulator types rather than one generic
// one, matching that texture.
package aggregator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/optionpulse/internal/domain"
	"github.com/aristath/optionpulse/internal/validate"
)

// key identifies one accumulator: an underlying symbol or a contract
// symbol, paired with the bucket it belongs to.
type key struct {
	id          string
	bucketStart time.Time
}

// UnderlyingAccum is the in-progress OHLC+volume state for one
// (symbol, bucket_start).
type UnderlyingAccum struct {
	Symbol      string
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	CumVolume   int64
}

func (a UnderlyingAccum) toBar() domain.UnderlyingBar {
	return domain.UnderlyingBar{
		Symbol:      a.Symbol,
		BucketStart: a.BucketStart,
		Open:        a.Open,
		High:        a.High,
		Low:         a.Low,
		Close:       a.Close,
		UpVolume:    a.CumVolume,
	}
}

// UnderlyingAggregator buckets validated underlying ticks.
type UnderlyingAggregator struct {
	mu            sync.Mutex
	bucketSize    time.Duration
	loc           *time.Location
	maxBufferSize int
	data          map[key]*UnderlyingAccum
	order         []key
}

// NewUnderlyingAggregator creates an aggregator bucketing at bucketSize in
// loc, flushing the oldest complete buckets once live count exceeds
// maxBufferSize (spec.md §4.7 back-pressure).
func NewUnderlyingAggregator(bucketSize time.Duration, loc *time.Location, maxBufferSize int) *UnderlyingAggregator {
	return &UnderlyingAggregator{
		bucketSize:    bucketSize,
		loc:           loc,
		maxBufferSize: maxBufferSize,
		data:          make(map[key]*UnderlyingAccum),
	}
}

func (a *UnderlyingAggregator) bucketStartFor(ts time.Time) time.Time {
	return ts.In(a.loc).Truncate(a.bucketSize)
}

// Put folds one validated tick into its bucket. now drives the
// back-pressure check, independent of the tick's own timestamp (a late
// tick must not itself look "current").
func (a *UnderlyingAggregator) Put(tick validate.UnderlyingTick, now time.Time) []domain.UnderlyingBar {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucketStart := a.bucketStartFor(tick.Timestamp)
	k := key{id: tick.Symbol, bucketStart: bucketStart}

	if acc, ok := a.data[k]; ok {
		acc.High = decimal.Max(acc.High, tick.Price)
		acc.Low = decimal.Min(acc.Low, tick.Price)
		acc.Close = tick.Price
		acc.CumVolume = tick.CumVolume
	} else {
		a.data[k] = &UnderlyingAccum{
			Symbol: tick.Symbol, BucketStart: bucketStart,
			Open: tick.Price, High: tick.Price, Low: tick.Price, Close: tick.Price,
			CumVolume: tick.CumVolume,
		}
		a.order = append(a.order, k)
	}

	return a.flushIfOverCapacity(now)
}

// Sweep declares any bucket whose window has ended complete and returns it,
// removing it from the live set.
func (a *UnderlyingAggregator) Sweep(now time.Time) []domain.UnderlyingBar {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainWhere(func(k key) bool { return !now.Before(k.bucketStart.Add(a.bucketSize)) })
}

// FlushAll emits every live accumulator regardless of completeness, for
// shutdown (spec.md §4.10 Streaming → Flushing) or universe eviction.
func (a *UnderlyingAggregator) FlushAll() []domain.UnderlyingBar {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainWhere(func(key) bool { return true })
}

// FlushSymbol emits and drops every live bucket for one symbol, used when
// the strike universe evicts an underlying or a periodic cleanup sweep
// finds a tracked contract's expiration has passed (spec.md §4.10).
func (a *UnderlyingAggregator) FlushSymbol(symbol string) []domain.UnderlyingBar {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainWhere(func(k key) bool { return k.id == symbol })
}

// Count reports the number of live accumulators (back-pressure gauge).
func (a *UnderlyingAggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

func (a *UnderlyingAggregator) flushIfOverCapacity(now time.Time) []domain.UnderlyingBar {
	if len(a.data) <= a.maxBufferSize {
		return nil
	}
	var out []domain.UnderlyingBar
	var remaining []key
	for _, k := range a.order {
		acc, ok := a.data[k]
		if !ok {
			continue
		}
		if len(a.data) > a.maxBufferSize && !now.Before(k.bucketStart.Add(a.bucketSize)) {
			out = append(out, acc.toBar())
			delete(a.data, k)
			continue
		}
		remaining = append(remaining, k)
	}
	a.order = remaining
	return out
}

// drainWhere must be called with a.mu held.
func (a *UnderlyingAggregator) drainWhere(match func(key) bool) []domain.UnderlyingBar {
	var out []domain.UnderlyingBar
	var remaining []key
	for _, k := range a.order {
		acc, ok := a.data[k]
		if !ok {
			continue
		}
		if match(k) {
			out = append(out, acc.toBar())
			delete(a.data, k)
		} else {
			remaining = append(remaining, k)
		}
	}
	a.order = remaining
	return out
}
