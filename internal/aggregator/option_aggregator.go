package aggregator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/optionpulse/internal/domain"
	"github.com/aristath/optionpulse/internal/validate"
)

// OptionAccum is the in-progress quote state for one
// (contract_symbol, bucket_start), carrying the contract identity forward
// so the enrichment stage (IV + Greeks) doesn't need a second lookup.
type OptionAccum struct {
	Contract     domain.OptionContract
	BucketStart  time.Time
	Last         *decimal.Decimal
	Bid          *decimal.Decimal
	Ask          *decimal.Decimal
	CumVolume    int64
	OpenInterest int64
	BrokerIV     *float64
}

// OptionAggregator buckets validated option ticks, one per contract.
type OptionAggregator struct {
	mu            sync.Mutex
	bucketSize    time.Duration
	loc           *time.Location
	maxBufferSize int
	data          map[key]*OptionAccum
	order         []key
}

// NewOptionAggregator mirrors NewUnderlyingAggregator for option ticks.
func NewOptionAggregator(bucketSize time.Duration, loc *time.Location, maxBufferSize int) *OptionAggregator {
	return &OptionAggregator{
		bucketSize:    bucketSize,
		loc:           loc,
		maxBufferSize: maxBufferSize,
		data:          make(map[key]*OptionAccum),
	}
}

func (a *OptionAggregator) bucketStartFor(ts time.Time) time.Time {
	return ts.In(a.loc).Truncate(a.bucketSize)
}

// Put folds one validated option tick into its bucket; last/bid/ask/IV are
// overwritten with the newest observation, volume/OI with the newer
// cumulative value (broker reports cumulative, never summed).
func (a *OptionAggregator) Put(tick validate.OptionTick, now time.Time) []OptionAccum {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucketStart := a.bucketStartFor(tick.Timestamp)
	k := key{id: tick.Contract.Symbol, bucketStart: bucketStart}

	if acc, ok := a.data[k]; ok {
		if tick.Last != nil {
			acc.Last = tick.Last
		}
		if tick.Bid != nil {
			acc.Bid = tick.Bid
		}
		if tick.Ask != nil {
			acc.Ask = tick.Ask
		}
		acc.CumVolume = tick.CumVolume
		acc.OpenInterest = tick.OpenInterest
		if tick.BrokerIV != nil {
			acc.BrokerIV = tick.BrokerIV
		}
	} else {
		a.data[k] = &OptionAccum{
			Contract: tick.Contract, BucketStart: bucketStart,
			Last: tick.Last, Bid: tick.Bid, Ask: tick.Ask,
			CumVolume: tick.CumVolume, OpenInterest: tick.OpenInterest, BrokerIV: tick.BrokerIV,
		}
		a.order = append(a.order, k)
	}

	return a.flushIfOverCapacity(now)
}

// Sweep declares any bucket whose window has ended complete.
func (a *OptionAggregator) Sweep(now time.Time) []OptionAccum {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainWhere(func(k key) bool { return !now.Before(k.bucketStart.Add(a.bucketSize)) })
}

// FlushAll emits every live accumulator regardless of completeness.
func (a *OptionAggregator) FlushAll() []OptionAccum {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainWhere(func(key) bool { return true })
}

// FlushContract emits and drops the live bucket(s) for one contract symbol,
// used when the strike universe evicts it (spec.md §4.10).
func (a *OptionAggregator) FlushContract(symbol string) []OptionAccum {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainWhere(func(k key) bool { return k.id == symbol })
}

// Count reports the number of live accumulators (back-pressure gauge).
func (a *OptionAggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

func (a *OptionAggregator) flushIfOverCapacity(now time.Time) []OptionAccum {
	if len(a.data) <= a.maxBufferSize {
		return nil
	}
	var out []OptionAccum
	var remaining []key
	for _, k := range a.order {
		acc, ok := a.data[k]
		if !ok {
			continue
		}
		if len(a.data) > a.maxBufferSize && !now.Before(k.bucketStart.Add(a.bucketSize)) {
			out = append(out, *acc)
			delete(a.data, k)
			continue
		}
		remaining = append(remaining, k)
	}
	a.order = remaining
	return out
}

func (a *OptionAggregator) drainWhere(match func(key) bool) []OptionAccum {
	var out []OptionAccum
	var remaining []key
	for _, k := range a.order {
		acc, ok := a.data[k]
		if !ok {
			continue
		}
		if match(k) {
			out = append(out, *acc)
			delete(a.data, k)
		} else {
			remaining = append(remaining, k)
		}
	}
	a.order = remaining
	return out
}
