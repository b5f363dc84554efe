// Package backfill is C9: on demand, fetches historical bars and
// contemporaneous option snapshots for a lookback window and feeds them
// through the same validate → aggregate path used by live streaming, then
// runs to completion. Grounded on the teacher's one-shot "historical sync"
// jobs (internal/modules/historical/handlers) which fetch a bounded window
// and exit rather than loop.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/optionpulse/internal/aggregator"
	"github.com/aristath/optionpulse/internal/broker"
	"github.com/aristath/optionpulse/internal/universe"
	"github.com/aristath/optionpulse/internal/validate"
)

// Client is the slice of BrokerClient (C2) backfill needs.
type Client interface {
	Bars(ctx context.Context, symbol string, unit broker.BarUnit, interval, count int) ([]broker.RawBar, error)
	OptionChain(ctx context.Context, underlying, expiration string, strikes []float64) ([]broker.RawOptionQuote, error)
	universe.ExpirationStrikeSource
}

// Request describes one backfill run (spec.md §4.9).
type Request struct {
	Underlying      string
	Lookback        int // bar count
	BarUnit         broker.BarUnit
	BarInterval     int
	OptionSampling  int // every Nth bar gets a contemporaneous option snapshot
	Expirations     int
	StrikeDistance  float64
}

// Manager is the C9 BackfillManager.
type Manager struct {
	client        Client
	loc           *time.Location
	underlyingAgg *aggregator.UnderlyingAggregator
	optionAgg     *aggregator.OptionAggregator
	ivRange       validate.IVRange
	log           zerolog.Logger
}

// New creates a Manager writing into the same Aggregators the live stream
// uses, so the caller's enrichment+write path (C10) is identical either way.
// ivRange is the same broker-IV sanity bound the live StreamManager uses
// (spec.md §4.3), so a backfilled snapshot applies the same cutoff a live
// poll would have.
func New(client Client, loc *time.Location, underlyingAgg *aggregator.UnderlyingAggregator, optionAgg *aggregator.OptionAggregator, ivRange validate.IVRange, log zerolog.Logger) *Manager {
	return &Manager{client: client, loc: loc, underlyingAgg: underlyingAgg, optionAgg: optionAgg, ivRange: ivRange, log: log.With().Str("component", "backfill").Logger()}
}

// Stats reports what one Run accomplished.
type Stats struct {
	BarsFetched      int
	BarsRejected     int
	OptionTicks      int
	OptionRejected   int
	SnapshotsTaken   int
}

// Run fetches req.Lookback historical bars, samples every OptionSampling-th
// one for a contemporaneous option chain, and feeds both into the
// Aggregators stamped with each bar's own timestamp (not the fetch time),
// per spec.md §4.9 step 3. It returns once the window is exhausted.
func (m *Manager) Run(ctx context.Context, req Request) (Stats, error) {
	var stats Stats

	rawBars, err := m.client.Bars(ctx, req.Underlying, req.BarUnit, req.BarInterval, req.Lookback)
	if err != nil {
		return stats, fmt.Errorf("fetch bars: %w", err)
	}

	for i, rb := range rawBars {
		bar, verr := validate.Bar(rb, m.loc)
		if verr != nil {
			stats.BarsRejected++
			m.log.Warn().Err(verr).Str("symbol", rb.Symbol).Msg("rejected historical bar")
			continue
		}

		tick := validate.UnderlyingTick{Symbol: bar.Symbol, Timestamp: bar.BucketStart, Price: bar.Close, CumVolume: bar.UpVolume}
		m.underlyingAgg.Put(tick, bar.BucketStart.Add(time.Minute))
		stats.BarsFetched++

		if req.OptionSampling <= 0 || i%req.OptionSampling != 0 {
			continue
		}

		spot, _ := bar.Close.Float64()
		contracts, _, serr := universe.SelectContracts(ctx, m.client, req.Underlying, req.Expirations, req.StrikeDistance, m.loc, spot, bar.BucketStart)
		if serr != nil {
			m.log.Warn().Err(serr).Time("bar_time", bar.BucketStart).Msg("option universe selection failed for this bar, skipping snapshot")
			continue
		}

		byExpiration := make(map[string][]float64)
		for _, c := range contracts {
			exp := c.Expiration.Format("2006-01-02")
			strike, _ := c.Strike.Float64()
			byExpiration[exp] = append(byExpiration[exp], strike)
		}

		for exp, strikes := range byExpiration {
			raws, cerr := m.client.OptionChain(ctx, req.Underlying, exp, strikes)
			if cerr != nil {
				m.log.Warn().Err(cerr).Str("expiration", exp).Msg("option chain fetch failed for this bar, skipping")
				continue
			}
			for _, raw := range raws {
				raw.Timestamp = bar.BucketStart.Format(time.RFC3339)
				optTick, overr := validate.OptionQuote(raw, m.loc, bar.BucketStart, m.ivRange)
				if overr != nil {
					stats.OptionRejected++
					continue
				}
				m.optionAgg.Put(optTick, bar.BucketStart.Add(time.Minute))
				stats.OptionTicks++
			}
		}
		stats.SnapshotsTaken++
	}

	return stats, nil
}
