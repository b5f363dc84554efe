// Package stream is C8: drives the BrokerClient at a cadence chosen from
// the market session, feeds validated ticks to the Aggregator, and
// re-queries the StrikeUniverse when its recompute triggers fire.
// Grounded on the teacher's internal/clients/tradernet/websocket_client.go
// polling-loop shape, generalized from a push subscription to the
// spec's cooperative poll-sweep-enrich-write cycle.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/optionpulse/internal/aggregator"
	"github.com/aristath/optionpulse/internal/broker"
	"github.com/aristath/optionpulse/internal/domain"
	"github.com/aristath/optionpulse/internal/universe"
	"github.com/aristath/optionpulse/internal/validate"
)

// Client is the slice of BrokerClient (C2) the stream manager drives.
type Client interface {
	Quote(ctx context.Context, symbols []string) ([]broker.RawQuote, error)
	OptionChain(ctx context.Context, underlying, expiration string, strikes []float64) ([]broker.RawOptionQuote, error)
	Clock(ctx context.Context) (broker.RawClock, error)
	universe.ExpirationStrikeSource
}

// Config is the subset of spec.md §6 the stream manager reads directly.
type Config struct {
	Underlying      string
	OptionBatchSize int
	MarketHoursPoll time.Duration
	ExtendedPoll    time.Duration
	ClosedPoll      time.Duration
	Loc             *time.Location
	IVRange         validate.IVRange
}

// Manager is the C8 StreamManager.
type Manager struct {
	cfg           Config
	client        Client
	universe      *universe.Universe
	underlyingAgg *aggregator.UnderlyingAggregator
	optionAgg     *aggregator.OptionAggregator
	log           zerolog.Logger
}

// New creates a Manager over an already-constructed Universe and
// Aggregator pair, which the IngestionEngine owns and passes in (spec.md
// §3: the ingestion engine exclusively owns the bucket buffer and strike
// universe — the stream manager only ever touches them from the single
// ingestion goroutine that calls Iterate).
func New(cfg Config, client Client, u *universe.Universe, underlyingAgg *aggregator.UnderlyingAggregator, optionAgg *aggregator.OptionAggregator, log zerolog.Logger) *Manager {
	return &Manager{
		cfg: cfg, client: client, universe: u, underlyingAgg: underlyingAgg, optionAgg: optionAgg,
		log: log.With().Str("component", "stream_manager").Logger(),
	}
}

// PollInterval returns the cadence from spec.md §4.8's session table.
func (m *Manager) PollInterval(session domain.Session) time.Duration {
	switch session {
	case domain.SessionRegularOpen:
		return m.cfg.MarketHoursPoll
	case domain.SessionPreOpen, domain.SessionAfterHours:
		return m.cfg.ExtendedPoll
	default:
		return m.cfg.ClosedPoll
	}
}

// IterationStats reports what one Iterate call accomplished, for logging
// and the "last successful poll" operator-visible timestamp (spec.md §7).
type IterationStats struct {
	Session         domain.Session
	Spot            float64
	UnderlyingTicks int
	OptionTicks     int
	RejectedTicks   int
	UniverseEvicted []domain.OptionContract
	UniverseRebuilt bool
}

// Iterate runs one poll → validate → aggregate cycle. Errors from
// individual option-chain batches are logged and counted, not propagated —
// per spec.md §4.8, "a second-level failure is counted and logged but does
// not tear down the stream." A Clock or underlying-Quote failure, having
// already exhausted C2's retry budget, is returned so the caller can
// decide whether to retry the whole iteration on the next tick.
func (m *Manager) Iterate(ctx context.Context, now time.Time) (IterationStats, error) {
	var stats IterationStats

	rawClock, err := m.client.Clock(ctx)
	if err != nil {
		return stats, fmt.Errorf("clock: %w", err)
	}
	clock, err := broker.ClockToDomain(rawClock, m.cfg.Loc)
	if err != nil {
		return stats, fmt.Errorf("parse clock: %w", err)
	}
	stats.Session = clock.Session

	rawQuotes, err := m.client.Quote(ctx, []string{m.cfg.Underlying})
	if err != nil {
		return stats, fmt.Errorf("underlying quote: %w", err)
	}
	var spot float64
	for _, rq := range rawQuotes {
		tick, verr := validate.Quote(rq, m.cfg.Loc, now)
		if verr != nil {
			stats.RejectedTicks++
			m.log.Warn().Err(verr).Str("symbol", rq.Symbol).Msg("rejected underlying quote")
			continue
		}
		m.underlyingAgg.Put(tick, now)
		stats.UnderlyingTicks++
		spot, _ = tick.Price.Float64()
	}

	if spot > 0 && m.universe.ShouldRecompute(spot, now) {
		evicted, rerr := m.universe.Recompute(ctx, m.client, spot, now)
		if rerr != nil {
			m.log.Warn().Err(rerr).Msg("universe recompute failed, keeping prior set")
		} else {
			stats.UniverseRebuilt = true
			stats.UniverseEvicted = evicted
		}
	} else {
		m.universe.Tick()
	}

	stats.Spot = spot
	m.pollOptionChain(ctx, now, &stats)
	return stats, nil
}

func (m *Manager) pollOptionChain(ctx context.Context, now time.Time, stats *IterationStats) {
	byExpiration := make(map[string][]float64)
	for _, c := range m.universe.Contracts() {
		exp := c.Expiration.Format("2006-01-02")
		strike, _ := c.Strike.Float64()
		byExpiration[exp] = append(byExpiration[exp], strike)
	}

	for exp, strikes := range byExpiration {
		for start := 0; start < len(strikes); start += m.cfg.OptionBatchSize {
			end := start + m.cfg.OptionBatchSize
			if end > len(strikes) {
				end = len(strikes)
			}
			batch := strikes[start:end]

			raws, err := m.client.OptionChain(ctx, m.cfg.Underlying, exp, batch)
			if err != nil {
				m.log.Warn().Err(err).Str("expiration", exp).Msg("option chain batch failed, continuing")
				continue
			}
			for _, raw := range raws {
				tick, verr := validate.OptionQuote(raw, m.cfg.Loc, now, m.cfg.IVRange)
				if verr != nil {
					stats.RejectedTicks++
					m.log.Warn().Err(verr).Str("symbol", raw.ContractSymbol).Msg("rejected option quote")
					continue
				}
				m.optionAgg.Put(tick, now)
				stats.OptionTicks++
			}
		}
	}
}
