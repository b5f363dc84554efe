package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/optionpulse/internal/aggregator"
	"github.com/aristath/optionpulse/internal/domain"
	"github.com/aristath/optionpulse/internal/stats"
	"github.com/aristath/optionpulse/internal/stream"
	"github.com/aristath/optionpulse/internal/universe"
)

// State is the engine's own lifecycle, independent of the broker's market
// Session (spec.md §4.10): Idle → Streaming → Flushing → Closed.
type State string

const (
	StateIdle       State = "Idle"
	StateStreaming  State = "Streaming"
	StateFlushing   State = "Flushing"
	StateClosed     State = "Closed"
)

// Store is the slice of C11 the engine writes enriched rows to.
type Store interface {
	UpsertUnderlyingBar(ctx context.Context, bar domain.UnderlyingBar) error
	UpsertOptionQuote(ctx context.Context, contract domain.OptionContract, q domain.OptionQuote) error
}

// Config is the ingestion-level tuning the engine reads directly; the rest
// (poll cadence, universe shape) already lives on the stream.Manager and
// universe.Universe it's handed.
type Config struct {
	SweepInterval         time.Duration
	StrikeCleanupInterval int // sweep for expired contracts every N iterations
	Enrich                EnrichConfig
}

// Engine is the C10 IngestionEngine: the single goroutine that owns the
// Universe and both Aggregators, drives the StreamManager, enriches every
// completed bucket, and writes it to the store. Grounded on the teacher's
// internal/work/processor.go Run() select-loop (stop channel, periodic
// ticker, drain-on-shutdown), generalized from a work-item dispatcher to a
// continuous poll-sweep-enrich-write cycle.
type Engine struct {
	cfg Config

	streamMgr     *stream.Manager
	universe      *universe.Universe
	underlyingAgg *aggregator.UnderlyingAggregator
	optionAgg     *aggregator.OptionAggregator
	store         Store
	errs          *stats.ErrorCounters
	log           zerolog.Logger

	state              State
	lastSpot           float64
	lastSuccessfulPoll time.Time
	iterations         int
}

// New wires an Engine over an already-constructed StreamManager and its
// shared Universe/Aggregators — the engine is their sole owner once Run
// starts (spec.md §3). errs is the shared counter the operator status
// endpoint reads; pass stats.NewErrorCounters() if the caller doesn't need
// to share it with anything else.
func New(cfg Config, streamMgr *stream.Manager, u *universe.Universe, underlyingAgg *aggregator.UnderlyingAggregator, optionAgg *aggregator.OptionAggregator, store Store, errs *stats.ErrorCounters, log zerolog.Logger) *Engine {
	return &Engine{
		cfg: cfg, streamMgr: streamMgr, universe: u,
		underlyingAgg: underlyingAgg, optionAgg: optionAgg, store: store, errs: errs,
		log:   log.With().Str("component", "ingestion_engine").Logger(),
		state: StateIdle,
	}
}

// State reports the engine's current lifecycle state, for the operator
// status surface.
func (e *Engine) State() State { return e.state }

// LastSuccessfulPoll reports the timestamp of the most recent Iterate that
// completed without any error, for the operator status surface
// (spec.md §7).
func (e *Engine) LastSuccessfulPoll() time.Time { return e.lastSuccessfulPoll }

// Run drives the poll → sweep → enrich → write cycle until ctx is
// cancelled, then flushes every live accumulator before returning. A fatal
// error (AuthError, StorePermanent) halts the engine immediately per
// spec.md §7's fatal-error policy; any other iteration error is logged and
// retried on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	e.state = StateStreaming
	e.log.Info().Msg("ingestion engine starting")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(context.Background())
		case now := <-timer.C:
			session, fatalErr := e.runIteration(ctx, now)
			if fatalErr != nil {
				e.state = StateClosed
				return fatalErr
			}
			timer.Reset(e.streamMgr.PollInterval(session))
		}
	}
}

// runIteration runs one poll cycle and its housekeeping (sweep, cleanup).
// It returns the observed session (for scheduling the next tick) and a
// non-nil error only when that error is fatal.
func (e *Engine) runIteration(ctx context.Context, now time.Time) (domain.Session, error) {
	stats, err := e.streamMgr.Iterate(ctx, now)
	if err != nil {
		if isFatal(err) {
			e.log.Error().Err(err).Msg("fatal error, halting ingestion engine")
			return stats.Session, err
		}
		e.errs.Observe(err)
		e.log.Warn().Err(err).Msg("iteration failed, will retry next tick")
		return stats.Session, nil
	}
	e.lastSuccessfulPoll = now
	if stats.Spot > 0 {
		e.lastSpot = stats.Spot
	}

	for _, c := range stats.UniverseEvicted {
		for _, accum := range e.optionAgg.FlushContract(c.Symbol) {
			q := Enrich(e.cfg.Enrich, accum, e.lastSpot)
			if err := e.store.UpsertOptionQuote(ctx, accum.Contract, q); err != nil {
				if isFatal(err) {
					return stats.Session, err
				}
				e.errs.Observe(err)
				e.log.Warn().Err(err).Str("contract", accum.Contract.Symbol).Msg("failed to write evicted option quote")
			}
		}
	}

	if ferr := e.sweepAndWrite(ctx, now); ferr != nil {
		return stats.Session, ferr
	}

	e.iterations++
	if e.cfg.StrikeCleanupInterval > 0 && e.iterations%e.cfg.StrikeCleanupInterval == 0 {
		e.cleanupExpiredContracts(now)
	}

	return stats.Session, nil
}

// sweepAndWrite drains every bucket whose window has closed and writes the
// enriched rows, halting only on a StorePermanent (a coding bug, not a data
// condition — spec.md §7).
func (e *Engine) sweepAndWrite(ctx context.Context, now time.Time) error {
	bars := e.underlyingAgg.Sweep(now)
	for _, bar := range bars {
		if err := e.store.UpsertUnderlyingBar(ctx, bar); err != nil {
			if isFatal(err) {
				return err
			}
			e.errs.Observe(err)
			e.log.Warn().Err(err).Str("symbol", bar.Symbol).Msg("failed to write underlying bar")
		}
	}

	accums := e.optionAgg.Sweep(now)
	for _, accum := range accums {
		q := Enrich(e.cfg.Enrich, accum, e.lastSpot)
		if err := e.store.UpsertOptionQuote(ctx, accum.Contract, q); err != nil {
			if isFatal(err) {
				return err
			}
			e.errs.Observe(err)
			e.log.Warn().Err(err).Str("contract", accum.Contract.Symbol).Msg("failed to write option quote")
		}
	}
	return nil
}

// FlushBackfill drains and writes every bucket BackfillManager.Run has
// already populated, using spot as the enrichment reference price since a
// backfill run has no live quote to read it from. Intended to run once
// after BackfillManager.Run completes, before Engine.Run's poll loop starts.
func (e *Engine) FlushBackfill(ctx context.Context, now time.Time, spot float64) error {
	if spot > 0 {
		e.lastSpot = spot
	}
	return e.sweepAndWrite(ctx, now)
}

// cleanupExpiredContracts proactively flushes and forgets accumulators for
// contracts whose expiration has already passed, rather than waiting for
// the next universe recompute to evict them (spec.md §4.10 memory
// reclamation).
func (e *Engine) cleanupExpiredContracts(now time.Time) {
	for _, c := range e.universe.Contracts() {
		if c.Expired(now) {
			e.optionAgg.FlushContract(c.Symbol)
		}
	}
}

// shutdown moves Streaming → Flushing → Closed: stop polling (the caller's
// ctx cancellation already did that), drain every live accumulator
// regardless of completeness, and write it. Per spec.md §4.10 this must
// complete within bucket_size + one broker timeout; since no further
// broker calls happen here, it reduces to however long the remaining
// writes take.
func (e *Engine) shutdown(ctx context.Context) error {
	e.state = StateFlushing
	e.log.Info().Msg("flushing live accumulators before shutdown")

	bars := e.underlyingAgg.FlushAll()
	for _, bar := range bars {
		if err := e.store.UpsertUnderlyingBar(ctx, bar); err != nil {
			e.errs.Observe(err)
			e.log.Warn().Err(err).Str("symbol", bar.Symbol).Msg("failed to write underlying bar during shutdown flush")
		}
	}

	accums := e.optionAgg.FlushAll()
	for _, accum := range accums {
		q := Enrich(e.cfg.Enrich, accum, e.lastSpot)
		if err := e.store.UpsertOptionQuote(ctx, accum.Contract, q); err != nil {
			e.errs.Observe(err)
			e.log.Warn().Err(err).Str("contract", accum.Contract.Symbol).Msg("failed to write option quote during shutdown flush")
		}
	}

	e.state = StateClosed
	e.log.Info().Msg("ingestion engine closed")
	return nil
}

func isFatal(err error) bool {
	var authErr *domain.AuthError
	var storePerm *domain.StorePermanent
	return errors.As(err, &authErr) || errors.As(err, &storePerm)
}
