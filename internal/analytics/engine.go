package analytics

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/optionpulse/internal/domain"
	"github.com/aristath/optionpulse/internal/stats"
)

// Store is the slice of C11 the analytics engine reads and writes.
type Store interface {
	LatestUnderlyingClose(ctx context.Context, underlying string) (decimal.Decimal, bool, error)
	LatestOptionSnapshot(ctx context.Context, underlying string, staleness time.Duration, asOf time.Time) ([]domain.OptionSnapshotRow, error)
	UpsertGEXSummary(ctx context.Context, row domain.GEXSummary) error
	UpsertGEXByStrike(ctx context.Context, row domain.GEXByStrike) error
}

// Config is the subset of spec.md §6 the analytics engine reads.
type Config struct {
	Underlying string
	Interval   time.Duration // default 60s, spec.md §4.12
	Staleness  time.Duration // default 5m, spec.md §4.12 step 2
}

// Engine is the C12 AnalyticsEngine: runs independently of ingestion on a
// cron schedule, deriving gamma-exposure structure from the store's latest
// snapshot. Grounded on the trader-go sibling module's
// internal/scheduler/scheduler.go cron.New(cron.WithSeconds())/AddFunc
// registration shape (the root internal/scheduler package is a custom job
// registry, not robfig/cron-based), generalized from portfolio jobs to an
// analytics rollup.
type Engine struct {
	cfg   Config
	store Store
	clock func() time.Time
	errs  *stats.ErrorCounters
	log   zerolog.Logger

	cron               *cron.Cron
	lastSuccessfulTick time.Time
}

// New wires an Engine. clockFn lets tests supply a deterministic "now";
// production callers pass time.Now. errs is the shared counter the operator
// status endpoint reads; pass stats.NewErrorCounters() if the caller doesn't
// need to share it with anything else.
func New(cfg Config, store Store, clockFn func() time.Time, errs *stats.ErrorCounters, log zerolog.Logger) *Engine {
	return &Engine{
		cfg: cfg, store: store, clock: clockFn, errs: errs,
		log:  log.With().Str("component", "analytics_engine").Logger(),
		cron: cron.New(cron.WithSeconds()),
	}
}

// LastSuccessfulTick reports the timestamp of the most recent Tick that
// completed without error, for the operator status surface (spec.md §7).
func (e *Engine) LastSuccessfulTick() time.Time { return e.lastSuccessfulTick }

// Start registers the periodic tick on the configured interval and begins
// running it. Analytics is read-only against the store and may run in the
// same process as ingestion or a separate one (spec.md §4.12 concurrency
// note); nothing here assumes which.
func (e *Engine) Start(ctx context.Context) error {
	spec := intervalToCronSpec(e.cfg.Interval)
	_, err := e.cron.AddFunc(spec, func() { e.Tick(ctx) })
	if err != nil {
		return err
	}
	e.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight tick to finish.
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()
}

// Tick runs one analytics pass for the configured underlying. Per spec.md
// §4.12's skip-on-error policy, any failure is logged and the tick is
// skipped — it never tears down the schedule.
func (e *Engine) Tick(ctx context.Context) {
	now := e.clock()

	spot, ok, err := e.store.LatestUnderlyingClose(ctx, e.cfg.Underlying)
	if err != nil {
		e.errs.Observe(err)
		e.log.Warn().Err(err).Msg("failed to resolve reference spot, skipping tick")
		return
	}
	if !ok {
		e.log.Debug().Msg("no underlying close on record yet, skipping tick")
		return
	}
	spotF, _ := spot.Float64()
	if spotF <= 0 {
		e.log.Warn().Msg("non-positive reference spot, skipping tick")
		return
	}

	rows, err := e.store.LatestOptionSnapshot(ctx, e.cfg.Underlying, e.cfg.Staleness, now)
	if err != nil {
		e.errs.Observe(err)
		e.log.Warn().Err(err).Msg("failed to read latest option snapshot, skipping tick")
		return
	}

	summary, byStrike := Compute(e.cfg.Underlying, now, rows)

	if err := e.store.UpsertGEXSummary(ctx, summary); err != nil {
		e.errs.Observe(err)
		e.log.Warn().Err(err).Msg("failed to write GEX summary, skipping tick")
		return
	}
	failed := false
	for _, row := range byStrike {
		if err := e.store.UpsertGEXByStrike(ctx, row); err != nil {
			e.errs.Observe(err)
			e.log.Warn().Err(err).Str("strike", row.Strike.String()).Msg("failed to write GEX by-strike row")
			failed = true
		}
	}
	if failed {
		return
	}

	e.lastSuccessfulTick = now
	e.log.Debug().Int("strikes", len(byStrike)).Float64("total_net_gex", summary.TotalNetGEX).Msg("analytics tick complete")
}

// intervalToCronSpec turns a plain interval into a robfig/cron "@every"
// spec, truncated to whole seconds; a non-positive interval becomes 60s.
func intervalToCronSpec(d time.Duration) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		secs = 60
	}
	return "@every " + time.Duration(secs*int(time.Second)).String()
}
