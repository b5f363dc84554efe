// Package universe is C6: the active set of (expiration, strike, type)
// contracts a StreamManager should poll for one underlying, recomputed on
// trigger rather than per tick. The general shape — skip the rebuild while
// a cached result is still valid, recompute once a condition fires — is the
// same one the teacher's internal/work WorkType.FindSubjects callbacks use
// (e.g. planner.go's cache-expiry check), but no teacher file selects
// option contracts or tracks the N/D/K/ΔS triggers spec.md §4.2 specifies;
// that logic is built directly from the spec.
package universe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/optionpulse/internal/domain"
)

// ExpirationStrikeSource is the slice of BrokerClient (C2) the universe
// needs, kept narrow so tests can stub it without an HTTP client.
type ExpirationStrikeSource interface {
	Expirations(ctx context.Context, underlying string) ([]string, error)
	Strikes(ctx context.Context, underlying, expiration string) ([]float64, error)
}

// Config is the subset of spec.md §6's configuration surface C6 reads.
type Config struct {
	Underlying      string
	Expirations     int     // N: nearest expirations to include
	StrikeDistance  float64 // D: dollar distance from spot
	RecalcInterval  int     // K: unconditional recompute every K iterations
	PriceMoveThresh float64 // ΔS: spot move forcing recompute
	Loc             *time.Location
}

// Universe holds the current contract set and the bookkeeping needed to
// decide when to recompute it.
type Universe struct {
	cfg Config

	contracts map[string]domain.OptionContract // keyed by canonical symbol

	lastRecomputeSpot  float64
	iterationsSinceRC  int
	currentExpirations []time.Time // sorted ascending, the N expirations in play
}

// New creates an empty Universe; call Recompute once before first use.
func New(cfg Config) *Universe {
	return &Universe{cfg: cfg, contracts: make(map[string]domain.OptionContract)}
}

// Contracts returns the current tracked set, in no particular order.
func (u *Universe) Contracts() []domain.OptionContract {
	out := make([]domain.OptionContract, 0, len(u.contracts))
	for _, c := range u.contracts {
		out = append(out, c)
	}
	return out
}

// Empty reports whether the universe has never been (successfully) built.
func (u *Universe) Empty() bool { return len(u.contracts) == 0 }

// ShouldRecompute evaluates the three triggers from spec.md §4.6: the
// iteration counter, the spot-move threshold, and an expiration rollover
// in the currently tracked set.
func (u *Universe) ShouldRecompute(spot float64, asOf time.Time) bool {
	if u.Empty() {
		return true
	}
	if u.iterationsSinceRC >= u.cfg.RecalcInterval {
		return true
	}
	if absFloat(spot-u.lastRecomputeSpot) > u.cfg.PriceMoveThresh {
		return true
	}
	today := asOf.In(u.cfg.Loc).Truncate(24 * time.Hour)
	for _, exp := range u.currentExpirations {
		if exp.Truncate(24 * time.Hour).Before(today) {
			return true
		}
	}
	return false
}

// Tick advances the iteration counter; callers invoke this once per
// polling iteration whether or not a recompute fired.
func (u *Universe) Tick() { u.iterationsSinceRC++ }

// Recompute rebuilds the contract set from the broker's live expirations
// and strikes around spot, and returns the contracts evicted by the
// rebuild so the caller (C10) can flush their accumulators before
// dropping them, per spec.md §4.10's memory-reclamation rule.
func (u *Universe) Recompute(ctx context.Context, src ExpirationStrikeSource, spot float64, asOf time.Time) (evicted []domain.OptionContract, err error) {
	next, expDates, err := SelectContracts(ctx, src, u.cfg.Underlying, u.cfg.Expirations, u.cfg.StrikeDistance, u.cfg.Loc, spot, asOf)
	if err != nil {
		return nil, err
	}

	for sym, c := range u.contracts {
		if _, ok := next[sym]; !ok {
			evicted = append(evicted, c)
		}
	}

	u.contracts = next
	u.currentExpirations = expDates
	u.lastRecomputeSpot = spot
	u.iterationsSinceRC = 0

	return evicted, nil
}

// SelectContracts performs the one-shot contract-selection logic of
// spec.md §4.6 without touching any Universe's persistent state: the N
// nearest expirations on/after asOf, strikes within distance of spot, both
// call and put. Used both by Universe.Recompute (live, stateful) and by
// BackfillManager (C9), which needs the same selection as of a historical
// bar date without maintaining a running universe.
func SelectContracts(ctx context.Context, src ExpirationStrikeSource, underlying string, n int, distance float64, loc *time.Location, spot float64, asOf time.Time) (map[string]domain.OptionContract, []time.Time, error) {
	rawExpirations, err := src.Expirations(ctx, underlying)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch expirations: %w", err)
	}

	today := asOf.In(loc).Truncate(24 * time.Hour)
	var future []string
	for _, e := range rawExpirations {
		t, perr := time.ParseInLocation("2006-01-02", e, loc)
		if perr != nil {
			continue
		}
		if t.Truncate(24 * time.Hour).Before(today) {
			continue
		}
		future = append(future, e)
	}
	sort.Strings(future)
	if len(future) > n {
		future = future[:n]
	}

	next := make(map[string]domain.OptionContract)
	var expDates []time.Time
	for _, e := range future {
		expDate, _ := time.ParseInLocation("2006-01-02", e, loc)
		expDates = append(expDates, expDate)

		strikes, serr := src.Strikes(ctx, underlying, e)
		if serr != nil {
			return nil, nil, fmt.Errorf("fetch strikes for %s: %w", e, serr)
		}
		for _, k := range strikes {
			if absFloat(k-spot) > distance {
				continue
			}
			strikeDec := decimal.NewFromFloat(k)
			for _, t := range []domain.OptionType{domain.Call, domain.Put} {
				c := domain.OptionContract{
					Underlying: underlying,
					Expiration: expDate,
					Strike:     strikeDec,
					Type:       t,
					Symbol:     contractSymbol(underlying, expDate, strikeDec, t),
				}
				next[c.Symbol] = c
			}
		}
	}
	return next, expDates, nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// contractSymbol builds the canonical OCC-style printable symbol:
// ROOT + YYMMDD + C/P + strike*1000 zero-padded to 8 digits.
func contractSymbol(underlying string, exp time.Time, strike decimal.Decimal, t domain.OptionType) string {
	side := "C"
	if t == domain.Put {
		side = "P"
	}
	millistrike := strike.Mul(decimal.NewFromInt(1000)).IntPart()
	return fmt.Sprintf("%s%s%s%08d", underlying, exp.Format("060102"), side, millistrike)
}
