package numerics

import (
	"math"

	"github.com/aristath/optionpulse/internal/domain"
)

// Solver defaults from spec.md §4.4, used whenever a caller passes a
// zero-value SolverConfig (e.g. an older call site, or a test that doesn't
// care about tuning).
const (
	defaultIVMin           = 0.01
	defaultIVMax           = 5.0
	defaultIVTolerance     = 1e-5
	defaultIVMaxIterations = 100

	ivInitialGuess = 0.3
	ivVegaFloor    = 1e-8

	bisectionMaxIterations = 100
)

// SolverConfig carries the IV-solver tuning exposed as operator config
// (spec.md §6's IV_MAX_ITERATIONS/IV_TOLERANCE/IV_MIN/IV_MAX), so the same
// four knobs govern both Newton-Raphson/bisection here and the broker-IV
// sanity range in internal/validate.
type SolverConfig struct {
	MaxIterations int
	Tolerance     float64
	IVMin         float64
	IVMax         float64
}

// DefaultSolverConfig returns the bounds spec.md §4.4 documents, for callers
// (and tests) that don't need to tune the solver.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{MaxIterations: defaultIVMaxIterations, Tolerance: defaultIVTolerance, IVMin: defaultIVMin, IVMax: defaultIVMax}
}

// filled backs zero-valued fields with the spec.md §4.4 defaults, so a
// caller that forgot to wire config.Config's IV_* settings through still
// gets a working solver instead of dividing by zero iterations.
func (c SolverConfig) filled() SolverConfig {
	out := c
	if out.MaxIterations <= 0 {
		out.MaxIterations = defaultIVMaxIterations
	}
	if out.Tolerance <= 0 {
		out.Tolerance = defaultIVTolerance
	}
	if out.IVMin <= 0 {
		out.IVMin = defaultIVMin
	}
	if out.IVMax <= 0 {
		out.IVMax = defaultIVMax
	}
	return out
}

// SolveIV recovers implied volatility from an observed market price using
// Newton-Raphson, falling back to bisection when vega degenerates (deep
// ITM/OTM or near expiry), per spec.md §4.4's documented fallback ladder.
// Grounded on the closed-form Black-Scholes reference in the retrieved
// corpus and generalized to the iterative-solve shape the spec requires;
// the teacher repo has no options-pricing analog to imitate directly for
// the root-finding loop itself, so the loop structure follows the
// standard Newton-Raphson-with-bisection-fallback pattern used throughout
// the quant-finance examples in the pack.
func SolveIV(cfg SolverConfig, in Inputs, marketPrice float64) (float64, error) {
	cfg = cfg.filled()

	if in.TimeToExpY <= 0 {
		return 0, &domain.NoSolution{Reason: "time to expiration must be positive"}
	}
	if marketPrice <= 0 {
		return 0, &domain.NoSolution{Reason: "market price must be positive"}
	}

	intr := intrinsic(Inputs{Spot: in.Spot, Strike: in.Strike, TimeToExpY: in.TimeToExpY, IsCall: in.IsCall})
	if marketPrice < intr-cfg.Tolerance {
		return 0, &domain.NoSolution{Reason: "market price below intrinsic value"}
	}

	if iv, ok := newtonRaphson(cfg, in, marketPrice); ok {
		return clamp(cfg, iv), nil
	}

	if iv, ok := bisection(cfg, in, marketPrice); ok {
		return clamp(cfg, iv), nil
	}

	return 0, &domain.NoSolution{Reason: "newton-raphson and bisection both failed to converge"}
}

func newtonRaphson(cfg SolverConfig, in Inputs, marketPrice float64) (float64, bool) {
	sigma := ivInitialGuess
	for i := 0; i < cfg.MaxIterations; i++ {
		trial := in
		trial.Vol = sigma
		price := Price(trial)
		diff := price - marketPrice
		if math.Abs(diff) < cfg.Tolerance {
			return sigma, true
		}

		vega := vegaPerUnit(trial)
		if vega < ivVegaFloor {
			return 0, false
		}

		next := sigma - diff/vega
		if math.IsNaN(next) || math.IsInf(next, 0) || next <= 0 {
			return 0, false
		}
		sigma = next
	}
	return 0, false
}

// bisection brackets sigma in [cfg.IVMin, cfg.IVMax] and halves the interval
// until the priced value is within tolerance of marketPrice. Used when
// Newton-Raphson's vega term degenerates (spec.md §4.4 fallback ladder).
func bisection(cfg SolverConfig, in Inputs, marketPrice float64) (float64, bool) {
	lo, hi := cfg.IVMin, cfg.IVMax

	loTrial, hiTrial := in, in
	loTrial.Vol, hiTrial.Vol = lo, hi
	loPrice, hiPrice := Price(loTrial)-marketPrice, Price(hiTrial)-marketPrice
	if loPrice > 0 || hiPrice < 0 {
		return 0, false
	}

	for i := 0; i < bisectionMaxIterations; i++ {
		mid := (lo + hi) / 2
		trial := in
		trial.Vol = mid
		diff := Price(trial) - marketPrice

		if math.Abs(diff) < cfg.Tolerance {
			return mid, true
		}
		if diff < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, true
}

func clamp(cfg SolverConfig, iv float64) float64 {
	if iv < cfg.IVMin {
		return cfg.IVMin
	}
	if iv > cfg.IVMax {
		return cfg.IVMax
	}
	return iv
}
