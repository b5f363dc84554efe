// Package ingestion is C10: orchestrates C6-C9, enriches completed buckets
// with IV (C4) and Greeks (C5), and writes them to the store. Owns
// shutdown, buffer flushing, and memory reclamation (spec.md §4.10).
package ingestion

import (
	"github.com/aristath/optionpulse/internal/aggregator"
	"github.com/aristath/optionpulse/internal/domain"
	"github.com/aristath/optionpulse/internal/numerics"
)

// EnrichConfig is the numerics-tuning slice of spec.md §6 the enrichment
// stage reads. IVMaxIterations/IVTolerance/IVMin/IVMax govern
// numerics.SolveIV directly (see Solver below); leaving them at zero falls
// back to numerics.DefaultSolverConfig.
type EnrichConfig struct {
	GreeksEnabled bool
	IVCalcEnabled bool
	RiskFreeRate  float64
	DefaultIV     float64

	IVMaxIterations int
	IVTolerance     float64
	IVMin           float64
	IVMax           float64
}

// Solver builds the numerics.SolverConfig this EnrichConfig describes.
func (cfg EnrichConfig) Solver() numerics.SolverConfig {
	return numerics.SolverConfig{
		MaxIterations: cfg.IVMaxIterations,
		Tolerance:     cfg.IVTolerance,
		IVMin:         cfg.IVMin,
		IVMax:         cfg.IVMax,
	}
}

// Enrich runs the IV fallback ladder (spec.md §4.4) followed by the Greeks
// evaluator (§4.5) over one completed option bucket, given the reference
// spot price observed in the same bucket. The row is always returned —
// NoSolution/NotEvaluable leaves the numeric fields null, it never drops
// the row (spec.md §7's NoSolution policy).
func Enrich(cfg EnrichConfig, accum aggregator.OptionAccum, spot float64) domain.OptionQuote {
	q := domain.OptionQuote{
		ContractSymbol: accum.Contract.Symbol,
		BucketStart:    accum.BucketStart,
		Last:           accum.Last,
		Bid:            accum.Bid,
		Ask:            accum.Ask,
		Volume:         accum.CumVolume,
		OpenInterest:   accum.OpenInterest,
		IVSource:       domain.IVSourceNone,
	}

	strike, _ := accum.Contract.Strike.Float64()
	timeToExpY := yearsUntil(accum)
	isCall := accum.Contract.Type == domain.Call

	iv, source, ok := resolveIV(cfg, accum, spot, strike, timeToExpY, isCall)
	if ok {
		v := iv
		q.IV = &v
		q.IVSource = source
	}

	if cfg.GreeksEnabled && ok {
		g, evalOK := numerics.Evaluate(numerics.Inputs{
			Spot: spot, Strike: strike, TimeToExpY: timeToExpY, Rate: cfg.RiskFreeRate, Vol: iv, IsCall: isCall,
		})
		if evalOK {
			q.Delta, q.Gamma, q.Theta, q.Vega = &g.Delta, &g.Gamma, &g.Theta, &g.Vega
			q.Vanna, q.Charm = &g.Vanna, &g.Charm
		}
	}

	return q
}

func yearsUntil(accum aggregator.OptionAccum) float64 {
	return accum.Contract.Expiration.Sub(accum.BucketStart).Hours() / 24 / 365
}

// resolveIV walks the fallback ladder: broker-provided, bid/ask mid-solve,
// last-price-solve, configured default. First success wins; ok is false
// only if every rung including the default is unusable (which cannot
// happen once DefaultIV is configured, but is kept explicit for clarity).
func resolveIV(cfg EnrichConfig, accum aggregator.OptionAccum, spot, strike, timeToExpY float64, isCall bool) (float64, domain.IVSource, bool) {
	if accum.BrokerIV != nil {
		return *accum.BrokerIV, domain.IVSourceBroker, true
	}

	if cfg.IVCalcEnabled && spot > 0 && timeToExpY > 0 {
		if accum.Bid != nil && accum.Ask != nil {
			bidF, _ := accum.Bid.Float64()
			askF, _ := accum.Ask.Float64()
			mid := (bidF + askF) / 2
			if mid > 0 {
				if iv, err := numerics.SolveIV(cfg.Solver(), numerics.Inputs{Spot: spot, Strike: strike, TimeToExpY: timeToExpY, Rate: cfg.RiskFreeRate, IsCall: isCall}, mid); err == nil {
					return iv, domain.IVSourceMid, true
				}
			}
		}
		if accum.Last != nil {
			lastF, _ := accum.Last.Float64()
			if lastF > 0 {
				if iv, err := numerics.SolveIV(cfg.Solver(), numerics.Inputs{Spot: spot, Strike: strike, TimeToExpY: timeToExpY, Rate: cfg.RiskFreeRate, IsCall: isCall}, lastF); err == nil {
					return iv, domain.IVSourceLast, true
				}
			}
		}
	}

	if cfg.DefaultIV > 0 {
		return cfg.DefaultIV, domain.IVSourceDefault, true
	}
	return 0, domain.IVSourceNone, false
}
