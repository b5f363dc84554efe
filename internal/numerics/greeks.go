// Package numerics is C4 (IVSolver) and C5 (GreeksEvaluator): closed-form
// Black-Scholes pricing/Greeks and a Newton-Raphson implied-volatility
// solver with a deterministic fallback ladder, grounded on the reference
// corpus's blackscholes package (other_examples) for the closed-form
// derivation and on the teacher's use of gonum for model math
// (internal/modules/optimization/risk.go).
package numerics

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Inputs bundles the contract terms every pricing/Greeks/IV call needs.
type Inputs struct {
	Spot       float64 // S
	Strike     float64 // K
	TimeToExpY float64 // T, years, 365-day count
	Rate       float64 // r, risk-free rate
	Vol        float64 // sigma
	IsCall     bool
}

func (in Inputs) d1d2() (d1, d2 float64) {
	sqrtT := math.Sqrt(in.TimeToExpY)
	sigmaT := in.Vol * sqrtT
	d1 = (math.Log(in.Spot/in.Strike) + (in.Rate+0.5*in.Vol*in.Vol)*in.TimeToExpY) / sigmaT
	d2 = d1 - sigmaT
	return
}

// Price returns the Black-Scholes value of the option described by in.
func Price(in Inputs) float64 {
	if in.TimeToExpY <= 0 {
		return intrinsic(in)
	}
	d1, d2 := in.d1d2()
	disc := math.Exp(-in.Rate * in.TimeToExpY)
	if in.IsCall {
		return in.Spot*stdNormal.CDF(d1) - in.Strike*disc*stdNormal.CDF(d2)
	}
	return in.Strike*disc*stdNormal.CDF(-d2) - in.Spot*stdNormal.CDF(-d1)
}

func intrinsic(in Inputs) float64 {
	if in.IsCall {
		return math.Max(0, in.Spot-in.Strike)
	}
	return math.Max(0, in.Strike-in.Spot)
}

// vegaPerUnit returns ∂V/∂σ per unit of volatility (i.e. not yet divided by 100),
// used internally by the Newton-Raphson solver.
func vegaPerUnit(in Inputs) float64 {
	if in.TimeToExpY <= 0 {
		return 0
	}
	d1, _ := in.d1d2()
	return in.Spot * stdNormal.Prob(d1) * math.Sqrt(in.TimeToExpY)
}

// Greeks is the full set of first- and second-order sensitivities computed
// by C5, scaled to the conventions in spec.md §4.5: theta and charm are
// per calendar day, vega is per one volatility point (1.0 == 100%).
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Vanna float64
	Charm float64
}

// Evaluate computes Greeks for in, or returns ok=false when T <= 0
// ("NotEvaluable" per spec.md §4.5/§8).
func Evaluate(in Inputs) (Greeks, bool) {
	if in.TimeToExpY <= 0 || in.Vol <= 0 {
		return Greeks{}, false
	}

	d1, d2 := in.d1d2()
	sqrtT := math.Sqrt(in.TimeToExpY)
	phi := stdNormal.Prob(d1)
	disc := math.Exp(-in.Rate * in.TimeToExpY)

	var delta float64
	if in.IsCall {
		delta = stdNormal.CDF(d1)
	} else {
		delta = stdNormal.CDF(d1) - 1
	}

	gamma := phi / (in.Spot * in.Vol * sqrtT)
	vegaPerYear := in.Spot * phi * sqrtT
	vega := vegaPerYear / 100

	var thetaPerYear float64
	if in.IsCall {
		thetaPerYear = -(in.Spot*phi*in.Vol)/(2*sqrtT) - in.Rate*in.Strike*disc*stdNormal.CDF(d2)
	} else {
		thetaPerYear = -(in.Spot*phi*in.Vol)/(2*sqrtT) + in.Rate*in.Strike*disc*stdNormal.CDF(-d2)
	}
	theta := thetaPerYear / 365

	vanna := -phi * d2 / in.Vol

	charmPerYear := -phi * (2*in.Rate*in.TimeToExpY - d2*in.Vol*sqrtT) / (2 * in.TimeToExpY * in.Vol * sqrtT)
	charm := charmPerYear / 365

	g := Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega, Vanna: vanna, Charm: charm}
	if !finite(g) {
		return Greeks{}, false
	}
	return g, true
}

func finite(g Greeks) bool {
	for _, v := range []float64{g.Delta, g.Gamma, g.Theta, g.Vega, g.Vanna, g.Charm} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
