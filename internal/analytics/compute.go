// Package analytics is C12: on an independent cadence, derives per-strike
// gamma exposure, the gamma-flip point, max pain, and put/call ratios from
// the most recent per-contract snapshot the store holds. No teacher file
// computes an options-market rollup like this one; the read-latest-
// snapshot/group-by-strike/reduce/write-one-summary-row shape is built
// directly from spec.md §4.6-§4.8's formulas.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/optionpulse/internal/domain"
)

type strikeGroup struct {
	strike     decimal.Decimal
	expiration time.Time

	callGamma, putGamma    float64
	callVanna, putVanna    float64
	callCharm, putCharm    float64
	callVolume, putVolume  int64
	callOI, putOI          int64
}

// strikeOI aggregates call/put open interest by strike across all
// expirations, since max-pain's payoff sum is computed over the strike
// universe, not per expiration (spec.md §4.12 step 4).
type strikeOI struct {
	strike        float64
	callOI, putOI int64
}

// Compute derives one tick's GEXSummary and GEXByStrike rows from the
// latest-per-contract snapshot, per spec.md §4.12 steps 2-4. Rows without a
// solved gamma or with zero open interest are dropped here, per step 2's
// filter. The reference spot S* itself isn't an input to any of these
// formulas — Engine.Tick only uses it to decide whether to run the tick at
// all (spec.md §4.12 step 1).
func Compute(underlying string, asOf time.Time, rows []domain.OptionSnapshotRow) (domain.GEXSummary, []domain.GEXByStrike) {
	groups := make(map[string]*strikeGroup)
	order := []string{}

	oiByStrike := make(map[string]*strikeOI)
	strikeOrder := []string{}

	var totalCallVolume, totalPutVolume, totalCallOI, totalPutOI int64

	for _, row := range rows {
		c, q := row.Contract, row.Quote
		if q.Gamma == nil || q.OpenInterest <= 0 {
			continue
		}

		gk := c.Strike.String() + "|" + c.Expiration.Format("2006-01-02")
		g, ok := groups[gk]
		if !ok {
			g = &strikeGroup{strike: c.Strike, expiration: c.Expiration}
			groups[gk] = g
			order = append(order, gk)
		}

		sk := c.Strike.String()
		so, ok := oiByStrike[sk]
		if !ok {
			strikeF, _ := c.Strike.Float64()
			so = &strikeOI{strike: strikeF}
			oiByStrike[sk] = so
			strikeOrder = append(strikeOrder, sk)
		}

		gamma := *q.Gamma
		vanna, charm := floatOrZero(q.Vanna), floatOrZero(q.Charm)

		switch c.Type {
		case domain.Call:
			g.callGamma += gamma * float64(q.OpenInterest)
			g.callVanna += vanna * float64(q.OpenInterest)
			g.callCharm += charm * float64(q.OpenInterest)
			g.callVolume += q.Volume
			g.callOI += q.OpenInterest
			so.callOI += q.OpenInterest
			totalCallVolume += q.Volume
			totalCallOI += q.OpenInterest
		case domain.Put:
			g.putGamma += gamma * float64(q.OpenInterest)
			g.putVanna += vanna * float64(q.OpenInterest)
			g.putCharm += charm * float64(q.OpenInterest)
			g.putVolume += q.Volume
			g.putOI += q.OpenInterest
			so.putOI += q.OpenInterest
			totalPutVolume += q.Volume
			totalPutOI += q.OpenInterest
		}
	}

	byStrike := make([]domain.GEXByStrike, 0, len(order))
	for _, gk := range order {
		g := groups[gk]
		netGEX := (g.callGamma - g.putGamma) * domain.ContractMultiplier
		byStrike = append(byStrike, domain.GEXByStrike{
			Underlying: underlying, CalcTime: asOf, Strike: g.strike, Expiration: g.expiration,
			CallGamma: g.callGamma, PutGamma: g.putGamma, NetGEX: netGEX,
			CallVolume: g.callVolume, PutVolume: g.putVolume, CallOI: g.callOI, PutOI: g.putOI,
			VannaExposure: g.callVanna - g.putVanna, CharmExposure: g.callCharm - g.putCharm,
		})
	}
	sort.Slice(byStrike, func(i, j int) bool {
		if byStrike[i].Strike.Equal(byStrike[j].Strike) {
			return byStrike[i].Expiration.Before(byStrike[j].Expiration)
		}
		return byStrike[i].Strike.LessThan(byStrike[j].Strike)
	})

	summary := domain.GEXSummary{
		Underlying: underlying, CalcTime: asOf,
		TotalCallVolume: totalCallVolume, TotalPutVolume: totalPutVolume,
		TotalCallOI: totalCallOI, TotalPutOI: totalPutOI,
	}

	if len(byStrike) > 0 {
		summary.MaxGammaStrike, summary.MaxGammaValue = maxAbsNetGEX(byStrike)
		for _, r := range byStrike {
			summary.TotalNetGEX += r.NetGEX
		}
		summary.GammaFlipPoint = gammaFlipPoint(byStrike)
		summary.MaxPain = maxPain(oiByStrike, strikeOrder)
	}

	if totalCallVolume > 0 {
		ratio := float64(totalPutVolume) / float64(totalCallVolume)
		summary.PutCallRatio = &ratio
	}

	return summary, byStrike
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// maxAbsNetGEX returns the strike (and signed value) with the largest
// |net_gex|; ties are broken by lowest strike since byStrike is already
// strike-ascending.
func maxAbsNetGEX(byStrike []domain.GEXByStrike) (decimal.Decimal, float64) {
	best := byStrike[0]
	for _, r := range byStrike[1:] {
		if math.Abs(r.NetGEX) > math.Abs(best.NetGEX) {
			best = r
		}
	}
	return best.Strike, best.NetGEX
}

// gammaFlipPoint implements spec.md §4.12's crossing rule: sort by strike
// (already done by the caller), accumulate net_gex, find the adjacent pair
// whose cumulative sum straddles zero and interpolate linearly between
// them. Per-strike duplicates across expirations are merged into one
// cumulative point by strike before the sign-crossing search, since the
// flip point is a per-underlying, not per-expiration, quantity.
func gammaFlipPoint(byStrike []domain.GEXByStrike) float64 {
	type point struct {
		strike float64
		cum    float64
	}
	perStrike := make(map[string]float64)
	var strikeOrder []string
	for _, r := range byStrike {
		k := r.Strike.String()
		if _, ok := perStrike[k]; !ok {
			strikeOrder = append(strikeOrder, k)
		}
		perStrike[k] += r.NetGEX
	}
	strikes := make([]decimal.Decimal, 0, len(strikeOrder))
	for _, k := range strikeOrder {
		d, _ := decimal.NewFromString(k)
		strikes = append(strikes, d)
	}
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].LessThan(strikes[j]) })

	points := make([]point, 0, len(strikes))
	running := 0.0
	for _, s := range strikes {
		running += perStrike[s.String()]
		f, _ := s.Float64()
		points = append(points, point{strike: f, cum: running})
	}

	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		if a.cum == 0 {
			return a.strike
		}
		if (a.cum < 0 && b.cum > 0) || (a.cum > 0 && b.cum < 0) {
			frac := -a.cum / (b.cum - a.cum)
			return a.strike + frac*(b.strike-a.strike)
		}
	}
	if points[len(points)-1].cum == 0 {
		return points[len(points)-1].strike
	}

	best := points[0]
	for _, p := range points[1:] {
		if math.Abs(p.cum) < math.Abs(best.cum) {
			best = p
		}
	}
	return best.strike
}

// maxPain implements spec.md §4.12's payoff-minimization rule over the
// union of strikes present in the snapshot, aggregating OI across
// expirations per strike.
func maxPain(oiByStrike map[string]*strikeOI, strikeOrder []string) decimal.Decimal {
	type point struct {
		key    string
		strike float64
	}
	candidates := make([]point, 0, len(strikeOrder))
	for _, k := range strikeOrder {
		candidates = append(candidates, point{key: k, strike: oiByStrike[k].strike})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].strike < candidates[j].strike })

	var bestKey string
	bestPain := math.Inf(1)
	for _, cand := range candidates {
		k := cand.strike
		pain := 0.0
		for _, other := range candidates {
			o := oiByStrike[other.key]
			if other.strike > k {
				pain += (other.strike - k) * float64(o.callOI)
			}
			if k > other.strike {
				pain += (k - other.strike) * float64(o.putOI)
			}
		}
		if pain < bestPain {
			bestPain = pain
			bestKey = cand.key
		}
	}
	if bestKey == "" {
		return decimal.Zero
	}
	return decimal.NewFromFloat(oiByStrike[bestKey].strike)
}
