package numerics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// atmInputs is the standard textbook case from spec.md §8:
// S=100, K=100, r=0.05, σ=0.2, T=0.25 (one quarter).
func atmInputs(isCall bool) Inputs {
	return Inputs{Spot: 100, Strike: 100, TimeToExpY: 0.25, Rate: 0.05, Vol: 0.2, IsCall: isCall}
}

func TestPrice_ATMCallTextbookValue(t *testing.T) {
	price := Price(atmInputs(true))
	assert.InDelta(t, 4.615, price, 5e-3)
}

func TestPrice_ATMPutTextbookValue(t *testing.T) {
	price := Price(atmInputs(false))
	assert.InDelta(t, 3.373, price, 5e-3)
}

func TestEvaluate_ATMCallTextbookGreeks(t *testing.T) {
	g, ok := Evaluate(atmInputs(true))
	require.True(t, ok)
	assert.InDelta(t, 0.5695, g.Delta, 1e-3)
	assert.InDelta(t, 0.0393, g.Gamma, 1e-3)
	assert.InDelta(t, 0.1964, g.Vega, 1e-3)
	assert.InDelta(t, -0.0287, g.Theta, 1e-3)
	assert.InDelta(t, -0.1473, g.Vanna, 1e-3)
	assert.InDelta(t, -0.000377, g.Charm, 1e-4)
}

func TestEvaluate_ATMPutDeltaIsCallDeltaMinusOne(t *testing.T) {
	call, ok := Evaluate(atmInputs(true))
	require.True(t, ok)
	put, ok := Evaluate(atmInputs(false))
	require.True(t, ok)
	assert.InDelta(t, call.Delta-1, put.Delta, 1e-9)
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-9)
	assert.InDelta(t, call.Vanna, put.Vanna, 1e-9)
}

func TestEvaluate_NotEvaluableAtOrPastExpiry(t *testing.T) {
	in := atmInputs(true)
	in.TimeToExpY = 0
	_, ok := Evaluate(in)
	assert.False(t, ok)

	in.TimeToExpY = -0.01
	_, ok = Evaluate(in)
	assert.False(t, ok)
}

func TestEvaluate_NotEvaluableWithZeroVol(t *testing.T) {
	in := atmInputs(true)
	in.Vol = 0
	_, ok := Evaluate(in)
	assert.False(t, ok)
}

func TestPrice_DeepITMCallApproachesIntrinsic(t *testing.T) {
	in := Inputs{Spot: 200, Strike: 100, TimeToExpY: 0.01, Rate: 0.05, Vol: 0.2, IsCall: true}
	price := Price(in)
	assert.InDelta(t, 100, price, 1.0)
}
