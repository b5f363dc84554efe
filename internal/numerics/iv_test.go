package numerics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optionpulse/internal/domain"
)

func TestSolveIV_RoundTripRecoversOriginalVol(t *testing.T) {
	cases := []float64{0.05, 0.1, 0.2, 0.35, 0.5, 0.8, 1.2, 2.0}
	for _, sigma := range cases {
		in := Inputs{Spot: 100, Strike: 105, TimeToExpY: 0.5, Rate: 0.03, Vol: sigma, IsCall: true}
		price := Price(in)

		solved, err := SolveIV(DefaultSolverConfig(), in, price)
		require.NoError(t, err, "sigma=%v", sigma)
		assert.InDelta(t, sigma, solved, 1e-5*10, "sigma=%v", sigma)
	}
}

func TestSolveIV_ATMTextbookRoundTrip(t *testing.T) {
	in := atmInputs(true)
	price := Price(in)

	solved, err := SolveIV(DefaultSolverConfig(), in, price)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, solved, 1e-4)
}

func TestSolveIV_RejectsPriceBelowIntrinsic(t *testing.T) {
	in := Inputs{Spot: 150, Strike: 100, TimeToExpY: 0.25, Rate: 0.05, IsCall: true}
	_, err := SolveIV(DefaultSolverConfig(), in, 10) // intrinsic is 50, price of 10 is impossible
	require.Error(t, err)
	var ns *domain.NoSolution
	require.ErrorAs(t, err, &ns)
}

func TestSolveIV_RejectsNonPositivePrice(t *testing.T) {
	in := atmInputs(true)
	_, err := SolveIV(DefaultSolverConfig(), in, 0)
	require.Error(t, err)
}

func TestSolveIV_RejectsNonPositiveTimeToExpiry(t *testing.T) {
	in := atmInputs(true)
	in.TimeToExpY = 0
	_, err := SolveIV(DefaultSolverConfig(), in, 5)
	require.Error(t, err)
}

func TestSolveIV_ClampsToBoundsForExtremeDeepITM(t *testing.T) {
	// Deep ITM near expiry drives vega toward zero; Newton falls back to
	// bisection, and any recovered value is clamped into [IVMin, IVMax].
	in := Inputs{Spot: 300, Strike: 100, TimeToExpY: 5.0 / 365, Rate: 0.05, IsCall: true}
	price := 200.5 // between the IVMin price (~200.07) and the IVMax price (~201.2)
	iv, err := SolveIV(DefaultSolverConfig(), in, price)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, iv, defaultIVMin)
	assert.LessOrEqual(t, iv, defaultIVMax)
}
