package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optionpulse/internal/domain"
)

func gp(f float64) *float64 { return &f }

func quoteRow(strike float64, optType domain.OptionType, gamma float64, oi int64, volume int64, exp time.Time) domain.OptionSnapshotRow {
	d := decimal.NewFromFloat(strike)
	side := "C"
	if optType == domain.Put {
		side = "P"
	}
	return domain.OptionSnapshotRow{
		Contract: domain.OptionContract{
			Underlying: "SPY", Expiration: exp, Strike: d, Type: optType,
			Symbol: "SPY" + exp.Format("060102") + side + d.String(),
		},
		Quote: domain.OptionQuote{
			Gamma: gp(gamma), OpenInterest: oi, Volume: volume,
		},
	}
}

// TestCompute_PinsThreeStrikeScenario reproduces spec.md's S4 acceptance
// scenario: three strikes {445,450,455} with known gamma and OI.
func TestCompute_PinsThreeStrikeScenario(t *testing.T) {
	exp := time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)

	rows := []domain.OptionSnapshotRow{
		quoteRow(445, domain.Call, 0.02, 100, 10, exp),
		quoteRow(445, domain.Put, 0.01, 50, 5, exp),
		quoteRow(450, domain.Call, 0.05, 200, 40, exp),
		quoteRow(450, domain.Put, 0.04, 180, 30, exp),
		quoteRow(455, domain.Call, 0.01, 80, 8, exp),
		quoteRow(455, domain.Put, 0.03, 150, 20, exp),
	}

	summary, byStrike := Compute("SPY", asOf, rows)

	require.Len(t, byStrike, 3)
	netByStrike := make(map[string]float64)
	for _, r := range byStrike {
		netByStrike[r.Strike.String()] = r.NetGEX
	}
	assert.InDelta(t, 150.0, netByStrike["445"], 1e-6)
	assert.InDelta(t, 280.0, netByStrike["450"], 1e-6)
	assert.InDelta(t, -370.0, netByStrike["455"], 1e-6)

	assert.InDelta(t, 60.0, summary.TotalNetGEX, 1e-6)
	assert.True(t, summary.MaxGammaStrike.Equal(decimal.NewFromFloat(455)))
	assert.InDelta(t, -370.0, summary.MaxGammaValue, 1e-6)

	// Cumulative net GEX (150, 430, 60) never crosses zero, so the flip
	// point is the strike with the smallest |cumulative| — 455.
	assert.InDelta(t, 455.0, summary.GammaFlipPoint, 1e-6)

	// pain(445)=1800, pain(450)=650, pain(455)=1400 — 450 minimizes.
	assert.True(t, summary.MaxPain.Equal(decimal.NewFromFloat(450)), "max pain = %s", summary.MaxPain.String())

	require.NotNil(t, summary.PutCallRatio)
	assert.InDelta(t, 55.0/58.0, *summary.PutCallRatio, 1e-6)
}

func TestCompute_GammaFlipInterpolatesBetweenStraddlingStrikes(t *testing.T) {
	exp := time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)

	// 440: net +100 (call-heavy). 450: net -300 (put-heavy). Cumulative
	// crosses between 440 (100) and 450 (-200): flip at
	// 440 + 10*(100/300) = 443.33...
	rows := []domain.OptionSnapshotRow{
		quoteRow(440, domain.Call, 0.02, 100, 0, exp), // callGamma=2
		quoteRow(440, domain.Put, 0.01, 100, 0, exp),  // putGamma=1 -> net=(2-1)*100=100
		quoteRow(450, domain.Call, 0.01, 100, 0, exp), // callGamma=1
		quoteRow(450, domain.Put, 0.04, 100, 0, exp),  // putGamma=4 -> net=(1-4)*100=-300
	}

	summary, _ := Compute("SPY", asOf, rows)
	assert.InDelta(t, 443.333333, summary.GammaFlipPoint, 1e-3)
}

func TestCompute_FiltersNullGammaAndZeroOI(t *testing.T) {
	exp := time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)

	rows := []domain.OptionSnapshotRow{
		{Contract: domain.OptionContract{Underlying: "SPY", Expiration: exp, Strike: decimal.NewFromFloat(445), Type: domain.Call}, Quote: domain.OptionQuote{Gamma: nil, OpenInterest: 100}},
		{Contract: domain.OptionContract{Underlying: "SPY", Expiration: exp, Strike: decimal.NewFromFloat(450), Type: domain.Call}, Quote: domain.OptionQuote{Gamma: gp(0.02), OpenInterest: 0}},
		quoteRow(455, domain.Call, 0.02, 100, 1, exp),
	}

	_, byStrike := Compute("SPY", asOf, rows)
	require.Len(t, byStrike, 1)
	assert.True(t, byStrike[0].Strike.Equal(decimal.NewFromFloat(455)))
}

func TestCompute_NoVolumeYieldsNullPutCallRatio(t *testing.T) {
	exp := time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)
	rows := []domain.OptionSnapshotRow{quoteRow(450, domain.Put, 0.02, 100, 5, exp)}

	summary, _ := Compute("SPY", asOf, rows)
	assert.Nil(t, summary.PutCallRatio)
}
