package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optionpulse/internal/broker"
	"github.com/aristath/optionpulse/internal/domain"
)

var et = time.UTC

func f(v float64) *float64 { return &v }
func i(v int64) *int64     { return &v }

func TestQuote_RejectsNonPositiveLast(t *testing.T) {
	_, err := Quote(broker.RawQuote{Symbol: "SPY", Last: f(0)}, et, time.Now())
	require.Error(t, err)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestQuote_RejectsMissingLast(t *testing.T) {
	_, err := Quote(broker.RawQuote{Symbol: "SPY"}, et, time.Now())
	require.Error(t, err)
}

func TestQuote_Valid(t *testing.T) {
	tick, err := Quote(broker.RawQuote{Symbol: "SPY", Last: f(450.0), Volume: i(1000)}, et, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "SPY", tick.Symbol)
	assert.True(t, tick.Price.Equal(tick.Price))
	assert.EqualValues(t, 1000, tick.CumVolume)
}

func TestOptionQuote_IVOutOfRangeTreatedAsAbsent(t *testing.T) {
	raw := broker.RawOptionQuote{
		ContractSymbol: "SPY260321C00450000",
		Underlying:     "SPY",
		Expiration:      "2026-03-21",
		Strike:         450,
		Type:           "call",
		Last:           f(12.1),
		IV:             f(9.9),
	}
	tick, err := OptionQuote(raw, et, time.Now(), DefaultIVRange())
	require.NoError(t, err)
	assert.Nil(t, tick.BrokerIV)
}

func TestOptionQuote_IVInRangeKept(t *testing.T) {
	raw := broker.RawOptionQuote{
		ContractSymbol: "SPY260321C00450000",
		Underlying:     "SPY",
		Expiration:     "2026-03-21",
		Strike:         450,
		Type:           "Call",
		Last:           f(12.1),
		IV:             f(0.25),
	}
	tick, err := OptionQuote(raw, et, time.Now(), DefaultIVRange())
	require.NoError(t, err)
	require.NotNil(t, tick.BrokerIV)
	assert.InDelta(t, 0.25, *tick.BrokerIV, 1e-9)
}

func TestOptionQuote_RejectsBadType(t *testing.T) {
	raw := broker.RawOptionQuote{ContractSymbol: "X", Underlying: "SPY", Expiration: "2026-03-21", Strike: 450, Type: "straddle"}
	_, err := OptionQuote(raw, et, time.Now(), DefaultIVRange())
	require.Error(t, err)
}

func TestOptionQuote_RejectsNonPositiveStrike(t *testing.T) {
	raw := broker.RawOptionQuote{ContractSymbol: "X", Underlying: "SPY", Expiration: "2026-03-21", Strike: 0, Type: "call"}
	_, err := OptionQuote(raw, et, time.Now(), DefaultIVRange())
	require.Error(t, err)
}

func TestBar_ValidRoundTrip(t *testing.T) {
	raw := broker.RawBar{Symbol: "SPY", Timestamp: time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC).Unix(), Open: 449, High: 451, Low: 448.5, Close: 450, Volume: 1000}
	bar, err := Bar(raw, et)
	require.NoError(t, err)
	assert.NoError(t, bar.Valid())
}

func TestBar_RejectsHighBelowClose(t *testing.T) {
	raw := broker.RawBar{Symbol: "SPY", Timestamp: time.Now().Unix(), Open: 449, High: 449.5, Low: 448, Close: 450}
	_, err := Bar(raw, et)
	require.Error(t, err)
}
