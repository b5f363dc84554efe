// Package validate is C3: pure functions that normalize and range-check raw
// broker payloads into internal tick records, or reject them with a typed
// domain.ValidationError. Nothing here calls the network or the store —
// the validator is the only bridge from untyped broker JSON to typed
// internal records (spec.md §9's redesign flag on "dynamic-typed broker
// payloads").
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/optionpulse/internal/broker"
	"github.com/aristath/optionpulse/internal/domain"
)

// UnderlyingTick is one validated underlying price observation, ready for
// the Aggregator.
type UnderlyingTick struct {
	Symbol      string
	Timestamp   time.Time
	Price       decimal.Decimal
	CumVolume   int64
}

// OptionTick is one validated option-chain observation, ready for the
// Aggregator.
type OptionTick struct {
	Contract     domain.OptionContract
	Timestamp    time.Time
	Last         *decimal.Decimal
	Bid          *decimal.Decimal
	Ask          *decimal.Decimal
	CumVolume    int64
	OpenInterest int64
	BrokerIV     *float64 // nil if absent or out of [ivMin, ivMax]
}

// IVRange is the sane-range check from spec.md §4.3: a broker-reported IV
// outside [Min, Max] is treated as "IV not provided," not as an error. The
// caller threads this from config.Config's IV_MIN/IV_MAX so the validator
// shares one source of truth with numerics.SolverConfig's clamp bounds
// instead of carrying its own hardcoded copy.
type IVRange struct {
	Min, Max float64
}

// DefaultIVRange matches numerics.DefaultSolverConfig's bounds, for callers
// that pass a zero-value IVRange.
func DefaultIVRange() IVRange { return IVRange{Min: 0.01, Max: 5.0} }

func (r IVRange) filled() IVRange {
	if r.Min <= 0 && r.Max <= 0 {
		return DefaultIVRange()
	}
	return r
}

// Quote validates a RawQuote (underlying tick) at the given observation
// time (the broker doesn't always include a parseable timestamp on every
// payload shape, so callers may supply `at` from the enclosing response).
func Quote(raw broker.RawQuote, loc *time.Location, at time.Time) (UnderlyingTick, error) {
	ts := at
	if raw.Timestamp != "" {
		if parsed, err := time.ParseInLocation(time.RFC3339, raw.Timestamp, loc); err == nil {
			ts = parsed
		}
	}

	if raw.Last == nil {
		return UnderlyingTick{}, &domain.ValidationError{Field: "last", Value: raw.Symbol, Reason: "missing last price"}
	}
	if *raw.Last <= 0 {
		return UnderlyingTick{}, &domain.ValidationError{Field: "last", Value: *raw.Last, Reason: "must be positive"}
	}

	var vol int64
	if raw.Volume != nil {
		if *raw.Volume < 0 {
			return UnderlyingTick{}, &domain.ValidationError{Field: "volume", Value: *raw.Volume, Reason: "must be non-negative"}
		}
		vol = *raw.Volume
	}

	return UnderlyingTick{
		Symbol:    raw.Symbol,
		Timestamp: ts,
		Price:     decimal.NewFromFloat(*raw.Last),
		CumVolume: vol,
	}, nil
}

// OptionQuote validates a RawOptionQuote into an OptionTick. loc
// is the exchange timezone used to floor expiration to a calendar date.
// ivRange bounds the broker-reported IV sanity check (spec.md §4.3).
func OptionQuote(raw broker.RawOptionQuote, loc *time.Location, at time.Time, ivRange IVRange) (OptionTick, error) {
	ivRange = ivRange.filled()
	optType, err := parseOptionType(raw.Type)
	if err != nil {
		return OptionTick{}, err
	}

	if raw.Strike <= 0 {
		return OptionTick{}, &domain.ValidationError{Field: "strike", Value: raw.Strike, Reason: "must be positive"}
	}

	expiration, err := time.ParseInLocation("2006-01-02", raw.Expiration, loc)
	if err != nil {
		return OptionTick{}, &domain.ValidationError{Field: "expiration_date", Value: raw.Expiration, Reason: "unparseable date"}
	}

	var volume, oi int64
	if raw.Volume != nil {
		if *raw.Volume < 0 {
			return OptionTick{}, &domain.ValidationError{Field: "volume", Value: *raw.Volume, Reason: "must be non-negative"}
		}
		volume = *raw.Volume
	}
	if raw.OpenInterest != nil {
		if *raw.OpenInterest < 0 {
			return OptionTick{}, &domain.ValidationError{Field: "open_interest", Value: *raw.OpenInterest, Reason: "must be non-negative"}
		}
		oi = *raw.OpenInterest
	}

	ts := at
	if raw.Timestamp != "" {
		if parsed, err := time.ParseInLocation(time.RFC3339, raw.Timestamp, loc); err == nil {
			ts = parsed
		}
	}

	var brokerIV *float64
	if raw.IV != nil && *raw.IV >= ivRange.Min && *raw.IV <= ivRange.Max {
		v := *raw.IV
		brokerIV = &v
	}

	contract := domain.OptionContract{
		Underlying: raw.Underlying,
		Expiration: expiration,
		Strike:     decimal.NewFromFloat(raw.Strike),
		Type:       optType,
		Symbol:     raw.ContractSymbol,
	}

	return OptionTick{
		Contract:     contract,
		Timestamp:    ts,
		Last:         decimalPtr(raw.Last),
		Bid:          decimalPtr(raw.Bid),
		Ask:          decimalPtr(raw.Ask),
		CumVolume:    volume,
		OpenInterest: oi,
		BrokerIV:     brokerIV,
	}, nil
}

func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil || *f < 0 {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func parseOptionType(raw string) (domain.OptionType, error) {
	switch strings.ToLower(raw) {
	case "call", "c":
		return domain.Call, nil
	case "put", "p":
		return domain.Put, nil
	default:
		return "", &domain.ValidationError{Field: "option_type", Value: raw, Reason: "must be call or put"}
	}
}

// Bar validates a RawBar into a fully-formed domain.UnderlyingBar for the
// backfill path, where the broker already reports OHLC rather than ticks.
func Bar(raw broker.RawBar, loc *time.Location) (domain.UnderlyingBar, error) {
	if raw.Open <= 0 || raw.High <= 0 || raw.Low <= 0 || raw.Close <= 0 {
		return domain.UnderlyingBar{}, &domain.ValidationError{Field: "ohlc", Value: raw, Reason: "open/high/low/close must be positive"}
	}
	if raw.High < raw.Open || raw.High < raw.Close {
		return domain.UnderlyingBar{}, &domain.ValidationError{Field: "high", Value: raw.High, Reason: "must be >= max(open, close)"}
	}
	if raw.Low > raw.Open || raw.Low > raw.Close {
		return domain.UnderlyingBar{}, &domain.ValidationError{Field: "low", Value: raw.Low, Reason: "must be <= min(open, close)"}
	}
	if raw.Volume < 0 {
		return domain.UnderlyingBar{}, &domain.ValidationError{Field: "volume", Value: raw.Volume, Reason: "must be non-negative"}
	}

	bar := domain.UnderlyingBar{
		Symbol:      raw.Symbol,
		BucketStart: time.Unix(raw.Timestamp, 0).In(loc),
		Open:        decimal.NewFromFloat(raw.Open),
		High:        decimal.NewFromFloat(raw.High),
		Low:         decimal.NewFromFloat(raw.Low),
		Close:       decimal.NewFromFloat(raw.Close),
		UpVolume:    raw.Volume,
	}
	if err := bar.Valid(); err != nil {
		return domain.UnderlyingBar{}, err
	}
	return bar, nil
}

// Expiration parses a broker expiration date string into a time.Time date
// in loc.
func Expiration(raw string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiration %q: %w", raw, err)
	}
	return t, nil
}
