// Package domain holds the data-model types shared across ingestion,
// numerics, store and analytics: the shapes described in spec.md §3,
// plus the error taxonomy in errors.go.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionType is the contract side: Call or Put. No other value is valid.
type OptionType string

const (
	Call OptionType = "Call"
	Put  OptionType = "Put"
)

func (t OptionType) Valid() bool { return t == Call || t == Put }

// Session is the broker's market-clock classification, driving poll cadence.
type Session string

const (
	SessionPreOpen     Session = "PreOpen"
	SessionRegularOpen Session = "RegularOpen"
	SessionAfterHours  Session = "AfterHours"
	SessionClosed      Session = "Closed"
)

// Clock is the broker's reported session and wall-clock time.
type Clock struct {
	Session Session
	Now     time.Time
}

// UnderlyingBar is one one-minute OHLC bucket for an underlying symbol.
// Primary key: (Symbol, BucketStart).
type UnderlyingBar struct {
	Symbol      string
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	UpVolume    int64
	DownVolume  int64
}

// Valid checks the OHLC invariants from spec.md §3 and §8.
func (b UnderlyingBar) Valid() error {
	zero := decimal.Zero
	if b.Open.LessThanOrEqual(zero) || b.High.LessThanOrEqual(zero) ||
		b.Low.LessThanOrEqual(zero) || b.Close.LessThanOrEqual(zero) {
		return &ValidationError{Field: "ohlc", Value: b, Reason: "open/high/low/close must be positive"}
	}
	maxOC := decimal.Max(b.Open, b.Close)
	minOC := decimal.Min(b.Open, b.Close)
	if b.High.LessThan(maxOC) {
		return &ValidationError{Field: "high", Value: b.High, Reason: "high must be >= max(open, close)"}
	}
	if b.Low.GreaterThan(minOC) {
		return &ValidationError{Field: "low", Value: b.Low, Reason: "low must be <= min(open, close)"}
	}
	if b.UpVolume < 0 || b.DownVolume < 0 {
		return &ValidationError{Field: "volume", Value: b, Reason: "volumes must be non-negative"}
	}
	return nil
}

// OptionContract is the immutable identity of a single-leg equity option:
// (Underlying, Expiration, Strike, Type), plus its canonical printable
// symbol (e.g. "SPY260321C00450000").
type OptionContract struct {
	Underlying string
	Expiration time.Time // calendar date, time-of-day ignored
	Strike     decimal.Decimal
	Type       OptionType
	Symbol     string
}

// Expired reports whether the contract's expiration date has passed as of
// the given local exchange date (time-of-day truncated).
func (c OptionContract) Expired(asOf time.Time) bool {
	ey, em, ed := c.Expiration.Date()
	ny, nm, nd := asOf.Date()
	expDate := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	nowDate := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return expDate.Before(nowDate)
}

func (c OptionContract) String() string {
	return c.Symbol
}

// IVSource records which step of the fallback ladder (spec.md §4.4)
// produced the stored IV, so tests can assert ladder determinism.
type IVSource string

const (
	IVSourceBroker  IVSource = "broker"  // broker-provided IV, in-range
	IVSourceMid     IVSource = "mid"     // solved from bid/ask mid
	IVSourceLast    IVSource = "last"    // solved from last trade price
	IVSourceDefault IVSource = "default" // configured default IV, no solve
	IVSourceNone    IVSource = "none"    // numerics disabled or NoSolution
)

// OptionQuote is one one-minute bucket of quote + derived-numerics data for
// a single contract. Primary key: (ContractSymbol, BucketStart).
type OptionQuote struct {
	ContractSymbol string
	BucketStart    time.Time

	Last *decimal.Decimal
	Bid  *decimal.Decimal
	Ask  *decimal.Decimal

	Volume        int64
	OpenInterest  int64

	IV    *float64
	Delta *float64
	Gamma *float64
	Theta *float64
	Vega  *float64
	Vanna *float64
	Charm *float64

	IVSource IVSource
}

// Valid checks the invariants from spec.md §8 for a written OptionQuote.
func (q OptionQuote) Valid(optType OptionType, strike decimal.Decimal) error {
	if !optType.Valid() {
		return &ValidationError{Field: "option_type", Value: optType, Reason: "must be Call or Put"}
	}
	if strike.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "strike", Value: strike, Reason: "must be positive"}
	}
	if q.Volume < 0 || q.OpenInterest < 0 {
		return &ValidationError{Field: "volume/open_interest", Value: q, Reason: "must be non-negative"}
	}
	return nil
}

// GEXSummary is one analytics tick's per-underlying rollup.
// Primary key: (Underlying, CalcTime).
type GEXSummary struct {
	Underlying      string
	CalcTime        time.Time
	MaxGammaStrike  decimal.Decimal
	MaxGammaValue   float64
	GammaFlipPoint  float64
	PutCallRatio    *float64
	MaxPain         decimal.Decimal
	TotalCallVolume int64
	TotalPutVolume  int64
	TotalCallOI     int64
	TotalPutOI      int64
	TotalNetGEX     float64
}

// GEXByStrike is one analytics tick's per-(strike, expiration) rollup.
// Primary key: (Underlying, CalcTime, Strike, Expiration).
type GEXByStrike struct {
	Underlying    string
	CalcTime      time.Time
	Strike        decimal.Decimal
	Expiration    time.Time
	CallGamma     float64
	PutGamma      float64
	NetGEX        float64
	CallVolume    int64
	PutVolume     int64
	CallOI        int64
	PutOI         int64
	VannaExposure float64
	CharmExposure float64
}

// ContractMultiplier is the standard equity-option shares-per-contract
// convention used to scale gamma exposure into dollar terms (spec.md §4.12).
const ContractMultiplier = 100

// OptionSnapshotRow is the shape LatestOptionSnapshot (C11) returns to the
// AnalyticsEngine: an OptionQuote joined with its contract identity.
type OptionSnapshotRow struct {
	Contract OptionContract
	Quote    OptionQuote
}
