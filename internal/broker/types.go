package broker

import "time"

// BarUnit is the granularity of a historical/streamed bar request.
type BarUnit string

const (
	Minute BarUnit = "Minute"
	Daily  BarUnit = "Daily"
	Weekly BarUnit = "Weekly"
	Monthly BarUnit = "Monthly"
)

// RawQuote is the broker's snapshot payload for one equity or option symbol,
// prior to Validator normalization.
type RawQuote struct {
	Symbol    string   `json:"symbol"`
	Last      *float64 `json:"last"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Volume    *int64   `json:"volume"`
	Timestamp string   `json:"timestamp"` // RFC3339 in the broker's reporting zone
}

// RawBar is one OHLCV candle as the broker reports it.
type RawBar struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"` // unix seconds, bar open time
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// RawOptionQuote is the broker's option-chain payload for a single contract.
type RawOptionQuote struct {
	ContractSymbol string   `json:"symbol"`
	Underlying     string   `json:"underlying"`
	Expiration     string   `json:"expiration_date"` // YYYY-MM-DD
	Strike         float64  `json:"strike"`
	Type           string   `json:"option_type"` // "call" / "put"
	Last           *float64 `json:"last"`
	Bid            *float64 `json:"bid"`
	Ask            *float64 `json:"ask"`
	Volume         *int64   `json:"volume"`
	OpenInterest   *int64   `json:"open_interest"`
	IV             *float64 `json:"implied_volatility"`
	Timestamp      string   `json:"timestamp"`
}

// RawClock is the broker's market-clock payload.
type RawClock struct {
	Session   string `json:"session"` // "pre", "open", "post", "closed"
	Timestamp string `json:"timestamp"`
}

// SymbolResult is a SymbolSearch hit (diagnostics only, per spec.md §4.2).
type SymbolResult struct {
	Symbol string `json:"symbol"`
	Name   string `json:"description"`
}

// DepthLevel is a single price level in a MarketDepth snapshot.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// MarketDepthTick is one push from the diagnostic WebSocket depth feed.
type MarketDepthTick struct {
	Symbol    string       `json:"symbol"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}
