// Package broker is C2: a typed request layer over the broker's REST API,
// with bounded-retry-with-backoff on transient failures and a single
// forced-refresh-and-retry on 401, grounded on the teacher's
// internal/clients/tradernet/sdk client (request signing, structured
// logging, normalized response handling) and its retry/backoff idiom from
// internal/clients/tradernet/websocket_client.go.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/optionpulse/internal/domain"
)

// TokenProvider supplies the current bearer token. Satisfied by
// token.BrokerAdapter.
type TokenProvider interface {
	GetToken(ctx context.Context) (TokenValue, error)
}

// TokenValue is the minimal shape client.go needs from a token.Token,
// decoupling this package from token's internal representation.
type TokenValue struct {
	Value string
}

// ForceRefresher is implemented by token sources that can be told their
// cached token is no longer good (a 401 means it expired early or was
// revoked — don't wait for the safety margin).
type ForceRefresher interface {
	ForceRefresh(ctx context.Context) (TokenValue, error)
}

// Client is the C2 BrokerClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	log        zerolog.Logger
	policy     retryPolicy
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RetryBackoff   float64
}

// New creates a broker Client.
func New(cfg Config, tokens TokenProvider, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		tokens:     tokens,
		log:        log.With().Str("component", "broker_client").Logger(),
		policy: retryPolicy{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
			Backoff:  cfg.RetryBackoff,
		},
	}
}

// doJSON performs one authenticated GET/POST and decodes the JSON body into
// out. A 401 triggers exactly one forced-refresh-and-retry, outside the
// normal retry budget; everything else is handled by withRetry at the call
// site.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	reqID := uuid.New().String()
	log := c.log.With().Str("request_id", reqID).Str("path", path).Logger()

	tok, err := c.tokens.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	resp, body, err := c.send(ctx, method, path, query, tok.Value)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		log.Warn().Msg("401 received, forcing token refresh for one retry")
		if refresher, ok := c.tokens.(ForceRefresher); ok {
			tok, err = refresher.ForceRefresh(ctx)
			if err != nil {
				return fmt.Errorf("forced refresh: %w", err)
			}
			resp, body, err = c.send(ctx, method, path, query, tok.Value)
			if err != nil {
				return err
			}
		}
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := retryAfterFromHeader(resp.Header)
		return &httpStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 500)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &httpStatusError{Err: fmt.Errorf("decode response: %w: body=%s", err, truncate(body, 500))}
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, bearer string) (*http.Response, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if method == http.MethodPost {
		bodyReader = bytes.NewReader([]byte(query.Encode()))
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp, body, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// Quote returns a snapshot of last/bid/ask for one or more symbols.
func (c *Client) Quote(ctx context.Context, symbols []string) ([]RawQuote, error) {
	var out struct {
		Quotes []RawQuote `json:"quotes"`
	}
	err := withRetry(ctx, c.log, "Quote", c.policy, func(ctx context.Context) error {
		q := url.Values{"symbols": {joinSymbols(symbols)}}
		return c.doJSON(ctx, http.MethodGet, "/v1/markets/quotes", q, &out)
	})
	return out.Quotes, err
}

// Bars returns historical OHLCV bars for symbol at the given unit/interval,
// the most recent `count` bars.
func (c *Client) Bars(ctx context.Context, symbol string, unit BarUnit, interval, count int) ([]RawBar, error) {
	var out struct {
		Bars []RawBar `json:"bars"`
	}
	err := withRetry(ctx, c.log, "Bars", c.policy, func(ctx context.Context) error {
		q := url.Values{
			"symbol":   {symbol},
			"unit":     {string(unit)},
			"interval": {fmt.Sprint(interval)},
			"count":    {fmt.Sprint(count)},
		}
		return c.doJSON(ctx, http.MethodGet, "/v1/markets/bars", q, &out)
	})
	return out.Bars, err
}

// StreamBars is the "pseudo-stream" from spec.md §4.2: in the
// single-threaded cooperative polling model, equivalent to a bounded Bars
// query executed each tick. It returns the most recent bar(s) only.
func (c *Client) StreamBars(ctx context.Context, symbol string, interval int) ([]RawBar, error) {
	return c.Bars(ctx, symbol, Minute, interval, 1)
}

// Expirations returns a underlying's option expirations, ordered ascending.
func (c *Client) Expirations(ctx context.Context, underlying string) ([]string, error) {
	var out struct {
		Expirations []string `json:"expirations"`
	}
	err := withRetry(ctx, c.log, "Expirations", c.policy, func(ctx context.Context) error {
		q := url.Values{"underlying": {underlying}}
		return c.doJSON(ctx, http.MethodGet, "/v1/markets/options/expirations", q, &out)
	})
	return out.Expirations, err
}

// Strikes returns the strikes available for underlying at expiration,
// ordered ascending.
func (c *Client) Strikes(ctx context.Context, underlying, expiration string) ([]float64, error) {
	var out struct {
		Strikes []float64 `json:"strikes"`
	}
	err := withRetry(ctx, c.log, "Strikes", c.policy, func(ctx context.Context) error {
		q := url.Values{"underlying": {underlying}, "expiration": {expiration}}
		return c.doJSON(ctx, http.MethodGet, "/v1/markets/options/strikes", q, &out)
	})
	return out.Strikes, err
}

// OptionChain returns quotes for the requested contracts. If strikes is
// empty, the broker returns the full chain for the expiration.
func (c *Client) OptionChain(ctx context.Context, underlying, expiration string, strikes []float64) ([]RawOptionQuote, error) {
	var out struct {
		Options []RawOptionQuote `json:"options"`
	}
	err := withRetry(ctx, c.log, "OptionChain", c.policy, func(ctx context.Context) error {
		q := url.Values{"underlying": {underlying}, "expiration": {expiration}}
		if len(strikes) > 0 {
			q.Set("strikes", joinFloats(strikes))
		}
		return c.doJSON(ctx, http.MethodGet, "/v1/markets/options/chains", q, &out)
	})
	return out.Options, err
}

// Clock returns the broker's current market-session classification.
func (c *Client) Clock(ctx context.Context) (RawClock, error) {
	var out RawClock
	err := withRetry(ctx, c.log, "Clock", c.policy, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/v1/markets/clock", nil, &out)
	})
	return out, err
}

// SymbolSearch is a diagnostics-only lookup (spec.md §4.2).
func (c *Client) SymbolSearch(ctx context.Context, query string) ([]SymbolResult, error) {
	var out struct {
		Securities []SymbolResult `json:"securities"`
	}
	err := withRetry(ctx, c.log, "SymbolSearch", c.policy, func(ctx context.Context) error {
		q := url.Values{"q": {query}}
		return c.doJSON(ctx, http.MethodGet, "/v1/markets/search", q, &out)
	})
	return out.Securities, err
}

func joinSymbols(symbols []string) string {
	out := ""
	for i, s := range symbols {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func joinFloats(fs []float64) string {
	out := ""
	for i, f := range fs {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%g", f)
	}
	return out
}

// sessionFromRaw maps the broker's session string to domain.Session.
func sessionFromRaw(s string) domain.Session {
	switch s {
	case "pre":
		return domain.SessionPreOpen
	case "open":
		return domain.SessionRegularOpen
	case "post":
		return domain.SessionAfterHours
	default:
		return domain.SessionClosed
	}
}

// ClockToDomain converts a RawClock into a domain.Clock, parsing its
// timestamp in the exchange timezone loc.
func ClockToDomain(raw RawClock, loc *time.Location) (domain.Clock, error) {
	ts, err := time.ParseInLocation(time.RFC3339, raw.Timestamp, loc)
	if err != nil {
		return domain.Clock{}, fmt.Errorf("parse clock timestamp: %w", err)
	}
	return domain.Clock{Session: sessionFromRaw(raw.Session), Now: ts}, nil
}
