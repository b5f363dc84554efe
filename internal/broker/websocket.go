package broker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// DepthWatcher is a diagnostics-only subscription to the broker's MarketDepth
// feed (spec.md §6 lists MarketDepth among consumed endpoints, though it is
// not part of C2's core operation set). Grounded on the teacher's
// internal/clients/tradernet/websocket_client.go reconnect-with-backoff
// loop, generalized from market-status events to depth ticks.
type DepthWatcher struct {
	url string
	log zerolog.Logger
}

const (
	depthBaseReconnectDelay = 5 * time.Second
	depthMaxReconnectDelay  = 2 * time.Minute
)

// NewDepthWatcher creates a watcher pointed at the broker's depth-stream URL.
func NewDepthWatcher(url string, log zerolog.Logger) *DepthWatcher {
	return &DepthWatcher{url: url, log: log.With().Str("component", "depth_watcher").Logger()}
}

// Watch subscribes to symbol's market depth and pushes ticks to out until
// ctx is cancelled, reconnecting with exponential backoff on disconnect.
// Intended for operator diagnostics; not on the ingestion critical path.
func (w *DepthWatcher) Watch(ctx context.Context, symbol string, out chan<- MarketDepthTick) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := w.connectAndRead(ctx, symbol, out); err != nil {
			attempt++
			delay := depthBackoff(attempt)
			w.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("depth watcher disconnected, reconnecting")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		attempt = 0
	}
}

func depthBackoff(attempt int) time.Duration {
	d := float64(depthBaseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(depthMaxReconnectDelay) {
		d = float64(depthMaxReconnectDelay)
	}
	return time.Duration(d)
}

func (w *DepthWatcher) connectAndRead(ctx context.Context, symbol string, out chan<- MarketDepthTick) error {
	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	sub := map[string]string{"action": "subscribe", "symbol": symbol}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		var raw struct {
			Symbol    string       `json:"symbol"`
			Bids      []DepthLevel `json:"bids"`
			Asks      []DepthLevel `json:"asks"`
			Timestamp string       `json:"timestamp"`
		}
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		tick := MarketDepthTick{Symbol: raw.Symbol, Bids: raw.Bids, Asks: raw.Asks, Timestamp: ts}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
