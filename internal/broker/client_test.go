package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optionpulse/internal/domain"
)

type stubTokens struct {
	value       string
	forceCalled int32
}

func (s *stubTokens) GetToken(ctx context.Context) (TokenValue, error) {
	return TokenValue{Value: s.value}, nil
}

func (s *stubTokens) ForceRefresh(ctx context.Context) (TokenValue, error) {
	atomic.AddInt32(&s.forceCalled, 1)
	s.value = "refreshed"
	return TokenValue{Value: s.value}, nil
}

func newTestClient(t *testing.T, tokens TokenProvider, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     10 * time.Millisecond,
		RetryBackoff:   2,
	}, tokens, zerolog.Nop())
}

func TestQuote_Success(t *testing.T) {
	c := newTestClient(t, &stubTokens{value: "ok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"quotes":[{"symbol":"SPY","last":450.0}]}`))
	})

	quotes, err := c.Quote(context.Background(), []string{"SPY"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "SPY", quotes[0].Symbol)
	assert.Equal(t, 450.0, *quotes[0].Last)
}

func TestQuote_RetriesOn503ThenSucceeds(t *testing.T) {
	var attempts int32
	c := newTestClient(t, &stubTokens{value: "ok"}, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"quotes":[{"symbol":"SPY","last":450.0}]}`))
	})

	quotes, err := c.Quote(context.Background(), []string{"SPY"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQuote_FailsFastOn404(t *testing.T) {
	c := newTestClient(t, &stubTokens{value: "ok"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Quote(context.Background(), []string{"BOGUS"})
	require.Error(t, err)
	var perm *domain.BrokerPermanent
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, http.StatusNotFound, perm.StatusCode)
}

func TestQuote_ExhaustsRetryBudgetOn500(t *testing.T) {
	var attempts int32
	c := newTestClient(t, &stubTokens{value: "ok"}, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Quote(context.Background(), []string{"SPY"})
	require.Error(t, err)
	var trans *domain.BrokerTransient
	require.ErrorAs(t, err, &trans)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDoJSON_401TriggersForcedRefreshAndOneRetry(t *testing.T) {
	var attempts int32
	tokens := &stubTokens{value: "stale"}
	c := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			assert.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer refreshed", r.Header.Get("Authorization"))
		w.Write([]byte(`{"quotes":[{"symbol":"SPY","last":451.0}]}`))
	})

	quotes, err := c.Quote(context.Background(), []string{"SPY"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokens.forceCalled))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQuote_HonoursRetryAfterHeader(t *testing.T) {
	var attempts int32
	var firstAttempt time.Time
	c := newTestClient(t, &stubTokens{value: "ok"}, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			firstAttempt = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.True(t, time.Since(firstAttempt) >= time.Second)
		w.Write([]byte(`{"quotes":[{"symbol":"SPY","last":450.0}]}`))
	})

	_, err := c.Quote(context.Background(), []string{"SPY"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}
