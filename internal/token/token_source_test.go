package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optionpulse/internal/domain"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) (*Source, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return New("id", "secret", "refresh", srv.URL, zerolog.Nop()), &calls
}

func TestGetToken_RefreshesOnColdStart(t *testing.T) {
	src, calls := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: 3600})
	})

	tok, err := src.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestGetToken_ReusesUnexpiredToken(t *testing.T) {
	src, calls := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: 3600})
	})

	_, err := src.GetToken(context.Background())
	require.NoError(t, err)
	_, err = src.GetToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestGetToken_RefreshesNearExpiry(t *testing.T) {
	src, calls := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-fresh", ExpiresIn: 30})
	})

	tok, err := src.GetToken(context.Background())
	require.NoError(t, err)
	assert.True(t, tok.expiringWithin(safetyMargin))

	tok2, err := src.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", tok2.Value)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGetToken_FailsAfterRetryBudget(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	start := time.Now()
	_, err := src.GetToken(context.Background())
	require.Error(t, err)
	assert.IsType(t, &domain.AuthError{}, err)
	assert.GreaterOrEqual(t, time.Since(start), baseDelay+time.Duration(float64(baseDelay)*backoff))
}

func TestGetToken_SingleFlightsConcurrentRefresh(t *testing.T) {
	src, calls := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-concurrent", ExpiresIn: 3600})
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := src.GetToken(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}
