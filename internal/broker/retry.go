package broker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/optionpulse/internal/domain"
)

// retryPolicy mirrors spec.md §4.2: up to Attempts tries with delays
// d, d·b, d·b², ... Only network errors and 5xx/429 retry; other 4xx fails
// fast. A 429 honours any retry-after hint before falling back to backoff.
type retryPolicy struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
}

// httpStatusError carries the response status through to the retry loop so
// it can classify transient vs. permanent without re-parsing the response.
type httpStatusError struct {
	StatusCode int
	RetryAfter time.Duration // 0 if not advertised
	Err        error
}

func (e *httpStatusError) Error() string { return e.Err.Error() }
func (e *httpStatusError) Unwrap() error { return e.Err }

func retryAfterFromHeader(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		return time.Until(when)
	}
	return 0
}

// withRetry runs op up to policy.Attempts times, retrying only on network
// errors or a *httpStatusError carrying 429 or 5xx. op is the single unit
// of work for one call to the broker (e.g. a Quote request).
func withRetry(ctx context.Context, log zerolog.Logger, op string, policy retryPolicy, fn func(ctx context.Context) error) error {
	delay := policy.Delay
	var lastErr error

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			if !isRetryableStatus(statusErr.StatusCode) {
				return &domain.BrokerPermanent{Op: op, StatusCode: statusErr.StatusCode, Err: statusErr.Err}
			}
		}

		if attempt == policy.Attempts {
			break
		}

		wait := delay
		if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
			wait = statusErr.RetryAfter
		}

		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("broker call failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &domain.BrokerTransient{Op: op, Err: ctx.Err()}
		}
		delay = time.Duration(float64(delay) * policy.Backoff)
	}

	var statusErr *httpStatusError
	statusCode := 0
	if errors.As(lastErr, &statusErr) {
		statusCode = statusErr.StatusCode
	}
	return &domain.BrokerTransient{Op: op, StatusCode: statusCode, Err: lastErr}
}

func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code < 600
}
