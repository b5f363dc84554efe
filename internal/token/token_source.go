// Package token implements C1 TokenSource: it holds broker credentials and
// serves a valid, unexpired bearer token on demand, refreshing it ahead of
// expiry and single-flighting concurrent refreshes.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/optionpulse/internal/domain"
)

// Token is a bearer access token with its expiry instant.
type Token struct {
	Value  string
	Expiry time.Time
}

func (t Token) expiringWithin(d time.Duration) bool {
	return time.Now().Add(d).After(t.Expiry)
}

const (
	safetyMargin = 60 * time.Second
	maxRetries   = 3
	baseDelay    = 500 * time.Millisecond
	backoff      = 2.0
)

// Source exchanges a refresh token for short-lived access tokens and
// caches the current one. Safe for concurrent use; GetToken may be called
// from multiple producers, and the refresh itself is single-flighted.
type Source struct {
	clientID     string
	clientSecret string
	refreshToken string
	tokenURL     string
	httpClient   *http.Client
	log          zerolog.Logger

	mu      sync.RWMutex
	current *Token

	sf singleflight.Group
}

// New creates a TokenSource. tokenURL is the broker's OAuth token endpoint.
func New(clientID, clientSecret, refreshToken, tokenURL string, log zerolog.Logger) *Source {
	return &Source{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		log:          log.With().Str("component", "token_source").Logger(),
	}
}

// GetToken returns a currently valid access token, refreshing it first if
// it is missing or within the safety margin of expiry.
func (s *Source) GetToken(ctx context.Context) (Token, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if cur != nil && !cur.expiringWithin(safetyMargin) {
		return *cur, nil
	}

	v, err, _ := s.sf.Do("refresh", func() (interface{}, error) {
		// Re-check under the singleflight key: another caller may have
		// refreshed while we were waiting for the lock above.
		s.mu.RLock()
		cur := s.current
		s.mu.RUnlock()
		if cur != nil && !cur.expiringWithin(safetyMargin) {
			return *cur, nil
		}
		return s.refreshWithRetry(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// ForceRefresh bypasses the cached-token check entirely — used when a 401
// response indicates the cached token is no longer accepted, even though
// it looked unexpired.
func (s *Source) ForceRefresh(ctx context.Context) (Token, error) {
	v, err, _ := s.sf.Do("refresh", func() (interface{}, error) {
		return s.refreshWithRetry(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

func (s *Source) refreshWithRetry(ctx context.Context) (Token, error) {
	delay := baseDelay
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		tok, err := s.refresh(ctx)
		if err == nil {
			s.mu.Lock()
			s.current = &tok
			s.mu.Unlock()
			s.log.Info().Time("expiry", tok.Expiry).Msg("refreshed access token")
			return tok, nil
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("token refresh failed, retrying")
		if attempt < maxRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Token{}, &domain.AuthError{Op: "refresh", Err: ctx.Err()}
			}
			delay = time.Duration(float64(delay) * backoff)
		}
	}
	return Token{}, &domain.AuthError{Op: "refresh", Err: lastErr}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (s *Source) refresh(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.refreshToken},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("refresh failed: status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("parse refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("refresh response missing access_token")
	}

	return Token{
		Value:  tr.AccessToken,
		Expiry: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
