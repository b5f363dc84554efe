// Package stats holds the tiny shared error-counter used by the ingestion
// and analytics engines to report per-kind failure counts on the operator
// status endpoint (spec.md §7: "structured error counts per kind").
package stats

import (
	"errors"
	"sync"

	"github.com/aristath/optionpulse/internal/domain"
)

// ErrorCounters is a concurrency-safe tally of errors observed, keyed by a
// short kind label.
type ErrorCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewErrorCounters creates an empty counter set.
func NewErrorCounters() *ErrorCounters {
	return &ErrorCounters{counts: make(map[string]int64)}
}

// Inc increments the named kind by one.
func (c *ErrorCounters) Inc(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[kind]++
}

// Observe classifies err against the domain error taxonomy and increments
// the matching kind. Unrecognized errors are counted under "other".
func (c *ErrorCounters) Observe(err error) {
	if err == nil {
		return
	}
	c.Inc(kindOf(err))
}

// Snapshot returns a copy of the current counts, safe for the caller to
// range over without holding the lock.
func (c *ErrorCounters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func kindOf(err error) string {
	var (
		validationErr     *domain.ValidationError
		noSolutionErr     *domain.NoSolution
		brokerTransient   *domain.BrokerTransient
		brokerPermanent   *domain.BrokerPermanent
		storeTransient    *domain.StoreTransient
		storePermanent    *domain.StorePermanent
		authErr           *domain.AuthError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &noSolutionErr):
		return "no_solution"
	case errors.As(err, &brokerTransient):
		return "broker_transient"
	case errors.As(err, &brokerPermanent):
		return "broker_permanent"
	case errors.As(err, &storeTransient):
		return "store_transient"
	case errors.As(err, &storePermanent):
		return "store_permanent"
	case errors.As(err, &authErr):
		return "auth"
	default:
		return "other"
	}
}
