package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/memorybank/contextgraph/internal/resilience"
)

// CircuitBreakerStore wraps a [Store] with a circuit breaker so that a
// stalled or down credential backend fails fast instead of piling up
// blocked auth requests behind it.
type CircuitBreakerStore struct {
	inner   Store
	breaker *resilience.CircuitBreaker
}

// NewCircuitBreakerStore wraps inner with a circuit breaker configured per
// cfg. A zero-value cfg uses [resilience.NewCircuitBreaker]'s defaults.
func NewCircuitBreakerStore(inner Store, cfg resilience.CircuitBreakerConfig) *CircuitBreakerStore {
	if cfg.Name == "" {
		cfg.Name = "authgate-store"
	}
	return &CircuitBreakerStore{inner: inner, breaker: resilience.NewCircuitBreaker(cfg)}
}

// Lookup reports ErrNotFound to the caller without counting it against the
// breaker — an unknown credential is a normal business outcome, not a
// backend failure.
func (s *CircuitBreakerStore) Lookup(ctx context.Context, credentialHash string) (Record, error) {
	var rec Record
	var notFound bool
	err := s.breaker.Execute(func() error {
		var innerErr error
		rec, innerErr = s.inner.Lookup(ctx, credentialHash)
		if errors.Is(innerErr, ErrNotFound) {
			notFound = true
			return nil
		}
		return innerErr
	})
	if notFound {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *CircuitBreakerStore) TouchLastSeen(ctx context.Context, credentialHash string, at time.Time) error {
	return s.breaker.Execute(func() error {
		return s.inner.TouchLastSeen(ctx, credentialHash, at)
	})
}

var _ Store = (*CircuitBreakerStore)(nil)
