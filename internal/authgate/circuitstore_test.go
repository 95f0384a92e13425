package authgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memorybank/contextgraph/internal/resilience"
)

func TestCircuitBreakerStore_NotFoundDoesNotTripBreaker(t *testing.T) {
	store := NewMockStore()
	cb := NewCircuitBreakerStore(store, resilience.CircuitBreakerConfig{MaxFailures: 2})

	for i := 0; i < 5; i++ {
		if _, err := cb.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Lookup: got %v, want ErrNotFound", err)
		}
	}

	// A real record must still be reachable — the breaker should never have
	// tripped on repeated not-found lookups.
	hash := hashCredential("tok")
	store.Put(hash, Record{UserID: "u1"})
	if _, err := cb.Lookup(context.Background(), hash); err != nil {
		t.Errorf("Lookup after not-found streak: %v, want nil", err)
	}
}

func TestCircuitBreakerStore_OpensOnRepeatedFailure(t *testing.T) {
	store := NewMockStore()
	store.LookupErr = errors.New("db down")
	cb := NewCircuitBreakerStore(store, resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		if _, err := cb.Lookup(context.Background(), "x"); err == nil {
			t.Fatalf("Lookup %d: expected error", i)
		}
	}

	_, err := cb.Lookup(context.Background(), "x")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen", err)
	}
}
