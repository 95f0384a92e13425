package authgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memorybank/contextgraph/internal/resilience"
)

func TestFallbackStore_PrimaryHealthyNeverTouchesFallback(t *testing.T) {
	primary := NewMockStore()
	hash := hashCredential("tok")
	primary.Put(hash, Record{UserID: "u1", ProjectID: "p1"})

	fs := NewFallbackStore(primary, "primary", resilience.FallbackConfig{}, 16, time.Minute)

	rec, err := fs.Lookup(context.Background(), hash)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.UserID != "u1" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestFallbackStore_NotFoundNeverFallsBack(t *testing.T) {
	primary := NewMockStore()
	fs := NewFallbackStore(primary, "primary", resilience.FallbackConfig{}, 16, time.Minute)

	// Seed the fallback cache with a record under the same hash a revoked
	// credential would use, then confirm a primary ErrNotFound still wins —
	// a revoked/absent credential must never be resurrected from the cache.
	hash := hashCredential("tok-revoked")
	fs.lkg.Remember(hash, Record{UserID: "stale"})

	if _, err := fs.Lookup(context.Background(), hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound (primary's not-found must not be overridden by the cache)", err)
	}
}

func TestFallbackStore_DegradesToLastKnownGoodOnPrimaryFailure(t *testing.T) {
	primary := NewMockStore()
	hash := hashCredential("tok-good")
	record := Record{UserID: "u1", ProjectID: "p1", RateLimit: 42}
	primary.Put(hash, record)

	fs := NewFallbackStore(primary, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 100},
	}, 16, time.Minute)

	// A successful lookup through the primary populates the fallback cache.
	if _, err := fs.Lookup(context.Background(), hash); err != nil {
		t.Fatalf("initial Lookup: %v", err)
	}

	// The primary store goes down; the fallback must still answer from the
	// last validated record instead of failing the request.
	primary.LookupErr = errors.New("db unavailable")

	rec, err := fs.Lookup(context.Background(), hash)
	if err != nil {
		t.Fatalf("Lookup during outage: %v", err)
	}
	if rec.UserID != "u1" || rec.RateLimit != 42 {
		t.Errorf("unexpected fallback record: %+v", rec)
	}
}

func TestFallbackStore_UnknownCredentialDuringOutageFails(t *testing.T) {
	primary := NewMockStore()
	primary.LookupErr = errors.New("db unavailable")

	fs := NewFallbackStore(primary, "primary", resilience.FallbackConfig{}, 16, time.Minute)

	if _, err := fs.Lookup(context.Background(), "never-seen"); err == nil {
		t.Error("expected an error for a credential absent from both the primary and the fallback cache")
	}
}

func TestLastKnownGoodStore_TouchLastSeenIsNoop(t *testing.T) {
	s := NewLastKnownGoodStore(16, time.Minute)
	if err := s.TouchLastSeen(context.Background(), "x", time.Now()); err != nil {
		t.Errorf("TouchLastSeen: %v, want nil", err)
	}
}
