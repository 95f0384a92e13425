package authgate

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/memorybank/contextgraph/internal/resilience"
)

// LastKnownGoodStore is a fallback [Store] that serves the most recently
// validated [Record] for a credential hash. It never originates a record
// itself — [FallbackStore] feeds it via Remember on every successful
// primary lookup — so it only ever degrades auth to "whatever was true the
// last time the real store answered," never to something it invented.
// TouchLastSeen is a no-op: best-effort last-seen tracking is not worth
// retrying against a cache while the primary store is down.
type LastKnownGoodStore struct {
	cache *lru.LRU[string, Record]
}

// NewLastKnownGoodStore returns a store retaining up to size records, each
// evicted ttl after it was last remembered.
func NewLastKnownGoodStore(size int, ttl time.Duration) *LastKnownGoodStore {
	if size <= 0 {
		size = 1024
	}
	return &LastKnownGoodStore{cache: lru.NewLRU[string, Record](size, nil, ttl)}
}

// Remember records a successful lookup for later fallback use.
func (s *LastKnownGoodStore) Remember(credentialHash string, record Record) {
	s.cache.Add(credentialHash, record)
}

// Lookup implements [Store].
func (s *LastKnownGoodStore) Lookup(_ context.Context, credentialHash string) (Record, error) {
	if rec, ok := s.cache.Get(credentialHash); ok {
		return rec, nil
	}
	return Record{}, ErrNotFound
}

// TouchLastSeen implements [Store].
func (s *LastKnownGoodStore) TouchLastSeen(context.Context, string, time.Time) error {
	return nil
}

var _ Store = (*LastKnownGoodStore)(nil)

// FallbackStore chains a primary credential [Store] with a
// [LastKnownGoodStore] fallback via [resilience.FallbackGroup] — the same
// provider-chain vocabulary the rest of this codebase's multi-backend
// collaborators use. Every successful primary lookup is remembered, so an
// outage of the primary store degrades to serving the last validated
// record for a credential rather than rejecting every request outright.
//
// A credential the primary store reports as absent (ErrNotFound) is never
// retried against the fallback, and any record remembered for it is
// dropped: that is a normal business outcome, not a backend failure,
// exactly as [CircuitBreakerStore] already treats it. Revoked or expired
// credentials come back from the primary as records and are rejected by
// [Gate].
type FallbackStore struct {
	group *resilience.FallbackGroup[Store]
	lkg   *LastKnownGoodStore
}

// NewFallbackStore wraps primary with a last-known-good fallback of size
// cacheSize entries, each valid for cacheTTL past its last successful
// primary lookup.
func NewFallbackStore(primary Store, primaryName string, cfg resilience.FallbackConfig, cacheSize int, cacheTTL time.Duration) *FallbackStore {
	lkg := NewLastKnownGoodStore(cacheSize, cacheTTL)
	group := resilience.NewFallbackGroup[Store](primary, primaryName, cfg)
	group.AddFallback("last-known-good", lkg)
	return &FallbackStore{group: group, lkg: lkg}
}

// Lookup implements [Store].
func (f *FallbackStore) Lookup(ctx context.Context, credentialHash string) (Record, error) {
	var notFound, fromFallback bool
	rec, err := resilience.ExecuteWithResult(f.group, func(s Store) (Record, error) {
		fromFallback = s == Store(f.lkg)
		r, innerErr := s.Lookup(ctx, credentialHash)
		if errors.Is(innerErr, ErrNotFound) {
			notFound = true
			return Record{}, nil
		}
		return r, innerErr
	})
	if notFound {
		if !fromFallback {
			f.lkg.cache.Remove(credentialHash)
		}
		return Record{}, ErrNotFound
	}
	if err == nil && !fromFallback {
		f.lkg.Remember(credentialHash, rec)
	}
	return rec, err
}

// TouchLastSeen implements [Store].
func (f *FallbackStore) TouchLastSeen(ctx context.Context, credentialHash string, at time.Time) error {
	return f.group.Execute(func(s Store) error {
		return s.TouchLastSeen(ctx, credentialHash, at)
	})
}

var _ Store = (*FallbackStore)(nil)
