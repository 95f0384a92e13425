// Package authgate authenticates incoming requests against a presented
// credential header, backed by persistent storage and a short-TTL cache so
// that the common path never round-trips to the backend.
//
// Credentials are never stored or logged in plaintext — only their hash
// ever leaves this package's boundary.
package authgate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/memorybank/contextgraph/internal/obs"
)

// CredentialHeader is the HTTP header carrying the presented credential.
const CredentialHeader = "X-MemoryServer-Credential"

// defaultCacheTTL is the upper bound the specification allows for cached
// auth lookups.
const defaultCacheTTL = 5 * time.Minute

// ErrMissingCredential is returned when the credential header is absent or
// empty.
var ErrMissingCredential = errors.New("authgate: missing credential")

// ErrInvalidCredential is returned when the credential is malformed, unknown,
// revoked, or expired.
var ErrInvalidCredential = errors.New("authgate: invalid credential")

// AuthContext is the verified identity and entitlements attached to a
// request after a successful [Gate.Authenticate] call.
type AuthContext struct {
	UserID    string
	ProjectID string
	Scopes    []string
	RateLimit int
}

// Record is the persistent-storage representation of one credential.
type Record struct {
	UserID    string
	ProjectID string
	Scopes    []string
	RateLimit int
	RevokedAt *time.Time
	ExpiresAt *time.Time
}

// Store is the persistent backing store for credential records, keyed by
// the hex-encoded SHA-256 hash of the credential. Implementations must
// never receive or persist the plaintext credential.
type Store interface {
	Lookup(ctx context.Context, credentialHash string) (Record, error)
	TouchLastSeen(ctx context.Context, credentialHash string, at time.Time) error
}

// ErrNotFound is returned by [Store.Lookup] when no record matches the hash.
var ErrNotFound = errors.New("authgate: credential not found")

// Gate authenticates requests by presented credential, caching verified
// results for up to a configured TTL.
type Gate struct {
	store   Store
	cache   *lru.LRU[string, AuthContext]
	logger  *slog.Logger
	now     func() time.Time
	metrics *obs.Metrics
}

// Option configures a [Gate].
type Option func(*Gate)

// WithLogger overrides the default [slog.Default] logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithMetrics overrides the default metrics instance ([obs.DefaultMetrics]).
func WithMetrics(m *obs.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New constructs a Gate backed by store, with a cache of cacheSize entries
// and the specification's 5-minute cache TTL. cacheTTL, if positive and at
// most 5 minutes, overrides the default.
func New(store Store, cacheSize int, cacheTTL time.Duration, opts ...Option) *Gate {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	if cacheTTL <= 0 || cacheTTL > defaultCacheTTL {
		cacheTTL = defaultCacheTTL
	}
	g := &Gate{
		store:   store,
		cache:   lru.NewLRU[string, AuthContext](cacheSize, nil, cacheTTL),
		logger:  slog.Default(),
		now:     time.Now,
		metrics: obs.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// hashCredential computes the collision-resistant hash used as the cache and
// storage key.
func hashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Authenticate extracts and verifies the credential, returning the resolved
// [AuthContext]. A successful lookup triggers an asynchronous, best-effort
// last-seen update: its failure is logged and swallowed, never surfaced to
// the caller.
func (g *Gate) Authenticate(ctx context.Context, credential string) (AuthContext, error) {
	if credential == "" {
		return AuthContext{}, ErrMissingCredential
	}

	hash := hashCredential(credential)

	if cached, ok := g.cache.Get(hash); ok {
		g.metrics.AuthCacheHits.Add(ctx, 1)
		g.touchAsync(hash)
		return cached, nil
	}
	g.metrics.AuthCacheMisses.Add(ctx, 1)

	record, err := g.store.Lookup(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		g.metrics.RecordAuthRejection(ctx, "not_found")
		return AuthContext{}, ErrInvalidCredential
	}
	if err != nil {
		return AuthContext{}, fmt.Errorf("authgate: lookup: %w", err)
	}

	now := g.now()
	if record.RevokedAt != nil && !record.RevokedAt.After(now) {
		g.metrics.RecordAuthRejection(ctx, "revoked")
		return AuthContext{}, ErrInvalidCredential
	}
	if record.ExpiresAt != nil && !record.ExpiresAt.After(now) {
		g.metrics.RecordAuthRejection(ctx, "expired")
		return AuthContext{}, ErrInvalidCredential
	}

	authCtx := AuthContext{
		UserID:    record.UserID,
		ProjectID: record.ProjectID,
		Scopes:    record.Scopes,
		RateLimit: record.RateLimit,
	}
	g.cache.Add(hash, authCtx)
	g.touchAsync(hash)

	return authCtx, nil
}

// touchAsync updates the credential's last-seen timestamp on a detached
// goroutine. Failures are logged and otherwise ignored — availability of the
// auth path never depends on this write succeeding.
func (g *Gate) touchAsync(hash string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.TouchLastSeen(ctx, hash, time.Now()); err != nil {
			g.logger.Warn("authgate: touch last-seen failed", "error", err)
		}
	}()
}
