// Package ratelimit implements a per-identity fixed-window request
// counter backed by Redis: each window is a separate key, so counts do not
// slide across a window boundary. Counter-store unavailability degrades the
// limiter open: requests are allowed and a warning is logged, since
// availability is preferred over strict enforcement here.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memorybank/contextgraph/internal/obs"
)

// Result is the outcome of one [Limiter.Check] call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// Limiter enforces a fixed-window request count per identity.
type Limiter struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *obs.Metrics
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithLogger overrides the default [slog.Default] logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics overrides the default metrics instance ([obs.DefaultMetrics]).
func WithMetrics(m *obs.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New constructs a Limiter over client.
func New(client *redis.Client, opts ...Option) *Limiter {
	l := &Limiter{client: client, logger: slog.Default(), metrics: obs.DefaultMetrics()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check increments the counter for id's current window and reports whether
// the request is allowed. The first increment of a window sets its expiry
// to windowSeconds. On counter-store unavailability the limiter degrades
// open: it returns Allowed=true and logs a warning rather than surfacing
// the error.
func (l *Limiter) Check(ctx context.Context, id string, max int, windowSeconds int) Result {
	key := windowKey(id, windowSeconds)
	window := time.Duration(windowSeconds) * time.Second

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("ratelimit: counter store unavailable, degrading open", "identity", id, "error", err)
		l.metrics.RateLimitDegradedOpen.Add(ctx, 1)
		return Result{Allowed: true, Remaining: max, ResetIn: window}
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			l.logger.Warn("ratelimit: failed to set window expiry", "identity", id, "error", err)
		}
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   int(count) <= max,
		Remaining: remaining,
		ResetIn:   ttl,
	}
}

// windowKey derives the Redis key for id's current fixed window. Using
// integer-divided Unix time as the window bucket means every request within
// the same windowSeconds-sized interval shares one counter, and a new
// window starts a fresh key automatically.
func windowKey(id string, windowSeconds int) string {
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	bucket := time.Now().Unix() / int64(windowSeconds)
	return fmt.Sprintf("ratelimit:%s:%d", id, bucket)
}

// ErrBothLimitsRequired is returned by [CheckUserAndIP] when either limit is
// non-positive.
var ErrBothLimitsRequired = errors.New("ratelimit: both user and IP limits must be positive")

// CheckUserAndIP enforces per-user and per-IP limits in parallel; either
// may reject the request. The stricter (lower-remaining) result determines
// the reported Remaining and ResetIn when both are allowed.
func (l *Limiter) CheckUserAndIP(ctx context.Context, userID string, userMax int, ip string, ipMax int, windowSeconds int) (Result, error) {
	if userMax <= 0 || ipMax <= 0 {
		return Result{}, ErrBothLimitsRequired
	}

	userResult := l.Check(ctx, "user:"+userID, userMax, windowSeconds)
	ipResult := l.Check(ctx, "ip:"+ip, ipMax, windowSeconds)

	if !userResult.Allowed {
		l.metrics.RecordRateLimitRejection(ctx, "user")
		return userResult, nil
	}
	if !ipResult.Allowed {
		l.metrics.RecordRateLimitRejection(ctx, "ip")
		return ipResult, nil
	}
	if userResult.Remaining <= ipResult.Remaining {
		return userResult, nil
	}
	return ipResult, nil
}
