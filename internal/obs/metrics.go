// Package obs provides application-wide observability primitives: OpenTelemetry
// metrics, distributed tracing, structured logging, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all server metrics.
const meterName = "github.com/memorybank/contextgraph"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per component ---

	// GraphOpDuration tracks GraphStore operation latency. Use with
	// attribute.String("op", ...), attribute.String("backend", ...).
	GraphOpDuration metric.Float64Histogram

	// RetrievalDuration tracks RetrievalEngine.Retrieve latency.
	RetrievalDuration metric.Float64Histogram

	// DocStoreDuration tracks docstore read/write latency. Use with
	// attribute.String("op", ...).
	DocStoreDuration metric.Float64Histogram

	// CompactionDuration tracks GraphStore.Compact latency.
	CompactionDuration metric.Float64Histogram

	// CompactionBytesReclaimed tracks bytes reclaimed per Compact() call.
	CompactionBytesReclaimed metric.Int64Histogram

	// --- Counters ---

	// GraphOpErrors counts GraphStore operation failures. Use with
	// attribute.String("op", ...), attribute.String("kind", ...).
	GraphOpErrors metric.Int64Counter

	// AuthCacheHits counts AuthGate credential cache hits.
	AuthCacheHits metric.Int64Counter

	// AuthCacheMisses counts AuthGate credential cache misses.
	AuthCacheMisses metric.Int64Counter

	// AuthRejections counts AuthGate rejections. Use with
	// attribute.String("reason", ...).
	AuthRejections metric.Int64Counter

	// RateLimitRejections counts requests rejected by the rate limiter.
	// Use with attribute.String("scope", ...) ("user" or "ip").
	RateLimitRejections metric.Int64Counter

	// RateLimitDegradedOpen counts requests allowed because the counter
	// store was unavailable.
	RateLimitDegradedOpen metric.Int64Counter

	// SessionsCreated counts newly created transport sessions.
	SessionsCreated metric.Int64Counter

	// SessionsExpired counts sessions removed for idling past their TTL.
	SessionsExpired metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of currently open transport sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// storage and retrieval operations.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GraphOpDuration, err = m.Float64Histogram("memoryserver.graph.op.duration",
		metric.WithDescription("Latency of GraphStore operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("memoryserver.retrieval.duration",
		metric.WithDescription("Latency of RetrievalEngine.Retrieve calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DocStoreDuration, err = m.Float64Histogram("memoryserver.docstore.duration",
		metric.WithDescription("Latency of document store reads and writes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompactionDuration, err = m.Float64Histogram("memoryserver.compaction.duration",
		metric.WithDescription("Latency of event log/table compaction."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.CompactionBytesReclaimed, err = m.Int64Histogram("memoryserver.compaction.bytes_reclaimed",
		metric.WithDescription("Bytes reclaimed per log/table compaction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.GraphOpErrors, err = m.Int64Counter("memoryserver.graph.op.errors",
		metric.WithDescription("Total GraphStore operation failures by op and error kind."),
	); err != nil {
		return nil, err
	}
	if met.AuthCacheHits, err = m.Int64Counter("memoryserver.auth.cache.hits",
		metric.WithDescription("Total AuthGate credential cache hits."),
	); err != nil {
		return nil, err
	}
	if met.AuthCacheMisses, err = m.Int64Counter("memoryserver.auth.cache.misses",
		metric.WithDescription("Total AuthGate credential cache misses."),
	); err != nil {
		return nil, err
	}
	if met.AuthRejections, err = m.Int64Counter("memoryserver.auth.rejections",
		metric.WithDescription("Total AuthGate rejections by reason."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitRejections, err = m.Int64Counter("memoryserver.ratelimit.rejections",
		metric.WithDescription("Total requests rejected by the rate limiter, by scope."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitDegradedOpen, err = m.Int64Counter("memoryserver.ratelimit.degraded_open",
		metric.WithDescription("Total requests allowed because the counter store was unavailable."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCreated, err = m.Int64Counter("memoryserver.sessions.created",
		metric.WithDescription("Total transport sessions created."),
	); err != nil {
		return nil, err
	}
	if met.SessionsExpired, err = m.Int64Counter("memoryserver.sessions.expired",
		metric.WithDescription("Total transport sessions removed for idling past their TTL."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("memoryserver.sessions.active",
		metric.WithDescription("Number of currently open transport sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("memoryserver.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("obs: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGraphOp is a convenience method that records a GraphStore operation's
// duration with the standard attribute set.
func (m *Metrics) RecordGraphOp(ctx context.Context, op, backend string, seconds float64) {
	m.GraphOpDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("backend", backend),
		),
	)
}

// RecordGraphOpError is a convenience method that records a GraphStore
// operation failure.
func (m *Metrics) RecordGraphOpError(ctx context.Context, op, kind string) {
	m.GraphOpErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("kind", kind),
		),
	)
}

// RecordAuthRejection is a convenience method that records an AuthGate
// rejection with its reason.
func (m *Metrics) RecordAuthRejection(ctx context.Context, reason string) {
	m.AuthRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRateLimitRejection is a convenience method that records a rate
// limiter rejection for the given scope ("user" or "ip").
func (m *Metrics) RecordRateLimitRejection(ctx context.Context, scope string) {
	m.RateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}
