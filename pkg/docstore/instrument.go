package docstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/memorybank/contextgraph/internal/obs"
)

// InstrumentedStore wraps a [Store] and records document store latency
// against the shared meter, tagged per operation.
type InstrumentedStore struct {
	inner   Store
	metrics *obs.Metrics
}

// Instrument wraps inner with metrics recorded against m. A nil m uses
// [obs.DefaultMetrics].
func Instrument(inner Store, m *obs.Metrics) *InstrumentedStore {
	if m == nil {
		m = obs.DefaultMetrics()
	}
	return &InstrumentedStore{inner: inner, metrics: m}
}

func (s *InstrumentedStore) record(ctx context.Context, op string, start time.Time) {
	s.metrics.DocStoreDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
}

func (s *InstrumentedStore) Read(ctx context.Context, path string) (string, error) {
	start := time.Now()
	content, err := s.inner.Read(ctx, path)
	s.record(ctx, "read", start)
	return content, err
}

func (s *InstrumentedStore) Write(ctx context.Context, path, content string) error {
	start := time.Now()
	err := s.inner.Write(ctx, path, content)
	s.record(ctx, "write", start)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	paths, err := s.inner.List(ctx, prefix)
	s.record(ctx, "list", start)
	return paths, err
}

func (s *InstrumentedStore) IsDir(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	isDir, err := s.inner.IsDir(ctx, path)
	s.record(ctx, "is_dir", start)
	return isDir, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, path)
	s.record(ctx, "delete", start)
	return err
}

var _ Store = (*InstrumentedStore)(nil)
