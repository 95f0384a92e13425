package graph

import (
	"context"
	"time"

	"github.com/memorybank/contextgraph/internal/obs"
)

// InstrumentedStore wraps a [GraphStore] and records OpenTelemetry metrics
// and a trace span for every operation. backend is reported as an attribute
// on each metric so a file-backed and a relational store can share one
// meter and still be told apart on a dashboard.
type InstrumentedStore struct {
	inner   GraphStore
	metrics *obs.Metrics
	backend string
}

// Instrument wraps inner with metrics recorded against m, tagged with
// backend (typically "file" or "relational").
func Instrument(inner GraphStore, m *obs.Metrics, backend string) *InstrumentedStore {
	if m == nil {
		m = obs.DefaultMetrics()
	}
	return &InstrumentedStore{inner: inner, metrics: m, backend: backend}
}

func (s *InstrumentedStore) record(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.RecordGraphOp(ctx, op, s.backend, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordGraphOpError(ctx, op, errorKind(err))
	}
}

// errorKind buckets an error into a small, low-cardinality attribute value
// suitable for a metric label.
func errorKind(err error) string {
	se, ok := err.(*StoreError)
	if !ok {
		return "internal"
	}
	return string(se.Kind)
}

func (s *InstrumentedStore) Initialize(ctx context.Context) error {
	ctx, span := obs.StartSpan(ctx, "graph.Initialize")
	defer span.End()
	start := time.Now()
	err := s.inner.Initialize(ctx)
	s.record(ctx, "initialize", start, err)
	return err
}

func (s *InstrumentedStore) UpsertEntity(ctx context.Context, name, entityType string, attrs map[string]any) (Entity, error) {
	ctx, span := obs.StartSpan(ctx, "graph.UpsertEntity")
	defer span.End()
	start := time.Now()
	e, err := s.inner.UpsertEntity(ctx, name, entityType, attrs)
	s.record(ctx, "upsert_entity", start, err)
	return e, err
}

func (s *InstrumentedStore) AddObservation(ctx context.Context, entityRef, text string, source ObservationSource, timestamp time.Time) (Observation, error) {
	ctx, span := obs.StartSpan(ctx, "graph.AddObservation")
	defer span.End()
	start := time.Now()
	o, err := s.inner.AddObservation(ctx, entityRef, text, source, timestamp)
	s.record(ctx, "add_observation", start, err)
	return o, err
}

func (s *InstrumentedStore) LinkEntities(ctx context.Context, from, relationType, to string) (Relation, error) {
	ctx, span := obs.StartSpan(ctx, "graph.LinkEntities")
	defer span.End()
	start := time.Now()
	r, err := s.inner.LinkEntities(ctx, from, relationType, to)
	s.record(ctx, "link_entities", start, err)
	return r, err
}

func (s *InstrumentedStore) UnlinkEntities(ctx context.Context, from, relationType, to string) error {
	ctx, span := obs.StartSpan(ctx, "graph.UnlinkEntities")
	defer span.End()
	start := time.Now()
	err := s.inner.UnlinkEntities(ctx, from, relationType, to)
	s.record(ctx, "unlink_entities", start, err)
	return err
}

func (s *InstrumentedStore) DeleteEntity(ctx context.Context, nameOrID string) error {
	ctx, span := obs.StartSpan(ctx, "graph.DeleteEntity")
	defer span.End()
	start := time.Now()
	err := s.inner.DeleteEntity(ctx, nameOrID)
	s.record(ctx, "delete_entity", start, err)
	return err
}

func (s *InstrumentedStore) DeleteObservation(ctx context.Context, id string) error {
	ctx, span := obs.StartSpan(ctx, "graph.DeleteObservation")
	defer span.End()
	start := time.Now()
	err := s.inner.DeleteObservation(ctx, id)
	s.record(ctx, "delete_observation", start, err)
	return err
}

func (s *InstrumentedStore) Search(ctx context.Context, query string, opts SearchOptions) (SearchResults, error) {
	ctx, span := obs.StartSpan(ctx, "graph.Search")
	defer span.End()
	start := time.Now()
	r, err := s.inner.Search(ctx, query, opts)
	s.record(ctx, "search", start, err)
	return r, err
}

func (s *InstrumentedStore) Expand(ctx context.Context, seedID string, opts ExpandOptions) (Neighborhood, error) {
	ctx, span := obs.StartSpan(ctx, "graph.Expand")
	defer span.End()
	start := time.Now()
	n, err := s.inner.Expand(ctx, seedID, opts)
	s.record(ctx, "expand", start, err)
	return n, err
}

func (s *InstrumentedStore) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, span := obs.StartSpan(ctx, "graph.Snapshot")
	defer span.End()
	start := time.Now()
	snap, err := s.inner.Snapshot(ctx)
	s.record(ctx, "snapshot", start, err)
	return snap, err
}

func (s *InstrumentedStore) Rebuild(ctx context.Context) (Snapshot, error) {
	ctx, span := obs.StartSpan(ctx, "graph.Rebuild")
	defer span.End()
	start := time.Now()
	snap, err := s.inner.Rebuild(ctx)
	s.record(ctx, "rebuild", start, err)
	return snap, err
}

func (s *InstrumentedStore) Compact(ctx context.Context) (beforeBytes, afterBytes int64, err error) {
	ctx, span := obs.StartSpan(ctx, "graph.Compact")
	defer span.End()
	start := time.Now()
	beforeBytes, afterBytes, err = s.inner.Compact(ctx)
	s.metrics.RecordGraphOp(ctx, "compact", s.backend, time.Since(start).Seconds())
	s.metrics.CompactionDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil {
		s.metrics.CompactionBytesReclaimed.Record(ctx, beforeBytes-afterBytes)
	} else {
		s.metrics.RecordGraphOpError(ctx, "compact", errorKind(err))
	}
	return beforeBytes, afterBytes, err
}

var _ GraphStore = (*InstrumentedStore)(nil)
