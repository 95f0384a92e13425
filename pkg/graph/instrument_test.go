package graph_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/memorybank/contextgraph/internal/obs"
	"github.com/memorybank/contextgraph/pkg/graph"
	"github.com/memorybank/contextgraph/pkg/graph/mock"
)

func newTestMetrics(t *testing.T) (*obs.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := obs.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestInstrumentedStore_RecordsSuccessAndError(t *testing.T) {
	m, reader := newTestMetrics(t)
	inner := &mock.GraphStore{
		UpsertEntityResult: graph.Entity{ID: "e1", Name: "alice"},
	}
	store := graph.Instrument(inner, m, "file")

	ctx := context.Background()
	if _, err := store.UpsertEntity(ctx, "alice", "person", nil); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	inner.SearchErr = graph.NewStoreError("Search", graph.KindInvalidInput, nil)
	if _, err := store.Search(ctx, "q", graph.SearchOptions{}); err == nil {
		t.Fatal("expected Search error")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	dur := findMetric(rm, "memoryserver.graph.op.duration")
	if dur == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("expected histogram data points")
	}

	errs := findMetric(rm, "memoryserver.graph.op.errors")
	if errs == nil {
		t.Fatal("errors metric not found")
	}
	sum, ok := errs.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("expected error sum data points")
	}
	found := false
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "kind" && kv.Value.AsString() == string(graph.KindInvalidInput) {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected error kind InvalidInput attribute on error metric")
	}

	if got := inner.CallCount("UpsertEntity"); got != 1 {
		t.Errorf("UpsertEntity calls = %d, want 1", got)
	}
	if got := inner.CallCount("Search"); got != 1 {
		t.Errorf("Search calls = %d, want 1", got)
	}
}

func TestInstrumentedStore_Compact_RecordsBytesReclaimed(t *testing.T) {
	m, reader := newTestMetrics(t)
	inner := &mock.GraphStore{
		CompactBefore: 1000,
		CompactAfter:  400,
	}
	store := graph.Instrument(inner, m, "postgres")

	ctx := context.Background()
	before, after, err := store.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if before != 1000 || after != 400 {
		t.Fatalf("Compact returned (%d, %d), want (1000, 400)", before, after)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "memoryserver.compaction.bytes_reclaimed")
	if met == nil {
		t.Fatal("bytes_reclaimed metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("expected histogram data points")
	}
	if got := hist.DataPoints[0].Sum; got != 600 {
		t.Errorf("bytes reclaimed sum = %d, want 600", got)
	}
}
