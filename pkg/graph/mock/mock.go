// Package mock provides an in-memory test double for [graph.GraphStore].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.GraphStore{}
//	store.SearchResult = graph.SearchResults{Entities: []graph.ScoredEntity{{Entity: alice, Score: 1}}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// GraphStore is a configurable test double for [graph.GraphStore]. Each
// method has a corresponding *Err field (returned on non-nil) and, where
// applicable, a corresponding *Result field (returned on success).
type GraphStore struct {
	mu sync.Mutex

	calls []Call

	InitializeErr error

	UpsertEntityResult graph.Entity
	UpsertEntityErr    error

	AddObservationResult graph.Observation
	AddObservationErr    error

	LinkEntitiesResult graph.Relation
	LinkEntitiesErr    error

	UnlinkEntitiesErr error

	DeleteEntityErr error

	DeleteObservationErr error

	SearchResult graph.SearchResults
	SearchErr    error

	ExpandResult graph.Neighborhood
	ExpandErr    error

	SnapshotResult graph.Snapshot
	SnapshotErr    error

	RebuildResult graph.Snapshot
	RebuildErr    error

	CompactBefore int64
	CompactAfter  int64
	CompactErr    error
}

// Calls returns a copy of all recorded method invocations.
func (m *GraphStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *GraphStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *GraphStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Initialize implements [graph.GraphStore].
func (m *GraphStore) Initialize(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Initialize"})
	return m.InitializeErr
}

// UpsertEntity implements [graph.GraphStore].
func (m *GraphStore) UpsertEntity(_ context.Context, name, entityType string, attrs map[string]any) (graph.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpsertEntity", Args: []any{name, entityType, attrs}})
	return m.UpsertEntityResult, m.UpsertEntityErr
}

// AddObservation implements [graph.GraphStore].
func (m *GraphStore) AddObservation(_ context.Context, entityRef, text string, source graph.ObservationSource, timestamp time.Time) (graph.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "AddObservation", Args: []any{entityRef, text, source, timestamp}})
	return m.AddObservationResult, m.AddObservationErr
}

// LinkEntities implements [graph.GraphStore].
func (m *GraphStore) LinkEntities(_ context.Context, from, relationType, to string) (graph.Relation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "LinkEntities", Args: []any{from, relationType, to}})
	return m.LinkEntitiesResult, m.LinkEntitiesErr
}

// UnlinkEntities implements [graph.GraphStore].
func (m *GraphStore) UnlinkEntities(_ context.Context, from, relationType, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UnlinkEntities", Args: []any{from, relationType, to}})
	return m.UnlinkEntitiesErr
}

// DeleteEntity implements [graph.GraphStore].
func (m *GraphStore) DeleteEntity(_ context.Context, nameOrID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "DeleteEntity", Args: []any{nameOrID}})
	return m.DeleteEntityErr
}

// DeleteObservation implements [graph.GraphStore].
func (m *GraphStore) DeleteObservation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "DeleteObservation", Args: []any{id}})
	return m.DeleteObservationErr
}

// Search implements [graph.GraphStore].
func (m *GraphStore) Search(_ context.Context, query string, opts graph.SearchOptions) (graph.SearchResults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	return m.SearchResult, m.SearchErr
}

// Expand implements [graph.GraphStore].
func (m *GraphStore) Expand(_ context.Context, seedID string, opts graph.ExpandOptions) (graph.Neighborhood, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Expand", Args: []any{seedID, opts}})
	return m.ExpandResult, m.ExpandErr
}

// Snapshot implements [graph.GraphStore].
func (m *GraphStore) Snapshot(_ context.Context) (graph.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Snapshot"})
	return m.SnapshotResult, m.SnapshotErr
}

// Rebuild implements [graph.GraphStore].
func (m *GraphStore) Rebuild(_ context.Context) (graph.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Rebuild"})
	return m.RebuildResult, m.RebuildErr
}

// Compact implements [graph.GraphStore].
func (m *GraphStore) Compact(_ context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Compact"})
	return m.CompactBefore, m.CompactAfter, m.CompactErr
}

// Ensure GraphStore satisfies the interface at compile time.
var _ graph.GraphStore = (*GraphStore)(nil)
