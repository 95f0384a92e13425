package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// Backend is the file-based [graph.GraphStore] implementation. One Backend
// owns one directory containing graph.jsonl, graph.snapshot.json,
// graph.index.json, and graph.md. All mutating methods serialize through mu
// so a single process never races itself; cross-process safety on the log
// itself is provided by [EventLog]'s file lock.
type Backend struct {
	dir    string
	log    *EventLog
	logger *slog.Logger

	mu          sync.RWMutex
	cachedGen   string
	cachedSnap  graph.Snapshot
	cachedIndex graph.Index
}

// Option configures a [Backend].
type Option func(*Backend)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// New returns a Backend rooted at dir, creating dir if it does not exist.
func New(dir string, opts ...Option) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, graph.NewStoreError("new", graph.KindIoError, err)
	}
	b := &Backend{dir: dir, log: NewEventLog(dir), logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) storeID() string { return filepath.Base(b.dir) }

// Initialize creates the marker record if the log is empty, or validates
// the existing marker otherwise.
func (b *Backend) Initialize(ctx context.Context) error {
	events, err := b.log.ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		if err := b.log.Append(ctx, graph.MarkerEvent()); err != nil {
			return err
		}
	} else if events[0].Type != graph.EventMarker || !graph.IsGraphEvent(events[0]) {
		return graph.NewStoreError("initialize", graph.KindMarkerMismatch, fmt.Errorf("existing log lacks a valid marker"))
	}
	_, err = b.Rebuild(ctx)
	return err
}

// Snapshot returns the current snapshot, rebuilding iff the log's
// generation tag has advanced past the cached build.
func (b *Backend) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	gen, err := b.log.Generation(ctx)
	if err != nil {
		return graph.Snapshot{}, err
	}

	b.mu.RLock()
	if gen == b.cachedGen && b.cachedGen != "" {
		snap := b.cachedSnap.Clone()
		b.mu.RUnlock()
		return snap, nil
	}
	b.mu.RUnlock()

	return b.Rebuild(ctx)
}

// Rebuild unconditionally refolds the log and refreshes the cached
// snapshot, index, and markdown view.
func (b *Backend) Rebuild(ctx context.Context) (graph.Snapshot, error) {
	events, err := b.log.ReadAll(ctx)
	if err != nil {
		return graph.Snapshot{}, err
	}

	snap, storeErr := graph.Reduce(b.storeID(), events, b.logger)
	if storeErr != nil {
		return graph.Snapshot{}, storeErr
	}

	info, statErr := os.Stat(filepath.Join(b.dir, logFileName))
	var modTime time.Time
	if statErr == nil {
		modTime = info.ModTime()
	}
	idx := graph.BuildIndex(snap, len(events), modTime)

	gen, err := b.log.Generation(ctx)
	if err != nil {
		return graph.Snapshot{}, err
	}

	b.mu.Lock()
	b.cachedGen = gen
	b.cachedSnap = snap
	b.cachedIndex = idx
	b.mu.Unlock()

	b.persistArtifacts(snap, idx)

	return snap.Clone(), nil
}

// persistArtifacts writes the snapshot/index/markdown files best-effort;
// failures are logged, not returned, since the cached in-memory copy
// remains authoritative for the current process.
func (b *Backend) persistArtifacts(snap graph.Snapshot, idx graph.Index) {
	if data, err := json.MarshalIndent(snap, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(b.dir, snapshotFileName), data, 0o644); err != nil {
			b.logger.Warn("filestore: failed to persist snapshot file", "error", err)
		}
	}
	if data, err := json.MarshalIndent(idx, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(b.dir, indexFileName), data, 0o644); err != nil {
			b.logger.Warn("filestore: failed to persist index file", "error", err)
		}
	}
	writeMarkdownBestEffort(filepath.Join(b.dir, markdownFileName), snap)
}

func (b *Backend) currentSnapshotAndIndex(ctx context.Context) (graph.Snapshot, graph.Index, error) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return graph.Snapshot{}, graph.Index{}, err
	}
	b.mu.RLock()
	idx := b.cachedIndex
	b.mu.RUnlock()
	return snap, idx, nil
}

// UpsertEntity implements [graph.GraphStore].
func (b *Backend) UpsertEntity(ctx context.Context, name, entityType string, attrs map[string]any) (graph.Entity, error) {
	if name == "" || entityType == "" {
		return graph.Entity{}, graph.NewStoreError("upsertEntity", graph.KindInvalidInput, fmt.Errorf("name and entityType are required"))
	}

	snap, err := b.Snapshot(ctx)
	if err != nil {
		return graph.Entity{}, err
	}

	id := graph.DeriveEntityID(name, entityType)
	mergedAttrs := map[string]any{}
	if existing, ok := snap.Entities[id]; ok {
		for k, v := range existing.Attrs {
			mergedAttrs[k] = v
		}
	}
	for k, v := range attrs {
		mergedAttrs[k] = v
	}

	ts := time.Now().UTC()
	event := graph.GraphEvent{
		Type: graph.EventEntityUpsert, Ts: ts,
		EntityID: id, Name: name, EntityType: entityType, Attrs: mergedAttrs,
	}
	if err := b.log.Append(ctx, event); err != nil {
		return graph.Entity{}, err
	}

	snap, err = b.Rebuild(ctx)
	if err != nil {
		return graph.Entity{}, err
	}
	return snap.Entities[id], nil
}

// AddObservation implements [graph.GraphStore].
func (b *Backend) AddObservation(ctx context.Context, entityRef, text string, source graph.ObservationSource, timestamp time.Time) (graph.Observation, error) {
	if text == "" {
		return graph.Observation{}, graph.NewStoreError("addObservation", graph.KindInvalidInput, fmt.Errorf("text is required"))
	}

	snap, idx, err := b.currentSnapshotAndIndex(ctx)
	if err != nil {
		return graph.Observation{}, err
	}

	entityID, ok := graph.ResolveEntityRef(snap, idx, entityRef)
	if !ok {
		return graph.Observation{}, graph.NewStoreError("addObservation", graph.KindEntityNotFound, fmt.Errorf("entity %q not found", entityRef))
	}

	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	obsID := graph.DeriveObservationID(entityID, text, timestamp)

	event := graph.GraphEvent{
		Type: graph.EventObservationAdd, Ts: timestamp,
		ObservationID: obsID, EntityID: entityID, Text: text, Source2: source, ObsTimestamp: timestamp,
	}
	if err := b.log.Append(ctx, event); err != nil {
		return graph.Observation{}, err
	}

	snap, err = b.Rebuild(ctx)
	if err != nil {
		return graph.Observation{}, err
	}
	return snap.Observations[obsID], nil
}

// LinkEntities implements [graph.GraphStore].
func (b *Backend) LinkEntities(ctx context.Context, from, relationType, to string) (graph.Relation, error) {
	snap, idx, err := b.currentSnapshotAndIndex(ctx)
	if err != nil {
		return graph.Relation{}, err
	}

	fromID, ok := graph.ResolveEntityRef(snap, idx, from)
	if !ok {
		return graph.Relation{}, graph.NewStoreError("linkEntities", graph.KindEntityNotFound, fmt.Errorf("entity %q not found", from))
	}
	toID, ok := graph.ResolveEntityRef(snap, idx, to)
	if !ok {
		return graph.Relation{}, graph.NewStoreError("linkEntities", graph.KindEntityNotFound, fmt.Errorf("entity %q not found", to))
	}

	relID := graph.DeriveRelationID(fromID, toID, relationType)
	if existing, ok := snap.Relations[relID]; ok {
		return existing, nil
	}

	ts := time.Now().UTC()
	event := graph.GraphEvent{
		Type: graph.EventRelationAdd, Ts: ts,
		RelationID: relID, FromID: fromID, ToID: toID, RelationType: relationType,
	}
	if err := b.log.Append(ctx, event); err != nil {
		return graph.Relation{}, err
	}

	snap, err = b.Rebuild(ctx)
	if err != nil {
		return graph.Relation{}, err
	}
	return snap.Relations[relID], nil
}

// UnlinkEntities implements [graph.GraphStore].
func (b *Backend) UnlinkEntities(ctx context.Context, from, relationType, to string) error {
	snap, idx, err := b.currentSnapshotAndIndex(ctx)
	if err != nil {
		return err
	}

	fromID, fromOK := graph.ResolveEntityRef(snap, idx, from)
	toID, toOK := graph.ResolveEntityRef(snap, idx, to)
	if !fromOK || !toOK {
		return nil // idempotent: nothing to unlink if either endpoint is unknown
	}

	relID := graph.DeriveRelationID(fromID, toID, relationType)
	if _, ok := snap.Relations[relID]; !ok {
		return nil
	}

	event := graph.GraphEvent{
		Type: graph.EventRelationRemove, Ts: time.Now().UTC(),
		FromID: fromID, ToID: toID, RelationType: relationType,
	}
	if err := b.log.Append(ctx, event); err != nil {
		return err
	}
	_, err = b.Rebuild(ctx)
	return err
}

// DeleteEntity implements [graph.GraphStore].
func (b *Backend) DeleteEntity(ctx context.Context, nameOrID string) error {
	snap, idx, err := b.currentSnapshotAndIndex(ctx)
	if err != nil {
		return err
	}
	entityID, ok := graph.ResolveEntityRef(snap, idx, nameOrID)
	if !ok {
		return graph.NewStoreError("deleteEntity", graph.KindEntityNotFound, fmt.Errorf("entity %q not found", nameOrID))
	}

	event := graph.GraphEvent{Type: graph.EventEntityDelete, Ts: time.Now().UTC(), EntityID: entityID}
	if err := b.log.Append(ctx, event); err != nil {
		return err
	}
	_, err = b.Rebuild(ctx)
	return err
}

// DeleteObservation implements [graph.GraphStore].
func (b *Backend) DeleteObservation(ctx context.Context, id string) error {
	event := graph.GraphEvent{Type: graph.EventObservationDel, Ts: time.Now().UTC(), ObservationID: id}
	if err := b.log.Append(ctx, event); err != nil {
		return err
	}
	_, err := b.Rebuild(ctx)
	return err
}

// Search implements [graph.GraphStore]. The file backend has no persistent
// full-text index, so observation search falls back to the in-memory
// substring scan (fulltextObservations=nil).
func (b *Backend) Search(ctx context.Context, query string, opts graph.SearchOptions) (graph.SearchResults, error) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return graph.SearchResults{}, err
	}
	return graph.Search(snap, query, opts, nil), nil
}

// Expand implements [graph.GraphStore].
func (b *Backend) Expand(ctx context.Context, seedID string, opts graph.ExpandOptions) (graph.Neighborhood, error) {
	snap, idx, err := b.currentSnapshotAndIndex(ctx)
	if err != nil {
		return graph.Neighborhood{}, err
	}
	resolved, ok := graph.ResolveEntityRef(snap, idx, seedID)
	if !ok {
		return graph.Neighborhood{Entities: []graph.Entity{}, Relations: []graph.Relation{}}, nil
	}
	return graph.Expand(snap, resolved, opts), nil
}

// Compact implements [graph.GraphStore]: it rewrites the log as a minimal
// equivalent sequence and replaces it atomically via [EventLog.TruncateAndReplace].
func (b *Backend) Compact(ctx context.Context) (beforeBytes, afterBytes int64, err error) {
	beforePath := filepath.Join(b.dir, logFileName)
	if info, statErr := os.Stat(beforePath); statErr == nil {
		beforeBytes = info.Size()
	}

	snap, err := b.Snapshot(ctx)
	if err != nil {
		return 0, 0, err
	}

	minimal := graph.MinimalEventSequence(snap)
	if err := b.log.TruncateAndReplace(ctx, minimal); err != nil {
		return beforeBytes, 0, err
	}

	if _, err := b.Rebuild(ctx); err != nil {
		return beforeBytes, 0, err
	}

	if info, statErr := os.Stat(beforePath); statErr == nil {
		afterBytes = info.Size()
	}
	return beforeBytes, afterBytes, nil
}

var _ graph.GraphStore = (*Backend)(nil)
