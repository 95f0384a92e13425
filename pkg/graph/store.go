package graph

import (
	"context"
	"time"
)

// GraphStore is the abstract contract satisfied by both backends (file and
// relational). A GraphStore is constructed per logical store — there is no
// process-wide singleton state; callers hold their own instance and inject
// it wherever a store is needed.
type GraphStore interface {
	// Initialize creates or validates the store's marker and builds the
	// initial snapshot. Called once before any other method.
	Initialize(ctx context.Context) error

	// UpsertEntity inserts a new entity or merges attrs into an existing one
	// matched by its id, derived from normalized name and entityType (file
	// backend), or by (projectID, normalized name) (relational backend). On
	// conflict, attrs are shallow-unioned; the relational backend also
	// replaces entityType.
	UpsertEntity(ctx context.Context, name, entityType string, attrs map[string]any) (Entity, error)

	// AddObservation resolves entityRef by id or normalized name and
	// appends an observation to it. source and timestamp are optional; a
	// zero timestamp defaults to time.Now().UTC().
	AddObservation(ctx context.Context, entityRef, text string, source ObservationSource, timestamp time.Time) (Observation, error)

	// LinkEntities creates a relation between from and to, resolved by id
	// or normalized name. Idempotent: a second identical call returns the
	// existing relation rather than creating a duplicate.
	LinkEntities(ctx context.Context, from, relationType, to string) (Relation, error)

	// UnlinkEntities removes a relation. Idempotent: a no-op if absent.
	UnlinkEntities(ctx context.Context, from, relationType, to string) error

	// DeleteEntity removes an entity (resolved by id or normalized name)
	// and cascades to every observation and relation touching it.
	DeleteEntity(ctx context.Context, nameOrID string) error

	// DeleteObservation removes a single observation by id. No-op if absent.
	DeleteObservation(ctx context.Context, id string) error

	// Search runs the entity/observation/relation scoring algorithm.
	Search(ctx context.Context, query string, opts SearchOptions) (SearchResults, error)

	// Expand performs a BFS neighborhood walk from seedID.
	Expand(ctx context.Context, seedID string, opts ExpandOptions) (Neighborhood, error)

	// Snapshot returns the current materialized snapshot, rebuilding first
	// iff the store's generation tag has advanced since the cached build.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Rebuild unconditionally refolds the event log into a fresh snapshot
	// and index, regardless of the cached generation tag.
	Rebuild(ctx context.Context) (Snapshot, error)

	// Compact rewrites the event log as a minimal equivalent sequence
	// (marker, then one entity_upsert/observation_add/relation_add per
	// live record) and atomically replaces the log. Returns the log size
	// in bytes before and after.
	Compact(ctx context.Context) (beforeBytes, afterBytes int64, err error)
}

// EventLog is the append-only log contract shared by both backends'
// storage primitives (a JSONL file for the file backend, a row-per-event
// table for the relational backend).
type EventLog interface {
	// Append adds event to the log, validating the marker invariant first.
	Append(ctx context.Context, event GraphEvent) error

	// ReadAll returns every event in append order.
	ReadAll(ctx context.Context) ([]GraphEvent, error)

	// TruncateAndReplace atomically replaces the entire log with events.
	// Used only by Compact.
	TruncateAndReplace(ctx context.Context, events []GraphEvent) error

	// Generation returns an opaque tag that changes whenever the log's
	// content changes. Used by the snapshot freshness protocol.
	Generation(ctx context.Context) (string, error)
}
