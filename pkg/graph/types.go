// Package graph implements the tenant-isolated, event-sourced knowledge-graph
// store at the core of the context-memory server.
//
// The architecture mirrors the append-only-log-plus-derived-snapshot shape
// used throughout this codebase's storage layers:
//
//   - [EventLog] owns the durable, ordered sequence of mutations.
//   - [Reduce] folds that sequence into a [Snapshot] — derived, never
//     authoritative, and safe to throw away and rebuild at any time.
//   - [Index] and the scoring helpers in search.go are optimisations over the
//     snapshot, rebuilt whenever the snapshot is rebuilt.
//   - [GraphStore] is the abstract contract that both the file-backed and
//     relational backends satisfy.
//
// All identity-bearing values use stable, content-derived ids (see ids.go) so
// that cross-entity references never require owning pointers or weak
// references — everything is resolved by id through the snapshot's maps.
package graph

import "time"

// Entity is an identity-bearing node in the knowledge graph.
type Entity struct {
	// ID is derived from (normalize(Name), EntityType) via [DeriveEntityID].
	ID string `json:"id"`

	// Name is the entity's non-empty, trim-normalized display name.
	Name string `json:"name"`

	// EntityType classifies the entity (e.g. "person", "project"). Non-empty.
	EntityType string `json:"entityType"`

	// Attrs holds arbitrary string-keyed JSON-scalar metadata.
	Attrs map[string]any `json:"attrs"`

	// CreatedAt is preserved across upserts of the same id.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is refreshed on every upsert.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ObservationSource tags how an [Observation] was produced.
type ObservationSource struct {
	// Kind is one of "manual", "tool", "import", "agent".
	Kind string `json:"kind"`

	// Ref is an optional free-text reference (tool name, import batch id, …).
	Ref string `json:"ref,omitempty"`
}

// Observation is a free-text fact attached to exactly one entity.
type Observation struct {
	// ID is derived from (EntityID, Text, Timestamp) via [DeriveObservationID].
	ID string `json:"id"`

	// EntityID must resolve to an existing entity at read time.
	EntityID string `json:"entityId"`

	// Text is the non-empty observation body.
	Text string `json:"text"`

	// Source records provenance for this fact.
	Source ObservationSource `json:"source"`

	// Timestamp is when the observation was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	// ID is derived from (FromID, ToID, RelationType) via [DeriveRelationID].
	ID string `json:"id"`

	// FromID is the source entity id.
	FromID string `json:"fromId"`

	// ToID is the target entity id.
	ToID string `json:"toId"`

	// RelationType is the non-empty edge label.
	RelationType string `json:"relationType"`

	// CreatedAt is when the relation was first added.
	CreatedAt time.Time `json:"createdAt"`
}

// SnapshotMeta describes the provenance of a materialized [Snapshot].
type SnapshotMeta struct {
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	StoreID   string    `json:"storeId"`
	CreatedAt time.Time `json:"createdAt"`
	Source    string    `json:"source"`
}

// Snapshot is the materialized state derived by [Reduce]. It is always
// reconstructible from the event log and is never treated as authoritative.
type Snapshot struct {
	Meta         SnapshotMeta           `json:"meta"`
	Entities     map[string]Entity      `json:"entities"`
	Observations map[string]Observation `json:"observations"`
	Relations    map[string]Relation    `json:"relations"`
}

// newEmptySnapshot returns a [Snapshot] with initialised, empty maps.
func newEmptySnapshot(storeID string) Snapshot {
	return Snapshot{
		Meta: SnapshotMeta{
			Type:    MarkerType,
			Version: SchemaVersion,
			StoreID: storeID,
			Source:  "reduce",
		},
		Entities:     make(map[string]Entity),
		Observations: make(map[string]Observation),
		Relations:    make(map[string]Relation),
	}
}

// Clone returns a deep-enough copy of the snapshot suitable for handing out
// to readers without risking mutation of the cached copy. Attrs maps are
// shared (read-only by convention) to keep the copy cheap.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Meta:         s.Meta,
		Entities:     make(map[string]Entity, len(s.Entities)),
		Observations: make(map[string]Observation, len(s.Observations)),
		Relations:    make(map[string]Relation, len(s.Relations)),
	}
	for k, v := range s.Entities {
		out.Entities[k] = v
	}
	for k, v := range s.Observations {
		out.Observations[k] = v
	}
	for k, v := range s.Relations {
		out.Relations[k] = v
	}
	return out
}

// DocumentPointer links a graph entity to a location in the document corpus.
type DocumentPointer struct {
	// Path is the document path (relative, validated by a [docstore] implementation).
	Path string

	// Heading is an optional section heading within the document.
	Heading string

	// EntityScore is the score of the entity this pointer was extracted from,
	// used as the primary key in the pointer ranking comparator.
	EntityScore float64

	// CoreFile reports whether Path is one of the deployment's designated
	// "core" documents (task/issue/decision logs), preferred when ranking.
	CoreFile bool
}
