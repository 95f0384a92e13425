package graph

import (
	"encoding/json"
	"time"
)

// EventType tags the variant of a [GraphEvent]. New values may be added over
// time; unrecognised values are reserved for forward compatibility and are
// skipped by [Reduce] rather than treated as an error.
type EventType string

const (
	EventMarker           EventType = "marker"
	EventEntityUpsert     EventType = "entity_upsert"
	EventObservationAdd   EventType = "observation_add"
	EventRelationAdd      EventType = "relation_add"
	EventRelationRemove   EventType = "relation_remove"
	EventEntityDelete     EventType = "entity_delete"
	EventObservationDel   EventType = "observation_delete"
	EventSnapshotWritten  EventType = "snapshot_written"
)

// GraphEvent is one record in the append-only event log. Every non-marker
// event carries a timestamp; the payload fields relevant to the event's Type
// are populated and the rest left zero.
//
// GraphEvent is intentionally a single flat struct rather than a sum type
// expressed through an interface: every backend needs to serialize it
// (JSONL on disk, a single jsonb/text column in the relational schema), and a
// flat struct with a Type discriminant keeps both paths trivial.
type GraphEvent struct {
	Type EventType `json:"type"`
	Ts   time.Time `json:"ts,omitempty"`

	// marker fields
	Source  string `json:"source,omitempty"`
	Version string `json:"version,omitempty"`

	// entity_upsert / entity_delete
	EntityID   string         `json:"entityId,omitempty"`
	Name       string         `json:"name,omitempty"`
	EntityType string         `json:"entityType,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`

	// EntityCreatedAt carries the entity's original creation instant on an
	// entity_upsert event. Ts already doubles as the entity's updatedAt on
	// this event type, so a fresh insert's createdAt cannot be recovered
	// from Ts alone once an entity has been upserted more than once — this
	// field lets the reducer restore it without needing the prior events
	// that first created the entity (the case compaction produces: a single
	// entity_upsert per live entity).
	EntityCreatedAt time.Time `json:"entityCreatedAt,omitempty"`

	// observation_add / observation_delete
	ObservationID string            `json:"observationId,omitempty"`
	Text          string            `json:"text,omitempty"`
	Source2       ObservationSource `json:"obsSource,omitempty"`
	ObsTimestamp  time.Time         `json:"obsTimestamp,omitempty"`

	// relation_add / relation_remove
	RelationID   string `json:"relationId,omitempty"`
	FromID       string `json:"fromId,omitempty"`
	ToID         string `json:"toId,omitempty"`
	RelationType string `json:"relationType,omitempty"`
}

// IsGraphEvent is the tagged-variant structural predicate used by [Reduce]
// before dispatching on Type. It validates only the fields required by the
// declared Type; fields irrelevant to that variant are ignored, and unknown
// Type values are considered structurally valid (reserved for forward
// compatibility) so long as the envelope itself parses.
func IsGraphEvent(e GraphEvent) bool {
	switch e.Type {
	case EventMarker:
		return e.Source != "" && e.Version != ""
	case EventEntityUpsert:
		return e.EntityID != "" && e.Name != "" && e.EntityType != ""
	case EventEntityDelete:
		return e.EntityID != ""
	case EventObservationAdd:
		return e.ObservationID != "" && e.EntityID != "" && e.Text != ""
	case EventObservationDel:
		return e.ObservationID != ""
	case EventRelationAdd:
		return e.RelationID != "" && e.FromID != "" && e.ToID != "" && e.RelationType != ""
	case EventRelationRemove:
		return e.FromID != "" && e.ToID != "" && e.RelationType != ""
	case EventSnapshotWritten:
		return true
	case "":
		return false
	default:
		// Unknown but well-formed tag: reserved for forward compatibility.
		return true
	}
}

// MarkerEvent builds the mandatory event[0] marker for a fresh store.
func MarkerEvent() GraphEvent {
	return GraphEvent{Type: EventMarker, Ts: time.Now().UTC(), Source: MarkerType, Version: SchemaVersion}
}

// ParseEvent unmarshals a single JSONL record into a [GraphEvent]. It returns
// ok=false (never an error) when the bytes do not parse as JSON or fail
// [IsGraphEvent] — callers (the reducer, log readers) skip such records with
// a warning instead of aborting.
func ParseEvent(line []byte) (GraphEvent, bool) {
	var e GraphEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return GraphEvent{}, false
	}
	if !IsGraphEvent(e) {
		return GraphEvent{}, false
	}
	return e, true
}
