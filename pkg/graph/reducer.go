package graph

import "log/slog"

// Reduce folds an ordered event sequence into a [Snapshot]. It is pure: the
// same sequence, on any process on any host, always yields an equal
// snapshot. Malformed or unknown-but-well-formed records are skipped with a
// warning logged to logger (or the default slog logger when nil) — a single
// corrupt record must never abort reduction.
//
// events[0] must be a valid marker or the result carries a MarkerMismatch
// error; reduction of the remaining events still proceeds so callers that
// only want a best-effort snapshot (e.g. diagnostics) can use it, but
// [GraphStore] implementations must treat a marker-mismatch result as fatal.
func Reduce(storeID string, events []GraphEvent, logger *slog.Logger) (Snapshot, *StoreError) {
	if logger == nil {
		logger = slog.Default()
	}

	snap := newEmptySnapshot(storeID)

	var markerErr *StoreError
	if len(events) == 0 || events[0].Type != EventMarker || !IsGraphEvent(events[0]) {
		markerErr = NewStoreError("reduce", KindMarkerMismatch, nil)
	} else {
		snap.Meta.CreatedAt = events[0].Ts
	}

	for i, e := range events {
		if i == 0 {
			continue // marker already consumed above
		}
		if !IsGraphEvent(e) {
			logger.Warn("graph: skipping structurally invalid event", "index", i, "type", e.Type)
			continue
		}
		applyEvent(&snap, e, logger)
	}

	return snap, markerErr
}

// applyEvent mutates snap in place according to the reducer rules in
// spec §4.2. Unknown-but-well-formed event types are forward-compatible
// no-ops, logged at debug level.
func applyEvent(snap *Snapshot, e GraphEvent, logger *slog.Logger) {
	switch e.Type {
	case EventMarker, EventSnapshotWritten:
		// Any marker or snapshot_written after index 0 is ignored.
		return

	case EventEntityUpsert:
		createdAt := e.Ts
		if existing, ok := snap.Entities[e.EntityID]; ok {
			createdAt = existing.CreatedAt
		} else if !e.EntityCreatedAt.IsZero() {
			// No prior event for this entity in this sequence (e.g. a
			// compacted log's lone entity_upsert) — trust the event's own
			// record of the original createdAt instead of treating this
			// upsert's Ts as if it were the first one.
			createdAt = e.EntityCreatedAt
		}
		attrs := e.Attrs
		if attrs == nil {
			attrs = map[string]any{}
		}
		snap.Entities[e.EntityID] = Entity{
			ID:         e.EntityID,
			Name:       e.Name,
			EntityType: e.EntityType,
			Attrs:      attrs,
			CreatedAt:  createdAt,
			UpdatedAt:  e.Ts,
		}

	case EventObservationAdd:
		snap.Observations[e.ObservationID] = Observation{
			ID:        e.ObservationID,
			EntityID:  e.EntityID,
			Text:      e.Text,
			Source:    e.Source2,
			Timestamp: e.ObsTimestamp,
		}

	case EventObservationDel:
		delete(snap.Observations, e.ObservationID)

	case EventRelationAdd:
		snap.Relations[e.RelationID] = Relation{
			ID:           e.RelationID,
			FromID:       e.FromID,
			ToID:         e.ToID,
			RelationType: e.RelationType,
			CreatedAt:    e.Ts,
		}

	case EventRelationRemove:
		id := DeriveRelationID(e.FromID, e.ToID, e.RelationType)
		delete(snap.Relations, id)

	case EventEntityDelete:
		delete(snap.Entities, e.EntityID)
		for id, obs := range snap.Observations {
			if obs.EntityID == e.EntityID {
				delete(snap.Observations, id)
			}
		}
		for id, rel := range snap.Relations {
			if rel.FromID == e.EntityID || rel.ToID == e.EntityID {
				delete(snap.Relations, id)
			}
		}

	default:
		logger.Debug("graph: skipping unknown event type (forward compatibility)", "type", e.Type)
	}
}
