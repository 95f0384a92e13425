package graph

import (
	"sort"
	"time"
)

// MinimalEventSequence builds the smallest event sequence that reduces to
// an equivalent snapshot: one marker, then one entity_upsert per live
// entity, one observation_add per live observation, one relation_add per
// live relation, each group ordered by id for determinism. Both backends'
// Compact implementations call this and then atomically replace their log.
func MinimalEventSequence(snap Snapshot) []GraphEvent {
	out := make([]GraphEvent, 0, 1+len(snap.Entities)+len(snap.Observations)+len(snap.Relations))

	marker := MarkerEvent()
	marker.Ts = snap.Meta.CreatedAt
	out = append(out, marker)

	entityIDs := make([]string, 0, len(snap.Entities))
	for id := range snap.Entities {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)
	for _, id := range entityIDs {
		e := snap.Entities[id]
		// Reduce takes createdAt from Ts when EntityCreatedAt is zero, so it
		// is only written for an entity whose createdAt differs from updatedAt.
		var createdAt time.Time
		if !e.CreatedAt.Equal(e.UpdatedAt) {
			createdAt = e.CreatedAt
		}
		out = append(out, GraphEvent{
			Type:            EventEntityUpsert,
			Ts:              e.UpdatedAt,
			EntityID:        e.ID,
			Name:            e.Name,
			EntityType:      e.EntityType,
			Attrs:           e.Attrs,
			EntityCreatedAt: createdAt,
		})
	}

	obsIDs := make([]string, 0, len(snap.Observations))
	for id := range snap.Observations {
		obsIDs = append(obsIDs, id)
	}
	sort.Strings(obsIDs)
	for _, id := range obsIDs {
		o := snap.Observations[id]
		out = append(out, GraphEvent{
			Type:          EventObservationAdd,
			Ts:            o.Timestamp,
			ObservationID: o.ID,
			EntityID:      o.EntityID,
			Text:          o.Text,
			Source2:       o.Source,
			ObsTimestamp:  o.Timestamp,
		})
	}

	relIDs := make([]string, 0, len(snap.Relations))
	for id := range snap.Relations {
		relIDs = append(relIDs, id)
	}
	sort.Strings(relIDs)
	for _, id := range relIDs {
		r := snap.Relations[id]
		out = append(out, GraphEvent{
			Type:         EventRelationAdd,
			Ts:           r.CreatedAt,
			RelationID:   r.ID,
			FromID:       r.FromID,
			ToID:         r.ToID,
			RelationType: r.RelationType,
		})
	}

	return out
}
