package graph

import (
	"testing"
	"time"
)

func upsertEvent(name, entityType string, attrs map[string]any, ts time.Time) GraphEvent {
	return GraphEvent{
		Type:       EventEntityUpsert,
		Ts:         ts,
		EntityID:   DeriveEntityID(name, entityType),
		Name:       name,
		EntityType: entityType,
		Attrs:      attrs,
	}
}

func observationEvent(entityID, text string, ts time.Time) GraphEvent {
	return GraphEvent{
		Type:          EventObservationAdd,
		Ts:            ts,
		ObservationID: DeriveObservationID(entityID, text, ts),
		EntityID:      entityID,
		Text:          text,
		ObsTimestamp:  ts,
	}
}

func relationEvent(from, relType, to string, ts time.Time) GraphEvent {
	return GraphEvent{
		Type:         EventRelationAdd,
		Ts:           ts,
		RelationID:   DeriveRelationID(from, to, relType),
		FromID:       from,
		RelationType: relType,
		ToID:         to,
	}
}

// TestScenarioA_AppendReduceRoundTrip mirrors the specification's scenario A:
// upsert two entities, link them, add one observation, then repeat the link
// and expect no change.
func TestScenarioA_AppendReduceRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	aliceID := DeriveEntityID("Alice", "person")
	projectID := DeriveEntityID("Project X", "project")

	events := []GraphEvent{
		MarkerEvent(),
		upsertEvent("Alice", "person", map[string]any{"role": "dev"}, ts),
		upsertEvent("Project X", "project", map[string]any{}, ts),
		relationEvent(aliceID, "works_on", projectID, ts),
		observationEvent(aliceID, "is a great dev", ts),
	}

	snap, storeErr := Reduce("store1", events, nil)
	if storeErr != nil {
		t.Fatalf("unexpected marker error: %v", storeErr)
	}
	if len(snap.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(snap.Entities))
	}
	if len(snap.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(snap.Observations))
	}
	if len(snap.Relations) != 1 {
		t.Fatalf("expected 1 relation, got %d", len(snap.Relations))
	}

	// A second identical link leaves the snapshot unchanged.
	events = append(events, relationEvent(aliceID, "works_on", projectID, ts.Add(time.Minute)))
	snap2, storeErr := Reduce("store1", events, nil)
	if storeErr != nil {
		t.Fatalf("unexpected marker error: %v", storeErr)
	}
	if len(snap2.Relations) != 1 {
		t.Fatalf("repeated linkEntities must not duplicate relations, got %d", len(snap2.Relations))
	}
}

// TestScenarioB_CascadingDelete mirrors the specification's scenario B.
func TestScenarioB_CascadingDelete(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	aliceID := DeriveEntityID("Alice", "person")
	projectID := DeriveEntityID("Project X", "project")

	events := []GraphEvent{
		MarkerEvent(),
		upsertEvent("Alice", "person", map[string]any{"role": "dev"}, ts),
		upsertEvent("Project X", "project", map[string]any{}, ts),
		relationEvent(aliceID, "works_on", projectID, ts),
		observationEvent(aliceID, "is a great dev", ts),
		{Type: EventEntityDelete, Ts: ts.Add(time.Minute), EntityID: aliceID},
	}

	snap, storeErr := Reduce("store1", events, nil)
	if storeErr != nil {
		t.Fatalf("unexpected marker error: %v", storeErr)
	}
	if len(snap.Entities) != 1 {
		t.Fatalf("expected 1 surviving entity, got %d", len(snap.Entities))
	}
	if _, ok := snap.Entities[projectID]; !ok {
		t.Fatalf("expected Project X to survive the cascade")
	}
	if len(snap.Observations) != 0 {
		t.Fatalf("expected cascading delete to remove observations, got %d", len(snap.Observations))
	}
	if len(snap.Relations) != 0 {
		t.Fatalf("expected cascading delete to remove relations, got %d", len(snap.Relations))
	}
}

func TestReduce_PreservesCreatedAtOnReUpsert(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(24 * time.Hour)

	events := []GraphEvent{
		MarkerEvent(),
		upsertEvent("Alice", "person", map[string]any{"role": "dev"}, created),
		upsertEvent("Alice", "person", map[string]any{"role": "lead"}, updated),
	}

	snap, storeErr := Reduce("store1", events, nil)
	if storeErr != nil {
		t.Fatalf("unexpected marker error: %v", storeErr)
	}
	aliceID := DeriveEntityID("Alice", "person")
	e, ok := snap.Entities[aliceID]
	if !ok {
		t.Fatalf("expected Alice to be present")
	}
	if !e.CreatedAt.Equal(created) {
		t.Errorf("expected CreatedAt to be preserved across re-upsert, got %v want %v", e.CreatedAt, created)
	}
	if !e.UpdatedAt.Equal(updated) {
		t.Errorf("expected UpdatedAt to advance, got %v want %v", e.UpdatedAt, updated)
	}
	if e.Attrs["role"] != "lead" {
		t.Errorf("expected attrs to be replaced by latest upsert, got %v", e.Attrs)
	}
}

// TestMinimalEventSequence_PreservesCreatedAt is the compaction-equivalence
// invariant (spec §8 invariant 4) reduced to its smallest failing case: an
// entity re-upserted after its original creation has CreatedAt != UpdatedAt,
// and compacting must not collapse the two onto UpdatedAt.
func TestMinimalEventSequence_PreservesCreatedAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(24 * time.Hour)

	events := []GraphEvent{
		MarkerEvent(),
		upsertEvent("Alice", "person", map[string]any{"role": "dev"}, created),
		upsertEvent("Alice", "person", map[string]any{"role": "lead"}, updated),
	}

	before, storeErr := Reduce("store1", events, nil)
	if storeErr != nil {
		t.Fatalf("unexpected marker error: %v", storeErr)
	}

	compacted := MinimalEventSequence(before)
	after, storeErr := Reduce("store1", compacted, nil)
	if storeErr != nil {
		t.Fatalf("unexpected marker error after compaction: %v", storeErr)
	}

	aliceID := DeriveEntityID("Alice", "person")
	beforeAlice, afterAlice := before.Entities[aliceID], after.Entities[aliceID]
	if !afterAlice.CreatedAt.Equal(beforeAlice.CreatedAt) {
		t.Errorf("compaction changed CreatedAt: got %v want %v", afterAlice.CreatedAt, beforeAlice.CreatedAt)
	}
	if !afterAlice.UpdatedAt.Equal(beforeAlice.UpdatedAt) {
		t.Errorf("compaction changed UpdatedAt: got %v want %v", afterAlice.UpdatedAt, beforeAlice.UpdatedAt)
	}
}

func TestReduce_MarkerMismatchStillFolds(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []GraphEvent{
		upsertEvent("Alice", "person", nil, ts), // no marker at index 0
	}
	snap, storeErr := Reduce("store1", events, nil)
	if storeErr == nil || storeErr.Kind != KindMarkerMismatch {
		t.Fatalf("expected MarkerMismatch, got %v", storeErr)
	}
	if len(snap.Entities) != 1 {
		t.Fatalf("expected best-effort fold to still apply remaining events, got %d entities", len(snap.Entities))
	}
}

func TestReduce_SkipsMalformedEvents(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []GraphEvent{
		MarkerEvent(),
		{Type: EventEntityUpsert, Ts: ts}, // missing Name/EntityType/EntityID
		upsertEvent("Alice", "person", nil, ts),
	}
	snap, storeErr := Reduce("store1", events, nil)
	if storeErr != nil {
		t.Fatalf("unexpected marker error: %v", storeErr)
	}
	if len(snap.Entities) != 1 {
		t.Fatalf("expected malformed event to be skipped, leaving 1 entity, got %d", len(snap.Entities))
	}
}
