package graph

import (
	"testing"
	"time"
)

func buildTestSnapshot() Snapshot {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := newEmptySnapshot("store1")

	alice := Entity{
		ID: DeriveEntityID("Alice", "person"), Name: "Alice", EntityType: "person",
		Attrs: map[string]any{"role": "developer"}, CreatedAt: ts, UpdatedAt: ts,
	}
	alicia := Entity{
		ID: DeriveEntityID("Alicia", "person"), Name: "Alicia", EntityType: "person",
		Attrs: map[string]any{"role": "designer"}, CreatedAt: ts, UpdatedAt: ts,
	}
	project := Entity{
		ID: DeriveEntityID("Project X", "project"), Name: "Project X", EntityType: "project",
		Attrs: map[string]any{}, CreatedAt: ts, UpdatedAt: ts,
	}
	snap.Entities[alice.ID] = alice
	snap.Entities[alicia.ID] = alicia
	snap.Entities[project.ID] = project

	obs := Observation{
		ID: DeriveObservationID(alice.ID, "is a great developer", ts), EntityID: alice.ID,
		Text: "is a great developer", Timestamp: ts,
	}
	snap.Observations[obs.ID] = obs

	rel := Relation{
		ID: DeriveRelationID(alice.ID, project.ID, "works_on"), FromID: alice.ID, ToID: project.ID,
		RelationType: "works_on", CreatedAt: ts,
	}
	snap.Relations[rel.ID] = rel

	return snap
}

func TestSearchEntities_ExactNameWins(t *testing.T) {
	snap := buildTestSnapshot()
	results := Search(snap, "Alice", SearchOptions{Limit: 10}, nil)
	if len(results.Entities) == 0 {
		t.Fatalf("expected at least one entity result")
	}
	top := results.Entities[0]
	if top.Entity.Name != "Alice" || top.Score != scoreExactName {
		t.Fatalf("expected exact match Alice to rank first with score %v, got %+v", scoreExactName, top)
	}
}

func TestSearchEntities_TypeSubstring(t *testing.T) {
	snap := buildTestSnapshot()
	results := Search(snap, "project", SearchOptions{Limit: 10}, nil)
	found := false
	for _, r := range results.Entities {
		if r.Entity.Name == "Project X" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Project X to match on entityType substring")
	}
}

func TestSearchEntities_Limit(t *testing.T) {
	snap := buildTestSnapshot()
	results := Search(snap, "a", SearchOptions{Limit: 1}, nil)
	if len(results.Entities) > 1 {
		t.Fatalf("expected limit to cap results at 1, got %d", len(results.Entities))
	}
}

func TestSearchObservations_SubstringMatch(t *testing.T) {
	snap := buildTestSnapshot()
	results := Search(snap, "developer", SearchOptions{Limit: 10}, nil)
	if len(results.Observations) != 1 {
		t.Fatalf("expected 1 observation match, got %d", len(results.Observations))
	}
}

func TestSearchRelations_ScopedToSurvivingEntities(t *testing.T) {
	snap := buildTestSnapshot()
	results := Search(snap, "works_on", SearchOptions{Limit: 10}, nil)
	if len(results.Relations) != 1 {
		t.Fatalf("expected 1 relation match for works_on, got %d", len(results.Relations))
	}
}

func TestSearchEntities_FuzzyFallback(t *testing.T) {
	snap := buildTestSnapshot()
	// A near-miss spelling of Alicia should still surface Alicia via the
	// Jaro-Winkler fallback when no exact/substring score applies.
	results := Search(snap, "Alecia", SearchOptions{Limit: 10}, nil)
	found := false
	for _, r := range results.Entities {
		if r.Entity.Name == "Alicia" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected fuzzy match to surface Alicia for near-miss query 'Alecia'")
	}
}
