package graph

import (
	"testing"
	"time"
)

func TestExpand_OneHop(t *testing.T) {
	ts := time.Now().UTC()
	snap := newEmptySnapshot("store1")

	alice := Entity{ID: DeriveEntityID("Alice", "person"), Name: "Alice", EntityType: "person", CreatedAt: ts, UpdatedAt: ts}
	project := Entity{ID: DeriveEntityID("Project X", "project"), Name: "Project X", EntityType: "project", CreatedAt: ts, UpdatedAt: ts}
	bob := Entity{ID: DeriveEntityID("Bob", "person"), Name: "Bob", EntityType: "person", CreatedAt: ts, UpdatedAt: ts}

	snap.Entities[alice.ID] = alice
	snap.Entities[project.ID] = project
	snap.Entities[bob.ID] = bob

	r1 := Relation{ID: DeriveRelationID(alice.ID, project.ID, "works_on"), FromID: alice.ID, ToID: project.ID, RelationType: "works_on", CreatedAt: ts}
	r2 := Relation{ID: DeriveRelationID(project.ID, bob.ID, "staffed_by"), FromID: project.ID, ToID: bob.ID, RelationType: "staffed_by", CreatedAt: ts}
	snap.Relations[r1.ID] = r1
	snap.Relations[r2.ID] = r2

	n := Expand(snap, alice.ID, ExpandOptions{Hops: 1})
	if len(n.Entities) != 2 {
		t.Fatalf("expected seed + 1 neighbor at 1 hop, got %d", len(n.Entities))
	}
	if n.Entities[0].ID != alice.ID {
		t.Fatalf("expected seed entity first, got %+v", n.Entities[0])
	}
}

func TestExpand_TwoHops(t *testing.T) {
	ts := time.Now().UTC()
	snap := newEmptySnapshot("store1")

	alice := Entity{ID: DeriveEntityID("Alice", "person"), Name: "Alice", EntityType: "person", CreatedAt: ts, UpdatedAt: ts}
	project := Entity{ID: DeriveEntityID("Project X", "project"), Name: "Project X", EntityType: "project", CreatedAt: ts, UpdatedAt: ts}
	bob := Entity{ID: DeriveEntityID("Bob", "person"), Name: "Bob", EntityType: "person", CreatedAt: ts, UpdatedAt: ts}

	snap.Entities[alice.ID] = alice
	snap.Entities[project.ID] = project
	snap.Entities[bob.ID] = bob

	r1 := Relation{ID: DeriveRelationID(alice.ID, project.ID, "works_on"), FromID: alice.ID, ToID: project.ID, RelationType: "works_on", CreatedAt: ts}
	r2 := Relation{ID: DeriveRelationID(project.ID, bob.ID, "staffed_by"), FromID: project.ID, ToID: bob.ID, RelationType: "staffed_by", CreatedAt: ts}
	snap.Relations[r1.ID] = r1
	snap.Relations[r2.ID] = r2

	n := Expand(snap, alice.ID, ExpandOptions{Hops: 2})
	if len(n.Entities) != 3 {
		t.Fatalf("expected all 3 entities reachable within 2 hops, got %d", len(n.Entities))
	}
	if len(n.Relations) != 2 {
		t.Fatalf("expected both relations traversed, got %d", len(n.Relations))
	}
}

func TestExpand_MissingSeedReturnsEmpty(t *testing.T) {
	snap := newEmptySnapshot("store1")
	n := Expand(snap, "ent_does_not_exist", ExpandOptions{Hops: 2})
	if len(n.Entities) != 0 || len(n.Relations) != 0 {
		t.Fatalf("expected empty neighborhood for missing seed, got %+v", n)
	}
}

func TestExpand_DirectionOutgoingExcludesIncoming(t *testing.T) {
	ts := time.Now().UTC()
	snap := newEmptySnapshot("store1")

	alice := Entity{ID: DeriveEntityID("Alice", "person"), Name: "Alice", EntityType: "person", CreatedAt: ts, UpdatedAt: ts}
	bob := Entity{ID: DeriveEntityID("Bob", "person"), Name: "Bob", EntityType: "person", CreatedAt: ts, UpdatedAt: ts}
	snap.Entities[alice.ID] = alice
	snap.Entities[bob.ID] = bob

	r := Relation{ID: DeriveRelationID(bob.ID, alice.ID, "manages"), FromID: bob.ID, ToID: alice.ID, RelationType: "manages", CreatedAt: ts}
	snap.Relations[r.ID] = r

	n := Expand(snap, alice.ID, ExpandOptions{Hops: 1, Direction: DirectionOutgoing})
	if len(n.Entities) != 1 {
		t.Fatalf("expected no outgoing neighbor from Alice (relation points into Alice), got %d", len(n.Entities))
	}
}
