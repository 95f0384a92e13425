package graph

import "sort"

// ExpandOptions configures [Expand].
type ExpandOptions struct {
	// Hops is the BFS radius, clamped to [1, 2] per spec — neighborhood
	// expansion beyond two hops is out of scope.
	Hops int

	// RelationTypes, when non-empty, restricts traversal to relations whose
	// RelationType is in the set.
	RelationTypes []string

	// Direction controls which relation endpoints are followed.
	Direction ExpandDirection
}

// ExpandDirection selects which edges a BFS hop follows.
type ExpandDirection int

const (
	DirectionBoth ExpandDirection = iota
	DirectionOutgoing
	DirectionIncoming
)

// Neighborhood is the result of a BFS expansion from a seed entity.
type Neighborhood struct {
	// Entities is every entity reached, seed included, ordered by
	// (hop level ascending, id ascending) for deterministic output.
	Entities []Entity

	// Relations is every relation edge traversed to reach Entities.
	Relations []Relation
}

// Expand performs a breadth-first walk outward from seedID up to
// opts.Hops levels, following relation edges per opts.Direction and
// opts.RelationTypes. The seed itself is always included at level 0. A
// missing seed yields an empty, non-nil Neighborhood rather than an error —
// expansion is a best-effort enrichment step, not a lookup.
func Expand(snap Snapshot, seedID string, opts ExpandOptions) Neighborhood {
	hops := opts.Hops
	if hops < 1 {
		hops = 1
	}
	if hops > 2 {
		hops = 2
	}

	allowedTypes := make(map[string]struct{}, len(opts.RelationTypes))
	for _, t := range opts.RelationTypes {
		allowedTypes[t] = struct{}{}
	}

	if _, ok := snap.Entities[seedID]; !ok {
		return Neighborhood{Entities: []Entity{}, Relations: []Relation{}}
	}

	visited := map[string]int{seedID: 0}
	relEdges := map[string]Relation{}
	frontier := []string{seedID}

	for level := 1; level <= hops; level++ {
		var next []string
		for _, id := range frontier {
			for _, r := range snap.Relations {
				if len(allowedTypes) > 0 {
					if _, ok := allowedTypes[r.RelationType]; !ok {
						continue
					}
				}

				var neighbor string
				switch opts.Direction {
				case DirectionOutgoing:
					if r.FromID != id {
						continue
					}
					neighbor = r.ToID
				case DirectionIncoming:
					if r.ToID != id {
						continue
					}
					neighbor = r.FromID
				default:
					if r.FromID == id {
						neighbor = r.ToID
					} else if r.ToID == id {
						neighbor = r.FromID
					} else {
						continue
					}
				}

				if _, ok := snap.Entities[neighbor]; !ok {
					continue
				}

				relEdges[r.ID] = r

				if _, seen := visited[neighbor]; !seen {
					visited[neighbor] = level
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	type leveledEntity struct {
		level int
		e     Entity
	}
	leveled := make([]leveledEntity, 0, len(visited))
	for id, level := range visited {
		leveled = append(leveled, leveledEntity{level: level, e: snap.Entities[id]})
	}
	sort.Slice(leveled, func(i, j int) bool {
		if leveled[i].level != leveled[j].level {
			return leveled[i].level < leveled[j].level
		}
		return leveled[i].e.ID < leveled[j].e.ID
	})

	entities := make([]Entity, len(leveled))
	for i, le := range leveled {
		entities[i] = le.e
	}

	relations := make([]Relation, 0, len(relEdges))
	for _, r := range relEdges {
		relations = append(relations, r)
	}
	sort.Slice(relations, func(i, j int) bool { return relations[i].ID < relations[j].ID })

	return Neighborhood{Entities: entities, Relations: relations}
}
