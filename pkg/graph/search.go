package graph

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// maxEntitiesExamined bounds how many candidate entities a single search
// scores, keeping worst-case latency flat as a store grows.
const maxEntitiesExamined = 5000

// maxObservationResults caps observation search results.
const maxObservationResults = 50

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a name to
// contribute a fuzzy-match score contribution.
const fuzzyThreshold = 0.85

// Scoring weights from the specification's entity search algorithm.
const (
	scoreExactName  = 1.0
	scoreNameSub    = 0.8
	scoreTypeSub    = 0.5
	scoreAttrSub    = 0.3
	scoreFuzzyMax   = 0.6 // fuzzy contributes at most this much, scaled by similarity
)

// SearchOptions configures [Search].
type SearchOptions struct {
	// Limit caps the number of entities returned. A value <= 0 defaults to 10.
	Limit int
}

// SearchResults bundles the three result sets produced by a single query,
// matching the GraphStore.search contract.
type SearchResults struct {
	Entities     []ScoredEntity
	Observations []ScoredObservation
	Relations    []Relation
}

// ScoredEntity pairs an entity with its relevance score.
type ScoredEntity struct {
	Entity Entity
	Score  float64
}

// ScoredObservation pairs an observation with its relevance score.
type ScoredObservation struct {
	Observation Observation
	Score       float64
}

// Search implements the entity / observation / relation search algorithm
// described in spec §4.3. fulltextObservations, when non-nil, is a
// backend-provided ranked observation search (e.g. Postgres FTS); when nil
// the file backend's in-memory substring scan is used instead.
func Search(snap Snapshot, query string, opts SearchOptions, fulltextObservations func(query string) []ScoredObservation) SearchResults {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	entities := searchEntities(snap, query, limit)

	var observations []ScoredObservation
	if fulltextObservations != nil {
		observations = fulltextObservations(query)
	} else {
		observations = searchObservations(snap, query)
	}

	survivors := make(map[string]struct{}, len(entities))
	for _, se := range entities {
		survivors[se.Entity.ID] = struct{}{}
	}
	relations := searchRelations(snap, query, survivors)

	return SearchResults{Entities: entities, Observations: observations, Relations: relations}
}

func searchEntities(snap Snapshot, query string, limit int) []ScoredEntity {
	normQuery := NormalizeName(query)
	lowerQuery := strings.ToLower(query)

	var scored []ScoredEntity
	examined := 0
	for _, e := range snap.Entities {
		if examined >= maxEntitiesExamined {
			break
		}
		examined++

		score := 0.0
		normName := NormalizeName(e.Name)

		switch {
		case normName == normQuery && normQuery != "":
			score = scoreExactName
		case normQuery != "" && strings.Contains(normName, normQuery):
			score = scoreNameSub
		}

		if score < scoreTypeSub && lowerQuery != "" && strings.Contains(strings.ToLower(e.EntityType), lowerQuery) {
			score = maxFloat(score, scoreTypeSub)
		}

		if score < scoreAttrSub && lowerQuery != "" {
			for _, v := range e.Attrs {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lowerQuery) {
					score = maxFloat(score, scoreAttrSub)
					break
				}
			}
		}

		if score == 0 && normQuery != "" {
			sim := matchr.JaroWinkler(normQuery, normName, false)
			if sim >= fuzzyThreshold {
				score = sim * scoreFuzzyMax
			}
		}

		if score > 0 {
			scored = append(scored, ScoredEntity{Entity: e, Score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entity.Name < scored[j].Entity.Name
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// searchObservations is the in-memory fallback full-text scan used by the
// file backend, capped at maxObservationResults.
func searchObservations(snap Snapshot, query string) []ScoredObservation {
	lowerQuery := strings.ToLower(query)
	if lowerQuery == "" {
		return []ScoredObservation{}
	}

	var scored []ScoredObservation
	for _, obs := range snap.Observations {
		lowerText := strings.ToLower(obs.Text)
		if !strings.Contains(lowerText, lowerQuery) {
			continue
		}
		// Simple relevance proxy: fraction of the text the query occupies,
		// favouring shorter, denser matches over long documents with one hit.
		score := float64(len(lowerQuery)) / float64(len(lowerText)+1)
		scored = append(scored, ScoredObservation{Observation: obs, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Observation.ID < scored[j].Observation.ID
	})

	if len(scored) > maxObservationResults {
		scored = scored[:maxObservationResults]
	}
	return scored
}

// searchRelations returns relations whose RelationType contains query,
// restricted to relations whose endpoints both survived the entity search —
// this keeps relation results coherent with what the caller can already see.
func searchRelations(snap Snapshot, query string, survivors map[string]struct{}) []Relation {
	lowerQuery := strings.ToLower(query)
	var out []Relation
	for _, r := range snap.Relations {
		if lowerQuery != "" && !strings.Contains(strings.ToLower(r.RelationType), lowerQuery) {
			continue
		}
		_, fromOK := survivors[r.FromID]
		_, toOK := survivors[r.ToID]
		if len(survivors) > 0 && !fromOK && !toOK {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
