package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// Search implements [graph.GraphStore]. Entity and relation scoring reuse
// the shared in-memory algorithm in [graph.Search]; observation ranking
// uses Postgres's native full-text ranking (websearch_to_tsquery +
// ts_rank), which the file backend has no equivalent for.
func (s *Store) Search(ctx context.Context, query string, opts graph.SearchOptions) (graph.SearchResults, error) {
	var result graph.SearchResults
	err := s.run(ctx, "search", func(ctx context.Context, tx pgx.Tx) error {
		snap, err := s.loadSnapshot(ctx, tx)
		if err != nil {
			return err
		}

		fulltext := func(q string) []graph.ScoredObservation {
			rows, err := tx.Query(ctx, `
				SELECT id, entity_id, content, source_kind, source_ref, created_at,
				       ts_rank(fts_vector, websearch_to_tsquery('english', $1)) AS rank
				FROM   graph_observations
				WHERE  fts_vector @@ websearch_to_tsquery('english', $1)
				ORDER  BY rank DESC
				LIMIT  50`, q)
			if err != nil {
				return nil
			}
			defer rows.Close()

			var out []graph.ScoredObservation
			for rows.Next() {
				var o graph.Observation
				var rank float64
				if err := rows.Scan(&o.ID, &o.EntityID, &o.Text, &o.Source.Kind, &o.Source.Ref, &o.Timestamp, &rank); err != nil {
					continue
				}
				out = append(out, graph.ScoredObservation{Observation: o, Score: rank})
			}
			return out
		}

		result = graph.Search(snap, query, opts, fulltext)
		return nil
	})
	return result, err
}

// Expand implements [graph.GraphStore] with a genuine recursive CTE walk
// over graph_relations, matching this backend's approach to every other
// multi-hop read in the schema.
func (s *Store) Expand(ctx context.Context, seedID string, opts graph.ExpandOptions) (graph.Neighborhood, error) {
	hops := opts.Hops
	if hops < 1 {
		hops = 1
	}
	if hops > 2 {
		hops = 2
	}

	directionClause := "(rel.from_entity_id = r.id OR rel.to_entity_id = r.id)"
	neighborExpr := "CASE WHEN rel.from_entity_id = r.id THEN rel.to_entity_id ELSE rel.from_entity_id END"
	switch opts.Direction {
	case graph.DirectionOutgoing:
		directionClause = "rel.from_entity_id = r.id"
		neighborExpr = "rel.to_entity_id"
	case graph.DirectionIncoming:
		directionClause = "rel.to_entity_id = r.id"
		neighborExpr = "rel.from_entity_id"
	}

	relTypeFilter := ""
	args := []any{s.projectID, seedID, hops}
	if len(opts.RelationTypes) > 0 {
		args = append(args, opts.RelationTypes)
		relTypeFilter = fmt.Sprintf("AND rel.relation_type = ANY($%d::text[])", len(args))
	}

	q := fmt.Sprintf(`
		WITH RECURSIVE walk AS (
		    SELECT id, ARRAY[id] AS visited, 0 AS level
		    FROM   graph_entities
		    WHERE  project_id = $1 AND id = $2

		    UNION ALL

		    SELECT %s, w.visited || %s, w.level + 1
		    FROM   walk w
		    JOIN   graph_relations rel ON %s AND rel.project_id = $1
		    WHERE  w.level < $3
		      AND  NOT (%s = ANY(w.visited))
		      %s
		)
		SELECT DISTINCT ON (id) id, MIN(level) OVER (PARTITION BY id) AS level
		FROM   walk
		ORDER  BY id`,
		neighborExpr, neighborExpr, directionClause, neighborExpr, relTypeFilter)

	var neighborhood graph.Neighborhood
	err := s.run(ctx, "expand", func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("expand walk: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			var level int
			if err := rows.Scan(&id, &level); err != nil {
				rows.Close()
				return fmt.Errorf("scan walk row: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()

		if len(ids) == 0 {
			neighborhood = graph.Neighborhood{Entities: []graph.Entity{}, Relations: []graph.Relation{}}
			return nil
		}

		entityRows, err := tx.Query(ctx, `
			SELECT id, name, entity_type, attrs, created_at, updated_at
			FROM   graph_entities
			WHERE  project_id = $1 AND id = ANY($2::text[])
			ORDER  BY id`, s.projectID, ids)
		if err != nil {
			return fmt.Errorf("load walk entities: %w", err)
		}
		entities, err := pgx.CollectRows(entityRows, scanEntity)
		if err != nil {
			return fmt.Errorf("scan walk entities: %w", err)
		}

		relRows, err := tx.Query(ctx, `
			SELECT id, from_entity_id, to_entity_id, relation_type, created_at
			FROM   graph_relations
			WHERE  project_id = $1 AND from_entity_id = ANY($2::text[]) AND to_entity_id = ANY($2::text[])
			ORDER  BY id`, s.projectID, ids)
		if err != nil {
			return fmt.Errorf("load walk relations: %w", err)
		}
		relations, err := pgx.CollectRows(relRows, scanRelation)
		if err != nil {
			return fmt.Errorf("scan walk relations: %w", err)
		}

		neighborhood = graph.Neighborhood{Entities: entities, Relations: relations}
		return nil
	})
	return neighborhood, err
}
