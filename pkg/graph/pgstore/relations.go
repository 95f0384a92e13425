package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// LinkEntities implements [graph.GraphStore]. Idempotent via ON CONFLICT DO
// NOTHING on the relation's unique key, followed by a fetch of whichever row
// ended up present.
func (s *Store) LinkEntities(ctx context.Context, from, relationType, to string) (graph.Relation, error) {
	var rel graph.Relation
	err := s.run(ctx, "linkEntities", func(ctx context.Context, tx pgx.Tx) error {
		fromID, err := resolveEntityID(ctx, tx, s.projectID, from)
		if err != nil {
			return err
		}
		toID, err := resolveEntityID(ctx, tx, s.projectID, to)
		if err != nil {
			return err
		}

		id := graph.DeriveRelationID(fromID, toID, relationType)
		const insertQ = `
			INSERT INTO graph_relations (id, project_id, from_entity_id, to_entity_id, relation_type)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (project_id, from_entity_id, to_entity_id, relation_type) DO NOTHING`
		if _, err := tx.Exec(ctx, insertQ, id, s.projectID, fromID, toID, relationType); err != nil {
			return fmt.Errorf("insert relation: %w", err)
		}

		const selectQ = `SELECT id, from_entity_id, to_entity_id, relation_type, created_at FROM graph_relations WHERE id = $1`
		row := tx.QueryRow(ctx, selectQ, id)
		scanned, err := scanRelation(row)
		if err != nil {
			return fmt.Errorf("fetch relation: %w", err)
		}
		rel = scanned
		return nil
	})
	return rel, err
}

// UnlinkEntities implements [graph.GraphStore]. Idempotent no-op if the
// relation or either endpoint is absent.
func (s *Store) UnlinkEntities(ctx context.Context, from, relationType, to string) error {
	return s.run(ctx, "unlinkEntities", func(ctx context.Context, tx pgx.Tx) error {
		fromID, err := resolveEntityID(ctx, tx, s.projectID, from)
		if err != nil {
			if graph.IsKind(err, graph.KindEntityNotFound) {
				return nil
			}
			return err
		}
		toID, err := resolveEntityID(ctx, tx, s.projectID, to)
		if err != nil {
			if graph.IsKind(err, graph.KindEntityNotFound) {
				return nil
			}
			return err
		}

		const q = `
			DELETE FROM graph_relations
			WHERE project_id = $1 AND from_entity_id = $2 AND to_entity_id = $3 AND relation_type = $4`
		if _, err := tx.Exec(ctx, q, s.projectID, fromID, toID, relationType); err != nil {
			return fmt.Errorf("delete relation: %w", err)
		}
		return nil
	})
}
