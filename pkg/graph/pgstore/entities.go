package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// UpsertEntity implements [graph.GraphStore]. On a (project_id, norm_name)
// conflict, attrs are shallow-unioned (new values win), as in the file
// backend, and entity_type is replaced; the file backend matches on name and
// type together, so it never replaces a type.
func (s *Store) UpsertEntity(ctx context.Context, name, entityType string, attrs map[string]any) (graph.Entity, error) {
	if name == "" || entityType == "" {
		return graph.Entity{}, graph.NewStoreError("upsertEntity", graph.KindInvalidInput, fmt.Errorf("name and entityType are required"))
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return graph.Entity{}, graph.NewStoreError("upsertEntity", graph.KindInvalidInput, err)
	}

	id := graph.DeriveEntityID(name, entityType)

	const q = `
		INSERT INTO graph_entities (id, project_id, name, entity_type, attrs)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, norm_name) DO UPDATE
		    SET entity_type = EXCLUDED.entity_type,
		        attrs       = graph_entities.attrs || EXCLUDED.attrs,
		        updated_at  = now()
		RETURNING id, name, entity_type, attrs, created_at, updated_at`

	var e graph.Entity
	err = s.run(ctx, "upsertEntity", func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, q, id, s.projectID, name, entityType, attrsJSON)
		scanned, err := scanEntity(row)
		if err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		e = scanned
		return nil
	})
	return e, err
}

// DeleteEntity implements [graph.GraphStore]. Resolution is by id or
// normalized name; ON DELETE CASCADE on graph_observations/graph_relations
// performs the cascade at the database level.
func (s *Store) DeleteEntity(ctx context.Context, nameOrID string) error {
	const q = `
		DELETE FROM graph_entities
		WHERE project_id = $1 AND (id = $2 OR norm_name = lower(regexp_replace(btrim($2), '\s+', ' ', 'g')))`

	return s.run(ctx, "deleteEntity", func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, s.projectID, nameOrID)
		if err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return graph.NewStoreError("deleteEntity", graph.KindEntityNotFound, fmt.Errorf("entity %q not found", nameOrID))
		}
		return nil
	})
}

// resolveEntityID resolves ref (an id or a name) to a graph_entities.id
// scoped to this store's project, inside an already-open transaction.
func resolveEntityID(ctx context.Context, tx pgx.Tx, projectID, ref string) (string, error) {
	const q = `
		SELECT id FROM graph_entities
		WHERE project_id = $1 AND (id = $2 OR norm_name = lower(regexp_replace(btrim($2), '\s+', ' ', 'g')))
		LIMIT 1`
	var id string
	err := tx.QueryRow(ctx, q, projectID, ref).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", graph.NewStoreError("resolve", graph.KindEntityNotFound, fmt.Errorf("entity %q not found", ref))
		}
		return "", fmt.Errorf("resolve entity: %w", err)
	}
	return id, nil
}
