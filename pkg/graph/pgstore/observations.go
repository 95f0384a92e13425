package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// AddObservation implements [graph.GraphStore].
func (s *Store) AddObservation(ctx context.Context, entityRef, text string, source graph.ObservationSource, timestamp time.Time) (graph.Observation, error) {
	if text == "" {
		return graph.Observation{}, graph.NewStoreError("addObservation", graph.KindInvalidInput, fmt.Errorf("text is required"))
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	var obs graph.Observation
	err := s.run(ctx, "addObservation", func(ctx context.Context, tx pgx.Tx) error {
		entityID, err := resolveEntityID(ctx, tx, s.projectID, entityRef)
		if err != nil {
			return err
		}

		id := graph.DeriveObservationID(entityID, text, timestamp)
		const q = `
			INSERT INTO graph_observations (id, project_id, entity_id, content, source_kind, source_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
			RETURNING id, entity_id, content, source_kind, source_ref, created_at`

		row := tx.QueryRow(ctx, q, id, s.projectID, entityID, text, source.Kind, source.Ref, timestamp)
		scanned, scanErr := scanObservation(row)
		if scanErr == nil {
			obs = scanned
			return nil
		}
		if scanErr != pgx.ErrNoRows {
			return fmt.Errorf("insert observation: %w", scanErr)
		}
		// ON CONFLICT DO NOTHING swallowed the insert (already present, same
		// content-derived id): fetch the existing row instead.
		row = tx.QueryRow(ctx, `SELECT id, entity_id, content, source_kind, source_ref, created_at FROM graph_observations WHERE id = $1`, id)
		scanned, scanErr = scanObservation(row)
		if scanErr != nil {
			return fmt.Errorf("fetch existing observation: %w", scanErr)
		}
		obs = scanned
		return nil
	})
	return obs, err
}

// DeleteObservation implements [graph.GraphStore]. No-op if absent.
func (s *Store) DeleteObservation(ctx context.Context, id string) error {
	return s.run(ctx, "deleteObservation", func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM graph_observations WHERE project_id = $1 AND id = $2`, s.projectID, id)
		if err != nil {
			return fmt.Errorf("delete observation: %w", err)
		}
		return nil
	})
}
