package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// Compact implements [graph.GraphStore]. The relational backend has no
// append-only log to rewrite — every row is already the minimal
// representation of live state — so compaction instead reclaims dead
// tuples left by updates/deletes via VACUUM, reporting total relation size
// before and after as the before/after byte counts.
func (s *Store) Compact(ctx context.Context) (beforeBytes, afterBytes int64, err error) {
	tables := []string{"graph_entities", "graph_observations", "graph_relations"}

	sizeOf := func(ctx context.Context, tx pgx.Tx) (int64, error) {
		var total int64
		for _, t := range tables {
			var size int64
			if err := tx.QueryRow(ctx, `SELECT pg_total_relation_size($1)`, t).Scan(&size); err != nil {
				return 0, fmt.Errorf("size of %s: %w", t, err)
			}
			total += size
		}
		return total, nil
	}

	err = s.run(ctx, "compact", func(ctx context.Context, tx pgx.Tx) error {
		before, sizeErr := sizeOf(ctx, tx)
		if sizeErr != nil {
			return sizeErr
		}
		beforeBytes = before
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	// VACUUM cannot run inside a transaction block; it runs on the bare
	// pool connection rather than through tenant.Context.
	for _, t := range tables {
		if _, vacErr := s.pool.Exec(ctx, fmt.Sprintf("VACUUM ANALYZE %s", t)); vacErr != nil {
			return beforeBytes, 0, graph.NewStoreError("compact", graph.KindIoError, vacErr)
		}
	}

	err = s.run(ctx, "compact", func(ctx context.Context, tx pgx.Tx) error {
		after, sizeErr := sizeOf(ctx, tx)
		if sizeErr != nil {
			return sizeErr
		}
		afterBytes = after
		return nil
	})
	if err != nil {
		return beforeBytes, 0, err
	}
	return beforeBytes, afterBytes, nil
}
