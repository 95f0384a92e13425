package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memorybank/contextgraph/pkg/graph"
	"github.com/memorybank/contextgraph/pkg/tenant"
)

// Store is the relational [graph.GraphStore] implementation. One Store is
// scoped to a single (userID, projectID) pair — every operation runs inside
// a [tenant.Context] transaction carrying that pair, so row-level security
// policies on the graph_* tables see the correct project_id for the
// statement's duration only.
type Store struct {
	pool       *pgxpool.Pool
	tenant     *tenant.Context
	userID     string
	projectID  string
	sharedPool bool
}

// NewStore connects to dsn, runs [Migrate], and returns a Store scoped to
// (userID, projectID). Each call opens its own connection pool; callers
// serving many tenants against the same database should prefer
// [NewStoreWithPool] over one pool per tenant.
func NewStore(ctx context.Context, dsn, userID, projectID string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, graph.NewStoreError("new", graph.KindIoError, fmt.Errorf("connect: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, graph.NewStoreError("new", graph.KindIoError, fmt.Errorf("ping: %w", err))
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, graph.NewStoreError("new", graph.KindIoError, err)
	}
	return &Store{pool: pool, tenant: tenant.New(pool), userID: userID, projectID: projectID}, nil
}

// NewStoreWithPool returns a Store scoped to (userID, projectID) over an
// already-open pool, running [Migrate] against it. Close on the returned
// Store is a no-op over the shared pool — callers own the pool's lifetime.
func NewStoreWithPool(ctx context.Context, pool *pgxpool.Pool, userID, projectID string) (*Store, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, graph.NewStoreError("new", graph.KindIoError, err)
	}
	return &Store{pool: pool, tenant: tenant.New(pool), userID: userID, projectID: projectID, sharedPool: true}, nil
}

// Close releases the underlying connection pool. A no-op when the Store
// was built via [NewStoreWithPool] over a pool it does not own.
func (s *Store) Close() {
	if !s.sharedPool {
		s.pool.Close()
	}
}

// run is a thin wrapper around tenant.Context.Run bound to this store's
// tenant pair, translating any non-*StoreError failure into an IoError.
func (s *Store) run(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	err := s.tenant.Run(ctx, s.userID, s.projectID, fn)
	if err == nil {
		return nil
	}
	if se, ok := err.(*graph.StoreError); ok {
		return se
	}
	return graph.NewStoreError(op, graph.KindIoError, err)
}

// Initialize is a no-op beyond the migration already run by [NewStore]: the
// relational backend has no marker record, schema presence is the marker.
func (s *Store) Initialize(ctx context.Context) error { return nil }

// Snapshot materializes a full in-memory [graph.Snapshot] by reading every
// row scoped to this store's project. The relational backend has no
// generation-tag cache — every read reflects the latest committed state.
func (s *Store) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	return s.Rebuild(ctx)
}

// Rebuild is equivalent to Snapshot for the relational backend: there is no
// derived cache to invalidate, since every query already reads current
// committed rows.
func (s *Store) Rebuild(ctx context.Context) (graph.Snapshot, error) {
	var snap graph.Snapshot
	err := s.run(ctx, "rebuild", func(ctx context.Context, tx pgx.Tx) error {
		built, err := s.loadSnapshot(ctx, tx)
		if err != nil {
			return err
		}
		snap = built
		return nil
	})
	return snap, err
}

func (s *Store) loadSnapshot(ctx context.Context, tx pgx.Tx) (graph.Snapshot, error) {
	snap := graph.Snapshot{
		Meta: graph.SnapshotMeta{
			Type: graph.MarkerType, Version: graph.SchemaVersion,
			StoreID: s.projectID, Source: "pgstore", CreatedAt: time.Now().UTC(),
		},
		Entities:     map[string]graph.Entity{},
		Observations: map[string]graph.Observation{},
		Relations:    map[string]graph.Relation{},
	}

	entityRows, err := tx.Query(ctx, `SELECT id, name, entity_type, attrs, created_at, updated_at FROM graph_entities`)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("load entities: %w", err)
	}
	entities, err := pgx.CollectRows(entityRows, scanEntity)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("scan entities: %w", err)
	}
	for _, e := range entities {
		snap.Entities[e.ID] = e
	}

	obsRows, err := tx.Query(ctx, `SELECT id, entity_id, content, source_kind, source_ref, created_at FROM graph_observations`)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("load observations: %w", err)
	}
	observations, err := pgx.CollectRows(obsRows, scanObservation)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("scan observations: %w", err)
	}
	for _, o := range observations {
		snap.Observations[o.ID] = o
	}

	relRows, err := tx.Query(ctx, `SELECT id, from_entity_id, to_entity_id, relation_type, created_at FROM graph_relations`)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("load relations: %w", err)
	}
	relations, err := pgx.CollectRows(relRows, scanRelation)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("scan relations: %w", err)
	}
	for _, r := range relations {
		snap.Relations[r.ID] = r
	}

	return snap, nil
}

func scanEntity(row pgx.CollectableRow) (graph.Entity, error) {
	var e graph.Entity
	var attrs map[string]any
	if err := row.Scan(&e.ID, &e.Name, &e.EntityType, &attrs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return graph.Entity{}, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	e.Attrs = attrs
	return e, nil
}

func scanObservation(row pgx.CollectableRow) (graph.Observation, error) {
	var o graph.Observation
	if err := row.Scan(&o.ID, &o.EntityID, &o.Text, &o.Source.Kind, &o.Source.Ref, &o.Timestamp); err != nil {
		return graph.Observation{}, err
	}
	return o, nil
}

func scanRelation(row pgx.CollectableRow) (graph.Relation, error) {
	var r graph.Relation
	if err := row.Scan(&r.ID, &r.FromID, &r.ToID, &r.RelationType, &r.CreatedAt); err != nil {
		return graph.Relation{}, err
	}
	return r, nil
}

var _ graph.GraphStore = (*Store)(nil)
