// Package service dispatches one session's JSON-RPC messages against the
// graph/document stores scoped to that session's tenant, and assembles
// targeted-context retrieval packs on request.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memorybank/contextgraph/pkg/docstore"
	"github.com/memorybank/contextgraph/pkg/graph"
	"github.com/memorybank/contextgraph/pkg/graph/filestore"
	"github.com/memorybank/contextgraph/pkg/graph/pgstore"
	"github.com/memorybank/contextgraph/pkg/retrieval"
)

// TenantStores bundles the three collaborators a tenant's requests are
// dispatched against.
type TenantStores struct {
	Graph     graph.GraphStore
	Docs      docstore.Store
	Retrieval *retrieval.Engine
}

// StoreFactory returns the (possibly cached) [TenantStores] for a
// (userID, projectID) pair, constructing and initializing them on first use.
type StoreFactory interface {
	ForTenant(ctx context.Context, userID, projectID string) (*TenantStores, error)
	Close() error
}

// tenantKey identifies one cache entry.
type tenantKey struct{ userID, projectID string }

// FileStoreFactory roots each tenant's store under dataDir/userID/projectID,
// one [filestore.Backend] plus one [docstore.PosixStore] per tenant,
// both wrapped with the shared instrumentation decorators.
type FileStoreFactory struct {
	dataDir string

	mu    sync.Mutex
	cache map[tenantKey]*TenantStores
}

// NewFileStoreFactory returns a factory rooted at dataDir.
func NewFileStoreFactory(dataDir string) *FileStoreFactory {
	return &FileStoreFactory{dataDir: dataDir, cache: make(map[tenantKey]*TenantStores)}
}

// ForTenant implements [StoreFactory].
func (f *FileStoreFactory) ForTenant(ctx context.Context, userID, projectID string) (*TenantStores, error) {
	key := tenantKey{userID, projectID}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.cache[key]; ok {
		return ts, nil
	}

	root := filepath.Join(f.dataDir, sanitizeTenantSegment(userID), sanitizeTenantSegment(projectID))
	graphDir := filepath.Join(root, "graph")
	docsDir := filepath.Join(root, "docs")

	backend, err := filestore.New(graphDir)
	if err != nil {
		return nil, fmt.Errorf("service: new file graph store for %s/%s: %w", userID, projectID, err)
	}
	if err := backend.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("service: initialize file graph store for %s/%s: %w", userID, projectID, err)
	}

	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return nil, fmt.Errorf("service: create doc dir for %s/%s: %w", userID, projectID, err)
	}
	posix, err := docstore.NewPosixStore(docsDir)
	if err != nil {
		return nil, fmt.Errorf("service: new posix doc store for %s/%s: %w", userID, projectID, err)
	}

	gs := graph.Instrument(backend, nil, "file")
	ds := docstore.Instrument(posix, nil)

	ts := &TenantStores{Graph: gs, Docs: ds, Retrieval: retrieval.NewEngine(gs, ds)}
	f.cache[key] = ts
	return ts, nil
}

// Close is a no-op: the file backend holds no long-lived handles beyond
// per-call file descriptors.
func (f *FileStoreFactory) Close() error { return nil }

// sanitizeTenantSegment defends against a tenant id that happens to contain
// path separators or traversal sequences reaching the filesystem.
func sanitizeTenantSegment(s string) string {
	return filepath.Base(filepath.Clean("/" + s))
}

// RelationalStoreFactory shares one [pgxpool.Pool] across every tenant,
// handing each (userID, projectID) pair its own [pgstore.Store] and
// [docstore.PgStore] built over that shared pool — row-level security
// policies, not separate connections, provide the isolation.
type RelationalStoreFactory struct {
	pool       *pgxpool.Pool
	sharedPool bool

	mu    sync.Mutex
	cache map[tenantKey]*TenantStores
}

// NewRelationalStoreFactory connects to dsn with a pool bounded by
// maxConns and returns a ready factory.
func NewRelationalStoreFactory(ctx context.Context, dsn string, maxConns int) (*RelationalStoreFactory, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("service: parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("service: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("service: ping postgres: %w", err)
	}
	return &RelationalStoreFactory{pool: pool, cache: make(map[tenantKey]*TenantStores)}, nil
}

// NewRelationalStoreFactoryWithPool builds a factory over an already-open
// pool, e.g. one shared with [authgate.NewPgStore] in the composition root.
// The returned factory's Close is a no-op: the caller owns pool's lifetime.
func NewRelationalStoreFactoryWithPool(pool *pgxpool.Pool) *RelationalStoreFactory {
	return &RelationalStoreFactory{pool: pool, cache: make(map[tenantKey]*TenantStores), sharedPool: true}
}

// Pool exposes the underlying pool so the composition root can reuse it for
// collaborators outside this package's concern (e.g. the auth credential
// store).
func (f *RelationalStoreFactory) Pool() *pgxpool.Pool { return f.pool }

// ForTenant implements [StoreFactory].
func (f *RelationalStoreFactory) ForTenant(ctx context.Context, userID, projectID string) (*TenantStores, error) {
	key := tenantKey{userID, projectID}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.cache[key]; ok {
		return ts, nil
	}

	graphStore, err := pgstore.NewStoreWithPool(ctx, f.pool, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("service: new relational graph store for %s/%s: %w", userID, projectID, err)
	}
	if err := docstore.MigrateDocuments(ctx, f.pool); err != nil {
		return nil, fmt.Errorf("service: migrate documents for %s/%s: %w", userID, projectID, err)
	}
	docs := docstore.NewPgStore(f.pool, userID, projectID)

	gs := graph.Instrument(graphStore, nil, "relational")
	ds := docstore.Instrument(docs, nil)

	ts := &TenantStores{Graph: gs, Docs: ds, Retrieval: retrieval.NewEngine(gs, ds)}
	f.cache[key] = ts
	return ts, nil
}

// Close releases the pool, unless it was supplied externally via
// [NewRelationalStoreFactoryWithPool].
func (f *RelationalStoreFactory) Close() error {
	if !f.sharedPool {
		f.pool.Close()
	}
	return nil
}
