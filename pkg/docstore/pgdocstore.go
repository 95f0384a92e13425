package docstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memorybank/contextgraph/pkg/tenant"
)

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    project_id  TEXT         NOT NULL,
    path        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    is_dir      BOOLEAN      NOT NULL DEFAULT false,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (project_id, path)
);

ALTER TABLE documents ENABLE ROW LEVEL SECURITY;

DO $$ BEGIN
    CREATE POLICY documents_tenant_isolation ON documents
        USING (project_id = current_setting('app.current_project_id', true));
EXCEPTION WHEN duplicate_object THEN NULL; END $$;
`

// MigrateDocuments creates the documents table used by [PgStore].
func MigrateDocuments(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDocuments); err != nil {
		return fmt.Errorf("docstore migrate: %w", err)
	}
	return nil
}

// PgStore is a [Store] implementation keyed by (project_id, path), isolated
// via [tenant.Context] exactly like [pgstore.Store].
type PgStore struct {
	pool      *pgxpool.Pool
	tenant    *tenant.Context
	userID    string
	projectID string
}

// NewPgStore returns a PgStore scoped to (userID, projectID).
func NewPgStore(pool *pgxpool.Pool, userID, projectID string) *PgStore {
	return &PgStore{pool: pool, tenant: tenant.New(pool), userID: userID, projectID: projectID}
}

// Read implements [Store].
func (p *PgStore) Read(ctx context.Context, path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	var content string
	err := p.tenant.Run(ctx, p.userID, p.projectID, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT content FROM documents WHERE project_id = $1 AND path = $2`, p.projectID, path).Scan(&content)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Write implements [Store].
func (p *PgStore) Write(ctx context.Context, path, content string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	return p.tenant.Run(ctx, p.userID, p.projectID, func(ctx context.Context, tx pgx.Tx) error {
		const q = `
			INSERT INTO documents (project_id, path, content)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, path) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`
		_, err := tx.Exec(ctx, q, p.projectID, path, content)
		return err
	})
}

// List implements [Store].
func (p *PgStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := p.tenant.Run(ctx, p.userID, p.projectID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT path FROM documents WHERE project_id = $1 AND path LIKE $2 || '%' AND NOT is_dir ORDER BY path`, p.projectID, prefix)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var path string
			if err := rows.Scan(&path); err != nil {
				return err
			}
			out = append(out, path)
		}
		return rows.Err()
	})
	if out == nil {
		out = []string{}
	}
	return out, err
}

// IsDir implements [Store].
func (p *PgStore) IsDir(ctx context.Context, path string) (bool, error) {
	var isDir bool
	err := p.tenant.Run(ctx, p.userID, p.projectID, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT is_dir FROM documents WHERE project_id = $1 AND path = $2`, p.projectID, path).Scan(&isDir)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return err
	})
	return isDir, err
}

// Delete implements [Store].
func (p *PgStore) Delete(ctx context.Context, path string) error {
	return p.tenant.Run(ctx, p.userID, p.projectID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE project_id = $1 AND path = $2`, p.projectID, path)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

var _ Store = (*PgStore)(nil)
