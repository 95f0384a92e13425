package authgate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    key_hash     TEXT         PRIMARY KEY,
    user_id      TEXT         NOT NULL,
    project_id   TEXT         NOT NULL,
    scopes       TEXT[]       NOT NULL DEFAULT '{}',
    rate_limit   INTEGER      NOT NULL DEFAULT 60,
    revoked_at   TIMESTAMPTZ,
    expires_at   TIMESTAMPTZ,
    last_used_at TIMESTAMPTZ
);
`

// Migrate creates the api_keys table used by [PgStore]. api_keys is not
// subject to row-level security: it is consulted before a tenant is known,
// and is keyed by credential hash rather than project id.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlAPIKeys); err != nil {
		return fmt.Errorf("authgate migrate: %w", err)
	}
	return nil
}

// PgStore is a [Store] backed by the api_keys table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a PgStore over pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Lookup implements [Store].
func (s *PgStore) Lookup(ctx context.Context, credentialHash string) (Record, error) {
	const q = `
		SELECT user_id, project_id, scopes, rate_limit, revoked_at, expires_at
		FROM api_keys
		WHERE key_hash = $1`

	var rec Record
	err := s.pool.QueryRow(ctx, q, credentialHash).Scan(
		&rec.UserID, &rec.ProjectID, &rec.Scopes, &rec.RateLimit, &rec.RevokedAt, &rec.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("authgate: lookup: %w", err)
	}
	return rec, nil
}

// TouchLastSeen implements [Store].
func (s *PgStore) TouchLastSeen(ctx context.Context, credentialHash string, at time.Time) error {
	const q = `UPDATE api_keys SET last_used_at = $2 WHERE key_hash = $1`
	_, err := s.pool.Exec(ctx, q, credentialHash, at)
	if err != nil {
		return fmt.Errorf("authgate: touch last-seen: %w", err)
	}
	return nil
}

var _ Store = (*PgStore)(nil)
