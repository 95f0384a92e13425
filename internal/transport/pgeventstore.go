package transport

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRPCEvents = `
CREATE TABLE IF NOT EXISTS rpc_events (
    id         BIGSERIAL PRIMARY KEY,
    stream_id  TEXT      NOT NULL,
    payload    BYTEA     NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS rpc_events_stream_id_idx ON rpc_events (stream_id, id);
`

// MigratePgEventStore creates the rpc_events table used by [PgEventStore].
func MigratePgEventStore(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlRPCEvents); err != nil {
		return fmt.Errorf("transport migrate: %w", err)
	}
	return nil
}

// PgEventStore is a durable [EventStore] backed by a relational table,
// required for replay correctness across process restarts.
type PgEventStore struct {
	pool *pgxpool.Pool
}

// NewPgEventStore returns a PgEventStore over pool.
func NewPgEventStore(pool *pgxpool.Pool) *PgEventStore {
	return &PgEventStore{pool: pool}
}

// Append implements [EventStore].
func (s *PgEventStore) Append(ctx context.Context, streamID string, payload []byte) (int64, error) {
	const q = `INSERT INTO rpc_events (stream_id, payload) VALUES ($1, $2) RETURNING id`
	var id int64
	if err := s.pool.QueryRow(ctx, q, streamID, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("transport: append event: %w", err)
	}
	return id, nil
}

// StreamIDForEvent implements [EventStore].
func (s *PgEventStore) StreamIDForEvent(ctx context.Context, eventID int64) (string, error) {
	const q = `SELECT stream_id FROM rpc_events WHERE id = $1`
	var streamID string
	err := s.pool.QueryRow(ctx, q, eventID).Scan(&streamID)
	if err == pgx.ErrNoRows {
		return "", ErrEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("transport: stream id for event: %w", err)
	}
	return streamID, nil
}

// ReplayAfter implements [EventStore].
func (s *PgEventStore) ReplayAfter(ctx context.Context, streamID string, afterEventID int64, send func(eventID int64, payload []byte) error) error {
	const q = `SELECT id, payload FROM rpc_events WHERE stream_id = $1 AND id > $2 ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, q, streamID, afterEventID)
	if err != nil {
		return fmt.Errorf("transport: replay events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("transport: scan replayed event: %w", err)
		}
		if err := send(id, payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ EventStore = (*PgEventStore)(nil)
