// Package tenant enforces per-(user, project) isolation over a shared
// Postgres connection pool. Every graph and document query on tenant data
// runs through [Context.Run], which sets transaction-scoped session
// variables that database-side row-level security policies key off of.
package tenant

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Context wraps a [pgxpool.Pool] and propagates (userID, projectID) into
// every transaction it runs.
type Context struct {
	pool *pgxpool.Pool
}

// New returns a Context over pool.
func New(pool *pgxpool.Pool) *Context {
	return &Context{pool: pool}
}

// Run begins a transaction, sets app.current_user_id and
// app.current_project_id as transaction-scoped session variables (via
// set_config(..., is_local := true), never session-scoped, so pooled
// connections never leak a tenant's identity to the next borrower), invokes
// fn with the transaction, and commits on success or rolls back on any
// error — including a panic, which is re-raised after rollback.
//
// userID and projectID are always passed as query parameters; they must
// never be formatted into the SQL string.
func (c *Context) Run(ctx context.Context, userID, projectID string, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tenant: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	if _, err = tx.Exec(ctx, `SELECT set_config('app.current_user_id', $1, true)`, userID); err != nil {
		return fmt.Errorf("tenant: set current_user_id: %w", err)
	}
	if _, err = tx.Exec(ctx, `SELECT set_config('app.current_project_id', $1, true)`, projectID); err != nil {
		return fmt.Errorf("tenant: set current_project_id: %w", err)
	}

	err = fn(ctx, tx)
	return err
}
