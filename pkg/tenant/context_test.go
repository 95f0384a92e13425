package tenant

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MEMSRV_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEMSRV_TEST_POSTGRES_DSN not set; skipping integration test")
	}
	return dsn
}

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestContext_Run_CommitsOnSuccess(t *testing.T) {
	pool := newTestPool(t)
	tc := New(pool)

	var seenUser string
	err := tc.Run(context.Background(), "user-1", "project-1", func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT current_setting('app.current_user_id', true)`).Scan(&seenUser)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seenUser != "user-1" {
		t.Errorf("expected session variable to be visible inside the transaction, got %q", seenUser)
	}
}

func TestContext_Run_RollsBackOnError(t *testing.T) {
	pool := newTestPool(t)
	tc := New(pool)

	wantErr := errTest{}
	err := tc.Run(context.Background(), "user-1", "project-1", func(ctx context.Context, tx pgx.Tx) error {
		return wantErr
	})
	if err == nil {
		t.Fatalf("expected Run to surface the function's error")
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
