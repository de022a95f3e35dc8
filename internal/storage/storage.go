package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgres creates a new connection pool to PostgreSQL.
func NewPostgres(dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

// txContextKey is the context key TenantContext uses to carry the
// request-scoped, RLS-scoped transaction down to the repository layer.
type txContextKey string

// TxKey is the context key the per-request transaction is stored under.
const TxKey txContextKey = "storage_tx"

// GetTx extracts the current request's transaction, if TenantContext (or
// WithTenantContext/WithoutRLS directly) has set one, or nil otherwise.
// Repositories use this to run every statement inside the RLS-scoped
// transaction the HTTP middleware already opened, rather than acquiring
// a fresh pool connection per call.
func GetTx(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(TxKey).(pgx.Tx)
	return tx
}

// WithTenantContext opens a transaction, sets the app.current_tenant
// session variable for the duration of that transaction so every
// tenant_isolation RLS policy sees it, then runs fn. The transaction
// commits if fn returns nil and rolls back otherwise. fn's own error is
// returned as is (a rollback error is not reported); the commit error is
// returned only when fn succeeded.
func WithTenantContext(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID.String()); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("set tenant session variable: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WithoutRLS opens a transaction with no app.current_tenant session
// variable set, so every tenant_isolation policy falls back to its
// permissive-when-unset branch. Used by operator tooling and background
// jobs that must see every tenant's rows.
func WithoutRLS(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ExecInTenantContext is a convenience wrapper around WithTenantContext
// for a single statement, for callers that don't need a full closure.
func ExecInTenantContext(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, sql string, args ...interface{}) error {
	return WithTenantContext(ctx, pool, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql, args...)
		return err
	})
}
