// Package postgres implements internal/repo's contracts over pgx/v5.
// Every tenant-scoped method parameterizes its query on tenant_id as the
// explicit enforcement layer; the HTTP-level SET LOCAL app.current_tenant
// (internal/api/middleware.TenantContext, internal/storage.WithTenantContext)
// is defense-in-depth on top of it, not a substitute for it.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/repo"
	"github.com/nullstack-id/identitycore/internal/storage"
)

// dbtx is the subset of pgxpool.Pool and pgx.Tx every repository needs.
// A method runs against the request's RLS-scoped transaction when one is
// present in context (the common case under internal/api), and falls
// back to a plain pool connection otherwise (migrations, background
// jobs, tests against a bare pool).
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func conn(ctx context.Context, pool *pgxpool.Pool) dbtx {
	if tx := storage.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}

// mapErr translates pgx's not-found/unique-violation signals into the
// repo package's sentinel errors so callers never see a driver type.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	if isUniqueViolation(err) {
		return repo.ErrConflict
	}
	return err
}

// checkAffected turns a zero-row UPDATE/DELETE into repo.ErrNotFound,
// the shape every contract method promises for a missing row.
func checkAffected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
