package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// VerificationTokens implements repo.VerificationTokens over pgx.
type VerificationTokens struct{ pool *pgxpool.Pool }

// NewVerificationTokens builds a VerificationTokens repository over pool.
func NewVerificationTokens(pool *pgxpool.Pool) *VerificationTokens {
	return &VerificationTokens{pool: pool}
}

const verificationTokenColumns = `id, tenant_id, user_id, email, role, kind, token_hash,
	expires_at, consumed_at, created_at`

func scanVerificationToken(row interface {
	Scan(dest ...any) error
}) (*domain.VerificationToken, error) {
	var t domain.VerificationToken
	if err := row.Scan(&t.ID, &t.TenantID, &t.UserID, &t.Email, &t.Role, &t.Kind, &t.TokenHash,
		&t.ExpiresAt, &t.ConsumedAt, &t.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *VerificationTokens) Insert(ctx context.Context, t *domain.VerificationToken) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO verification_tokens (id, tenant_id, user_id, email, role, kind, token_hash,
			expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.TenantID, t.UserID, t.Email, t.Role, t.Kind, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return mapErr(err)
}

func (r *VerificationTokens) FindByHash(ctx context.Context, tenantID uuid.UUID, kind domain.VerificationTokenKind, tokenHash string) (*domain.VerificationToken, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+verificationTokenColumns+`
		FROM verification_tokens WHERE tenant_id = $1 AND kind = $2 AND token_hash = $3`,
		tenantID, kind, tokenHash)
	return scanVerificationToken(row)
}

func (r *VerificationTokens) Consume(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	return checkAffected(conn(ctx, r.pool).Exec(ctx, `
		UPDATE verification_tokens SET consumed_at = $3
		WHERE id = $1 AND tenant_id = $2 AND consumed_at IS NULL`,
		id, tenantID, at))
}

func (r *VerificationTokens) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM verification_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
