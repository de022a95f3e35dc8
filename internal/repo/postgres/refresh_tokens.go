package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// RefreshTokens implements repo.RefreshTokens over pgx.
type RefreshTokens struct{ pool *pgxpool.Pool }

// NewRefreshTokens builds a RefreshTokens repository over pool.
func NewRefreshTokens(pool *pgxpool.Pool) *RefreshTokens { return &RefreshTokens{pool: pool} }

const refreshTokenColumns = `id, user_id, tenant_id, family_id, token_hash, device_fingerprint,
	user_agent, ip, expires_at, revoked_at, revoked_reason, created_at`

func scanRefreshToken(row interface {
	Scan(dest ...any) error
}) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TenantID, &t.FamilyID, &t.TokenHash,
		&t.DeviceFingerprint, &t.UserAgent, &t.IP, &t.ExpiresAt, &t.RevokedAt,
		&t.RevokedReason, &t.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *RefreshTokens) FindByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+refreshTokenColumns+`
		FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	return scanRefreshToken(row)
}

func (r *RefreshTokens) Insert(ctx context.Context, t *domain.RefreshToken) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, tenant_id, family_id, token_hash,
			device_fingerprint, user_agent, ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.UserID, t.TenantID, t.FamilyID, t.TokenHash,
		t.DeviceFingerprint, t.UserAgent, t.IP, t.ExpiresAt, t.CreatedAt)
	return mapErr(err)
}

// Rotate is the linearizable compare-and-swap the refresh-token family
// protocol depends on: the conditional WHERE revoked_at IS NULL means at
// most one concurrent caller's UPDATE touches the row, so RowsAffected
// tells the caller whether it won the race or lost it to a reuse/replay.
func (r *RefreshTokens) Rotate(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $3, revoked_reason = $4
		WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL AND expires_at > $3`,
		id, tenantID, now, domain.RevokedReasonRotated)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RefreshTokens) RevokeFamily(ctx context.Context, tenantID, familyID uuid.UUID, reason domain.RefreshTokenRevokedReason, at time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $3, revoked_reason = $4
		WHERE tenant_id = $1 AND family_id = $2 AND revoked_at IS NULL`,
		tenantID, familyID, at, reason)
	return mapErr(err)
}

func (r *RefreshTokens) RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID, reason domain.RefreshTokenRevokedReason, at time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $3, revoked_reason = $4
		WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		tenantID, userID, at, reason)
	return mapErr(err)
}

func (r *RefreshTokens) FamilyFirstCreatedAt(ctx context.Context, tenantID, familyID uuid.UUID) (time.Time, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT MIN(created_at) FROM refresh_tokens WHERE tenant_id = $1 AND family_id = $2`,
		tenantID, familyID)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		return time.Time{}, mapErr(err)
	}
	if t.IsZero() {
		return time.Time{}, repo.ErrNotFound
	}
	return t, nil
}

func (r *RefreshTokens) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
