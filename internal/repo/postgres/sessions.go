package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// Sessions implements repo.Sessions over pgx.
type Sessions struct{ pool *pgxpool.Pool }

// NewSessions builds a Sessions repository over pool.
func NewSessions(pool *pgxpool.Pool) *Sessions { return &Sessions{pool: pool} }

const sessionColumns = `id, user_id, tenant_id, session_token, device_fingerprint,
	user_agent, ip, risk_score, last_activity, expires_at, created_at`

func scanSession(row interface {
	Scan(dest ...any) error
}) (*domain.Session, error) {
	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.TenantID, &s.SessionToken, &s.DeviceFingerprint,
		&s.UserAgent, &s.IP, &s.RiskScore, &s.LastActivity, &s.ExpiresAt, &s.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *Sessions) FindByToken(ctx context.Context, tokenHash string) (*domain.Session, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+sessionColumns+`
		FROM sessions WHERE session_token = $1`, tokenHash)
	return scanSession(row)
}

func (r *Sessions) Insert(ctx context.Context, s *domain.Session) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sessions (id, user_id, tenant_id, session_token, device_fingerprint,
			user_agent, ip, risk_score, last_activity, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.UserID, s.TenantID, s.SessionToken, s.DeviceFingerprint,
		s.UserAgent, s.IP, s.RiskScore, s.LastActivity, s.ExpiresAt, s.CreatedAt)
	return mapErr(err)
}

func (r *Sessions) UpdateLastActivity(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET last_activity = $3 WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, at)
	return checkAffected(tag, err)
}

func (r *Sessions) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM sessions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return checkAffected(tag, err)
}

func (r *Sessions) DeleteAllForUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM sessions WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	return mapErr(err)
}

func (r *Sessions) ListByUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*domain.Session, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+sessionColumns+`
		FROM sessions WHERE tenant_id = $1 AND user_id = $2 ORDER BY last_activity DESC`,
		tenantID, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
