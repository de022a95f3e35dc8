package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// Users implements repo.Users over pgx.
type Users struct{ pool *pgxpool.Pool }

// NewUsers builds a Users repository over pool.
func NewUsers(pool *pgxpool.Pool) *Users { return &Users{pool: pool} }

const userColumns = `id, tenant_id, email, phone, email_verified, phone_verified,
	password_hash, password_changed_at, failed_login_attempts, locked_until,
	last_login_at, last_login_ip, mfa_enabled, mfa_secret, risk_score, status,
	profile, created_at, updated_at`

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var u domain.User
	var profile []byte
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Phone, &u.EmailVerified, &u.PhoneVerified,
		&u.PasswordHash, &u.PasswordChangedAt, &u.FailedLoginAttempts, &u.LockedUntil,
		&u.LastLoginAt, &u.LastLoginIP, &u.MFAEnabled, &u.MFASecret, &u.RiskScore, &u.Status,
		&profile, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &u.Profile); err != nil {
			return nil, fmt.Errorf("postgres: decoding user profile: %w", err)
		}
	}
	return &u, nil
}

func (r *Users) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+`
		FROM users WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanUser(row)
}

// FindByIdentifier matches on email or phone, since a user may carry
// either or both; the tenant-scoped unique index on each column is what
// guarantees this returns at most one row.
func (r *Users) FindByIdentifier(ctx context.Context, tenantID uuid.UUID, identifier string) (*domain.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+`
		FROM users WHERE tenant_id = $1 AND (email = $2 OR phone = $2) LIMIT 1`, tenantID, identifier)
	return scanUser(row)
}

func (r *Users) Insert(ctx context.Context, u *domain.User) error {
	profile, err := json.Marshal(u.Profile)
	if err != nil {
		return fmt.Errorf("postgres: encoding user profile: %w", err)
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, tenant_id, email, phone, email_verified, phone_verified,
			password_hash, password_changed_at, failed_login_attempts, locked_until,
			last_login_at, last_login_ip, mfa_enabled, mfa_secret, risk_score, status,
			profile, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		u.ID, u.TenantID, nullableText(u.Email), nullableText(u.Phone), u.EmailVerified, u.PhoneVerified,
		u.PasswordHash, u.PasswordChangedAt, u.FailedLoginAttempts, u.LockedUntil,
		u.LastLoginAt, u.LastLoginIP, u.MFAEnabled, u.MFASecret, u.RiskScore, u.Status,
		profile, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (r *Users) Update(ctx context.Context, u *domain.User) error {
	profile, err := json.Marshal(u.Profile)
	if err != nil {
		return fmt.Errorf("postgres: encoding user profile: %w", err)
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET
			email = $3, phone = $4, email_verified = $5, phone_verified = $6,
			password_hash = $7, password_changed_at = $8, failed_login_attempts = $9,
			locked_until = $10, last_login_at = $11, last_login_ip = $12,
			mfa_enabled = $13, mfa_secret = $14, risk_score = $15, status = $16,
			profile = $17, updated_at = $18
		WHERE id = $1 AND tenant_id = $2`,
		u.ID, u.TenantID, nullableText(u.Email), nullableText(u.Phone), u.EmailVerified, u.PhoneVerified,
		u.PasswordHash, u.PasswordChangedAt, u.FailedLoginAttempts, u.LockedUntil,
		u.LastLoginAt, u.LastLoginIP, u.MFAEnabled, u.MFASecret, u.RiskScore, u.Status,
		profile, u.UpdatedAt)
	return checkAffected(tag, err)
}

func (r *Users) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET status = $3 WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, domain.UserDeleted)
	return checkAffected(tag, err)
}

func (r *Users) ListByTenant(ctx context.Context, tenantID uuid.UUID, offset, limit int) ([]*domain.User, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+userColumns+`
		FROM users WHERE tenant_id = $1 ORDER BY created_at OFFSET $2 LIMIT $3`,
		tenantID, offset, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// nullableText maps an empty identifier to SQL NULL so the partial
// unique index on (tenant_id, email) / (tenant_id, phone) does not treat
// two phone-only users as colliding on an empty-string email.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
