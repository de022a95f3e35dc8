package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// Roles implements repo.Roles over pgx.
type Roles struct{ pool *pgxpool.Pool }

// NewRoles builds a Roles repository over pool.
func NewRoles(pool *pgxpool.Pool) *Roles { return &Roles{pool: pool} }

const roleColumns = `id, tenant_id, name, description, parent_role_id, is_system, permissions, constraints, created_at, updated_at`

func scanRole(row interface {
	Scan(dest ...any) error
}) (*domain.Role, error) {
	var r domain.Role
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.ParentRoleID,
		&r.IsSystem, &r.Permissions, &r.Constraints, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (r *Roles) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Role, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+`
		FROM roles WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanRole(row)
}

func (r *Roles) FindByName(ctx context.Context, tenantID uuid.UUID, name string) (*domain.Role, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+`
		FROM roles WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	return scanRole(row)
}

func (r *Roles) Insert(ctx context.Context, role *domain.Role) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO roles (id, tenant_id, name, description, parent_role_id, is_system, permissions, constraints, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		role.ID, role.TenantID, role.Name, role.Description, role.ParentRoleID,
		role.IsSystem, role.Permissions, role.Constraints, role.CreatedAt, role.UpdatedAt)
	return mapErr(err)
}

func (r *Roles) Update(ctx context.Context, role *domain.Role) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE roles SET name = $3, description = $4, parent_role_id = $5,
			permissions = $6, constraints = $7, updated_at = $8
		WHERE id = $1 AND tenant_id = $2`,
		role.ID, role.TenantID, role.Name, role.Description, role.ParentRoleID,
		role.Permissions, role.Constraints, role.UpdatedAt)
	return checkAffected(tag, err)
}

func (r *Roles) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM roles WHERE id = $1 AND tenant_id = $2 AND is_system = false`, id, tenantID)
	return checkAffected(tag, err)
}

func (r *Roles) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Role, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+roleColumns+`
		FROM roles WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// RoleAssignments implements repo.RoleAssignments over pgx.
type RoleAssignments struct{ pool *pgxpool.Pool }

// NewRoleAssignments builds a RoleAssignments repository over pool.
func NewRoleAssignments(pool *pgxpool.Pool) *RoleAssignments { return &RoleAssignments{pool: pool} }

func (r *RoleAssignments) ListByUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*domain.UserRoleAssignment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, user_id, tenant_id, role_id, granted_by, granted_at, expires_at, revoked_at, revoked_by
		FROM user_role_assignments WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.UserRoleAssignment
	for rows.Next() {
		var a domain.UserRoleAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.TenantID, &a.RoleID, &a.GrantedBy,
			&a.GrantedAt, &a.ExpiresAt, &a.RevokedAt, &a.RevokedBy); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *RoleAssignments) Insert(ctx context.Context, a *domain.UserRoleAssignment) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO user_role_assignments (id, user_id, tenant_id, role_id, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.TenantID, a.RoleID, a.GrantedBy, a.GrantedAt, a.ExpiresAt)
	return mapErr(err)
}

func (r *RoleAssignments) Revoke(ctx context.Context, tenantID, id uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE user_role_assignments SET revoked_at = $3, revoked_by = $4
		WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL`,
		id, tenantID, at, revokedBy)
	return checkAffected(tag, err)
}
