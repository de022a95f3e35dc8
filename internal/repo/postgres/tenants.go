package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// Tenants implements repo.Tenants over pgx. Branding and AuthConfig are
// typed structs in domain.Tenant, stored as jsonb columns.
type Tenants struct{ pool *pgxpool.Pool }

// NewTenants builds a Tenants repository over pool.
func NewTenants(pool *pgxpool.Pool) *Tenants { return &Tenants{pool: pool} }

func scanTenant(row interface {
	Scan(dest ...any) error
}) (*domain.Tenant, error) {
	var t domain.Tenant
	var branding, authConfig []byte
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.Slug, &t.CustomDomain,
		&branding, &authConfig, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	if len(branding) > 0 {
		if err := json.Unmarshal(branding, &t.Branding); err != nil {
			return nil, fmt.Errorf("postgres: decoding tenant branding: %w", err)
		}
	}
	if len(authConfig) > 0 {
		if err := json.Unmarshal(authConfig, &t.AuthConfig); err != nil {
			return nil, fmt.Errorf("postgres: decoding tenant auth config: %w", err)
		}
	}
	return &t, nil
}

func (r *Tenants) FindByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, organization_id, slug, custom_domain, branding, auth_config, status, created_at, updated_at
		FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (r *Tenants) FindBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, organization_id, slug, custom_domain, branding, auth_config, status, created_at, updated_at
		FROM tenants WHERE slug = $1`, slug)
	return scanTenant(row)
}

func (r *Tenants) Insert(ctx context.Context, t *domain.Tenant) error {
	branding, err := json.Marshal(t.Branding)
	if err != nil {
		return fmt.Errorf("postgres: encoding tenant branding: %w", err)
	}
	authConfig, err := json.Marshal(t.AuthConfig)
	if err != nil {
		return fmt.Errorf("postgres: encoding tenant auth config: %w", err)
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO tenants (id, organization_id, slug, custom_domain, branding, auth_config, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.OrganizationID, t.Slug, t.CustomDomain, branding, authConfig, t.Status, t.CreatedAt, t.UpdatedAt)
	return mapErr(err)
}

func (r *Tenants) Update(ctx context.Context, t *domain.Tenant) error {
	branding, err := json.Marshal(t.Branding)
	if err != nil {
		return fmt.Errorf("postgres: encoding tenant branding: %w", err)
	}
	authConfig, err := json.Marshal(t.AuthConfig)
	if err != nil {
		return fmt.Errorf("postgres: encoding tenant auth config: %w", err)
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE tenants
		SET custom_domain = $2, branding = $3, auth_config = $4, status = $5, updated_at = $6
		WHERE id = $1`,
		t.ID, t.CustomDomain, branding, authConfig, t.Status, t.UpdatedAt)
	return checkAffected(tag, err)
}

func (r *Tenants) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*domain.Tenant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, organization_id, slug, custom_domain, branding, auth_config, status, created_at, updated_at
		FROM tenants WHERE organization_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
