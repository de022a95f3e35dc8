package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// Organizations implements repo.Organizations over pgx.
type Organizations struct{ pool *pgxpool.Pool }

// NewOrganizations builds an Organizations repository over pool.
func NewOrganizations(pool *pgxpool.Pool) *Organizations { return &Organizations{pool: pool} }

func (r *Organizations) FindByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM organizations WHERE id = $1`, id)
	var o domain.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (r *Organizations) Insert(ctx context.Context, org *domain.Organization) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO organizations (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Name, org.Status, org.CreatedAt, org.UpdatedAt)
	return mapErr(err)
}

func (r *Organizations) Update(ctx context.Context, org *domain.Organization) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE organizations SET name = $2, status = $3, updated_at = $4
		WHERE id = $1`,
		org.ID, org.Name, org.Status, org.UpdatedAt)
	return checkAffected(tag, err)
}
