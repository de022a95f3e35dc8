package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// AuditEvents implements repo.AuditEvents over pgx. Each tenant's rows
// form a hash chain ordered by sequence; LastForTenant is what callers
// use to fetch the previous link before computing the next hash.
type AuditEvents struct{ pool *pgxpool.Pool }

// NewAuditEvents builds an AuditEvents repository over pool.
func NewAuditEvents(pool *pgxpool.Pool) *AuditEvents { return &AuditEvents{pool: pool} }

const auditEventColumns = `id, sequence, tenant_id, actor_id, action, resource_type, resource_id,
	outcome, category, risk_level, ip, user_agent, session_id, request_id, details, prev_hash, hash, created_at`

func scanAuditEvent(row interface {
	Scan(dest ...any) error
}) (*domain.AuditEvent, error) {
	var e domain.AuditEvent
	var details []byte
	if err := row.Scan(&e.ID, &e.Sequence, &e.TenantID, &e.ActorID, &e.Action, &e.ResourceType,
		&e.ResourceID, &e.Outcome, &e.Category, &e.RiskLevel, &e.IP, &e.UserAgent, &e.SessionID,
		&e.RequestID, &details, &e.PrevHash, &e.Hash, &e.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("postgres: decoding audit event details: %w", err)
		}
	}
	return &e, nil
}

func (r *AuditEvents) LastForTenant(ctx context.Context, tenantID uuid.UUID) (*domain.AuditEvent, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+auditEventColumns+`
		FROM audit_events WHERE tenant_id = $1 ORDER BY sequence DESC LIMIT 1`, tenantID)
	e, err := scanAuditEvent(row)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, repo.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *AuditEvents) Insert(ctx context.Context, e *domain.AuditEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("postgres: encoding audit event details: %w", err)
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_events (id, sequence, tenant_id, actor_id, action, resource_type, resource_id,
			outcome, category, risk_level, ip, user_agent, session_id, request_id, details, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.Sequence, e.TenantID, e.ActorID, e.Action, e.ResourceType, e.ResourceID,
		e.Outcome, e.Category, e.RiskLevel, e.IP, e.UserAgent, e.SessionID, e.RequestID,
		details, e.PrevHash, e.Hash, e.CreatedAt)
	return mapErr(err)
}

func (r *AuditEvents) ListRange(ctx context.Context, tenantID uuid.UUID, fromSeq, toSeq int64) ([]*domain.AuditEvent, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+auditEventColumns+`
		FROM audit_events WHERE tenant_id = $1 AND sequence BETWEEN $2 AND $3 ORDER BY sequence`,
		tenantID, fromSeq, toSeq)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
