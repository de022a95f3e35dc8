package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// Organizations is the repository contract for the Organization aggregate.
// Organizations are not tenant-scoped themselves — they own tenants.
type Organizations interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
	Insert(ctx context.Context, org *domain.Organization) error
	Update(ctx context.Context, org *domain.Organization) error
}

// Tenants is the repository contract for the Tenant aggregate.
type Tenants interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	Insert(ctx context.Context, t *domain.Tenant) error
	Update(ctx context.Context, t *domain.Tenant) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*domain.Tenant, error)
}

// Users is the repository contract for the User aggregate. Every method
// here is tenant-scoped: there is deliberately no FindByEmail without a
// tenantID, since that would let an unscoped caller search across tenants.
type Users interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.User, error)
	FindByIdentifier(ctx context.Context, tenantID uuid.UUID, identifier string) (*domain.User, error)
	Insert(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, offset, limit int) ([]*domain.User, error)
}

// Roles is the repository contract for the Role aggregate (the RBAC DAG
// node).
type Roles interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Role, error)
	FindByName(ctx context.Context, tenantID uuid.UUID, name string) (*domain.Role, error)
	Insert(ctx context.Context, r *domain.Role) error
	Update(ctx context.Context, r *domain.Role) error
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Role, error)
}

// RoleAssignments is the repository contract for UserRoleAssignment rows.
type RoleAssignments interface {
	ListByUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*domain.UserRoleAssignment, error)
	Insert(ctx context.Context, a *domain.UserRoleAssignment) error
	Revoke(ctx context.Context, tenantID, id uuid.UUID, revokedBy uuid.UUID, at time.Time) error
}

// RefreshTokens is the repository contract for refresh-token family rows.
// Rotate is the linearizable conditional-update primitive the family
// rotation protocol is built on: it must only ever succeed for exactly one
// caller racing on the same row.
type RefreshTokens interface {
	FindByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	Insert(ctx context.Context, t *domain.RefreshToken) error
	// Rotate marks id revoked with reason "rotated" only if it is still
	// live (revoked_at IS NULL), atomically. It reports whether the
	// caller won the race: false means the row was already revoked or
	// expired by the time this call ran, which the caller must treat as
	// reuse/replay.
	Rotate(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (won bool, err error)
	RevokeFamily(ctx context.Context, tenantID, familyID uuid.UUID, reason domain.RefreshTokenRevokedReason, at time.Time) error
	RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID, reason domain.RefreshTokenRevokedReason, at time.Time) error
	FamilyFirstCreatedAt(ctx context.Context, tenantID, familyID uuid.UUID) (time.Time, error)
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// RevokedTokens is the repository contract for the access-token
// revocation index, keyed by jti.
type RevokedTokens interface {
	IsRevoked(ctx context.Context, tenantID uuid.UUID, jti string) (bool, error)
	Insert(ctx context.Context, t *domain.RevokedToken) error
	InsertAllActiveForUser(ctx context.Context, tenantID, userID uuid.UUID, reason string, at time.Time) error
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// Sessions is the repository contract for the Session aggregate.
type Sessions interface {
	FindByToken(ctx context.Context, tokenHash string) (*domain.Session, error)
	Insert(ctx context.Context, s *domain.Session) error
	UpdateLastActivity(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	DeleteAllForUser(ctx context.Context, tenantID, userID uuid.UUID) error
	ListByUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*domain.Session, error)
}

// AuditEvents is the repository contract for the hash-chained audit log.
type AuditEvents interface {
	LastForTenant(ctx context.Context, tenantID uuid.UUID) (*domain.AuditEvent, error)
	Insert(ctx context.Context, e *domain.AuditEvent) error
	ListRange(ctx context.Context, tenantID uuid.UUID, fromSeq, toSeq int64) ([]*domain.AuditEvent, error)
}

// VerificationTokens is the repository contract for the single-use token
// store backing password reset, email verification, and invitation.
type VerificationTokens interface {
	Insert(ctx context.Context, t *domain.VerificationToken) error
	FindByHash(ctx context.Context, tenantID uuid.UUID, kind domain.VerificationTokenKind, tokenHash string) (*domain.VerificationToken, error)
	Consume(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}
