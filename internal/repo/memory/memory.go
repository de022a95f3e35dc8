// Package memory provides in-process fakes of the internal/repo contracts,
// so property and unit tests can exercise tenant isolation, refresh-token
// rotation races, and audit-chain append/verify without a live Postgres
// connection.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// Store is a single in-memory backing store shared by every aggregate
// repository it constructs, mirroring one Postgres database.
type Store struct {
	mu sync.Mutex

	orgs    map[uuid.UUID]*domain.Organization
	tenants map[uuid.UUID]*domain.Tenant

	users     map[uuid.UUID]*domain.User // keyed by user id
	usersByTU map[tenantIdentifier]uuid.UUID

	roles     map[uuid.UUID]*domain.Role
	rolesByTN map[tenantName]uuid.UUID

	assignments map[uuid.UUID]*domain.UserRoleAssignment

	refreshTokens     map[uuid.UUID]*domain.RefreshToken
	refreshByHash     map[string]uuid.UUID

	revokedTokens map[revokedKey]*domain.RevokedToken

	sessions       map[uuid.UUID]*domain.Session
	sessionsByHash map[string]uuid.UUID

	auditEvents map[uuid.UUID][]*domain.AuditEvent // keyed by tenant, ordered by sequence

	verificationTokens       map[uuid.UUID]*domain.VerificationToken
	verificationTokensByHash map[verificationKey]uuid.UUID
}

type verificationKey struct {
	tenant uuid.UUID
	kind   domain.VerificationTokenKind
	hash   string
}

type tenantIdentifier struct {
	tenant uuid.UUID
	ident  string
}

type tenantName struct {
	tenant uuid.UUID
	name   string
}

type revokedKey struct {
	tenant uuid.UUID
	jti    string
}

// NewStore constructs an empty in-memory backing store.
func NewStore() *Store {
	return &Store{
		orgs:           map[uuid.UUID]*domain.Organization{},
		tenants:        map[uuid.UUID]*domain.Tenant{},
		users:          map[uuid.UUID]*domain.User{},
		usersByTU:      map[tenantIdentifier]uuid.UUID{},
		roles:          map[uuid.UUID]*domain.Role{},
		rolesByTN:      map[tenantName]uuid.UUID{},
		assignments:    map[uuid.UUID]*domain.UserRoleAssignment{},
		refreshTokens:  map[uuid.UUID]*domain.RefreshToken{},
		refreshByHash:  map[string]uuid.UUID{},
		revokedTokens:  map[revokedKey]*domain.RevokedToken{},
		sessions:       map[uuid.UUID]*domain.Session{},
		sessionsByHash: map[string]uuid.UUID{},
		auditEvents:    map[uuid.UUID][]*domain.AuditEvent{},

		verificationTokens:       map[uuid.UUID]*domain.VerificationToken{},
		verificationTokensByHash: map[verificationKey]uuid.UUID{},
	}
}

// Organizations returns the Organizations repository over this store.
func (s *Store) Organizations() repo.Organizations { return (*organizationsRepo)(s) }

// Tenants returns the Tenants repository over this store.
func (s *Store) Tenants() repo.Tenants { return (*tenantsRepo)(s) }

// Users returns the Users repository over this store.
func (s *Store) Users() repo.Users { return (*usersRepo)(s) }

// Roles returns the Roles repository over this store.
func (s *Store) Roles() repo.Roles { return (*rolesRepo)(s) }

// RoleAssignments returns the RoleAssignments repository over this store.
func (s *Store) RoleAssignments() repo.RoleAssignments { return (*roleAssignmentsRepo)(s) }

// RefreshTokens returns the RefreshTokens repository over this store.
func (s *Store) RefreshTokens() repo.RefreshTokens { return (*refreshTokensRepo)(s) }

// RevokedTokens returns the RevokedTokens repository over this store.
func (s *Store) RevokedTokens() repo.RevokedTokens { return (*revokedTokensRepo)(s) }

// Sessions returns the Sessions repository over this store.
func (s *Store) Sessions() repo.Sessions { return (*sessionsRepo)(s) }

// AuditEvents returns the AuditEvents repository over this store.
func (s *Store) AuditEvents() repo.AuditEvents { return (*auditEventsRepo)(s) }

// VerificationTokens returns the VerificationTokens repository over this store.
func (s *Store) VerificationTokens() repo.VerificationTokens { return (*verificationTokensRepo)(s) }

type organizationsRepo Store

func (r *organizationsRepo) store() *Store { return (*Store)(r) }

func (r *organizationsRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Organization, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *organizationsRepo) Insert(_ context.Context, org *domain.Organization) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orgs[org.ID]; exists {
		return repo.ErrConflict
	}
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (r *organizationsRepo) Update(_ context.Context, org *domain.Organization) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orgs[org.ID]; !exists {
		return repo.ErrNotFound
	}
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

type tenantsRepo Store

func (r *tenantsRepo) store() *Store { return (*Store)(r) }

func (r *tenantsRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *tenantsRepo) FindBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *tenantsRepo) Insert(_ context.Context, t *domain.Tenant) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenants[t.ID]; exists {
		return repo.ErrConflict
	}
	for _, existing := range s.tenants {
		if existing.Slug == t.Slug {
			return repo.ErrConflict
		}
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (r *tenantsRepo) Update(_ context.Context, t *domain.Tenant) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenants[t.ID]; !exists {
		return repo.ErrNotFound
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (r *tenantsRepo) ListByOrganization(_ context.Context, orgID uuid.UUID) ([]*domain.Tenant, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Tenant
	for _, t := range s.tenants {
		if t.OrganizationID == orgID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type usersRepo Store

func (r *usersRepo) store() *Store { return (*Store)(r) }

func (r *usersRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*domain.User, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, repo.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *usersRepo) FindByIdentifier(_ context.Context, tenantID uuid.UUID, identifier string) (*domain.User, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByTU[tenantIdentifier{tenant: tenantID, ident: identifier}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (r *usersRepo) Insert(_ context.Context, u *domain.User) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return repo.ErrConflict
	}
	if u.Email != "" {
		key := tenantIdentifier{tenant: u.TenantID, ident: u.Email}
		if _, exists := s.usersByTU[key]; exists {
			return repo.ErrConflict
		}
		s.usersByTU[key] = u.ID
	}
	if u.Phone != "" {
		key := tenantIdentifier{tenant: u.TenantID, ident: u.Phone}
		if _, exists := s.usersByTU[key]; exists {
			return repo.ErrConflict
		}
		s.usersByTU[key] = u.ID
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (r *usersRepo) Update(_ context.Context, u *domain.User) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok || existing.TenantID != u.TenantID {
		return repo.ErrNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (r *usersRepo) SoftDelete(_ context.Context, tenantID, id uuid.UUID) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.TenantID != tenantID {
		return repo.ErrNotFound
	}
	u.Status = domain.UserDeleted
	return nil
}

func (r *usersRepo) ListByTenant(_ context.Context, tenantID uuid.UUID, offset, limit int) ([]*domain.User, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*domain.User
	for _, u := range s.users {
		if u.TenantID == tenantID {
			cp := *u
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

type rolesRepo Store

func (r *rolesRepo) store() *Store { return (*Store)(r) }

func (r *rolesRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Role, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok || role.TenantID != tenantID {
		return nil, repo.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (r *rolesRepo) FindByName(_ context.Context, tenantID uuid.UUID, name string) (*domain.Role, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.rolesByTN[tenantName{tenant: tenantID, name: name}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s.roles[id]
	return &cp, nil
}

func (r *rolesRepo) Insert(_ context.Context, role *domain.Role) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[role.ID]; exists {
		return repo.ErrConflict
	}
	key := tenantName{tenant: role.TenantID, name: role.Name}
	if _, exists := s.rolesByTN[key]; exists {
		return repo.ErrConflict
	}
	s.rolesByTN[key] = role.ID
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (r *rolesRepo) Update(_ context.Context, role *domain.Role) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.roles[role.ID]
	if !ok || existing.TenantID != role.TenantID {
		return repo.ErrNotFound
	}
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (r *rolesRepo) SoftDelete(_ context.Context, tenantID, id uuid.UUID) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok || role.TenantID != tenantID {
		return repo.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.rolesByTN, tenantName{tenant: tenantID, name: role.Name})
	return nil
}

func (r *rolesRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*domain.Role, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Role
	for _, role := range s.roles {
		if role.TenantID == tenantID {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

type roleAssignmentsRepo Store

func (r *roleAssignmentsRepo) store() *Store { return (*Store)(r) }

func (r *roleAssignmentsRepo) ListByUser(_ context.Context, tenantID, userID uuid.UUID) ([]*domain.UserRoleAssignment, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.UserRoleAssignment
	for _, a := range s.assignments {
		if a.TenantID == tenantID && a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *roleAssignmentsRepo) Insert(_ context.Context, a *domain.UserRoleAssignment) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assignments[a.ID]; exists {
		return repo.ErrConflict
	}
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

func (r *roleAssignmentsRepo) Revoke(_ context.Context, tenantID, id uuid.UUID, revokedBy uuid.UUID, at time.Time) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok || a.TenantID != tenantID {
		return repo.ErrNotFound
	}
	a.RevokedAt = &at
	a.RevokedBy = &revokedBy
	return nil
}

type refreshTokensRepo Store

func (r *refreshTokensRepo) store() *Store { return (*Store)(r) }

func (r *refreshTokensRepo) FindByHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refreshByHash[tokenHash]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s.refreshTokens[id]
	return &cp, nil
}

func (r *refreshTokensRepo) Insert(_ context.Context, t *domain.RefreshToken) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.refreshTokens[t.ID]; exists {
		return repo.ErrConflict
	}
	if _, exists := s.refreshByHash[t.TokenHash]; exists {
		return repo.ErrConflict
	}
	cp := *t
	s.refreshTokens[t.ID] = &cp
	s.refreshByHash[t.TokenHash] = t.ID
	return nil
}

// Rotate is the linearizable compare-and-swap the family rotation
// protocol depends on. The store-wide mutex gives it the same atomicity a
// `UPDATE ... WHERE revoked_at IS NULL` gets from a single Postgres row
// lock: exactly one concurrent caller observes won=true.
func (r *refreshTokensRepo) Rotate(_ context.Context, tenantID, id uuid.UUID, now time.Time) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[id]
	if !ok || t.TenantID != tenantID {
		return false, repo.ErrNotFound
	}
	if t.RevokedAt != nil || !now.Before(t.ExpiresAt) {
		return false, nil
	}
	t.RevokedAt = &now
	t.RevokedReason = domain.RevokedReasonRotated
	return true, nil
}

func (r *refreshTokensRepo) RevokeFamily(_ context.Context, tenantID, familyID uuid.UUID, reason domain.RefreshTokenRevokedReason, at time.Time) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.refreshTokens {
		if t.TenantID == tenantID && t.FamilyID == familyID && t.RevokedAt == nil {
			t.RevokedAt = &at
			t.RevokedReason = reason
		}
	}
	return nil
}

func (r *refreshTokensRepo) RevokeAllForUser(_ context.Context, tenantID, userID uuid.UUID, reason domain.RefreshTokenRevokedReason, at time.Time) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.refreshTokens {
		if t.TenantID == tenantID && t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			t.RevokedReason = reason
		}
	}
	return nil
}

func (r *refreshTokensRepo) FamilyFirstCreatedAt(_ context.Context, tenantID, familyID uuid.UUID) (time.Time, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	found := false
	for _, t := range s.refreshTokens {
		if t.TenantID == tenantID && t.FamilyID == familyID {
			if !found || t.CreatedAt.Before(earliest) {
				earliest = t.CreatedAt
				found = true
			}
		}
	}
	if !found {
		return time.Time{}, repo.ErrNotFound
	}
	return earliest, nil
}

func (r *refreshTokensRepo) DeleteExpiredBefore(_ context.Context, before time.Time) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.refreshTokens {
		if t.ExpiresAt.Before(before) || (t.RevokedAt != nil && t.RevokedAt.Before(before)) {
			delete(s.refreshByHash, t.TokenHash)
			delete(s.refreshTokens, id)
			n++
		}
	}
	return n, nil
}

type revokedTokensRepo Store

func (r *revokedTokensRepo) store() *Store { return (*Store)(r) }

func (r *revokedTokensRepo) IsRevoked(_ context.Context, tenantID uuid.UUID, jti string) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revokedTokens[revokedKey{tenant: tenantID, jti: jti}]
	return ok, nil
}

func (r *revokedTokensRepo) Insert(_ context.Context, t *domain.RevokedToken) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.revokedTokens[revokedKey{tenant: t.TenantID, jti: t.JTI}] = &cp
	return nil
}

func (r *revokedTokensRepo) InsertAllActiveForUser(_ context.Context, tenantID, userID uuid.UUID, reason string, at time.Time) error {
	// The memory fake has no independent record of "active access token
	// jtis" outside what callers have already inserted, so this is a
	// no-op: IsRevoked sees only jtis inserted individually.
	return nil
}

func (r *revokedTokensRepo) DeleteExpiredBefore(_ context.Context, before time.Time) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.revokedTokens {
		if t.ExpiresAt.Before(before) {
			delete(s.revokedTokens, k)
			n++
		}
	}
	return n, nil
}

type sessionsRepo Store

func (r *sessionsRepo) store() *Store { return (*Store)(r) }

func (r *sessionsRepo) FindByToken(_ context.Context, tokenHash string) (*domain.Session, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessionsByHash[tokenHash]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (r *sessionsRepo) Insert(_ context.Context, sess *domain.Session) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return repo.ErrConflict
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.sessionsByHash[sess.SessionToken] = sess.ID
	return nil
}

func (r *sessionsRepo) UpdateLastActivity(_ context.Context, tenantID, id uuid.UUID, at time.Time) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.TenantID != tenantID {
		return repo.ErrNotFound
	}
	sess.LastActivity = at
	return nil
}

func (r *sessionsRepo) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.TenantID != tenantID {
		return repo.ErrNotFound
	}
	delete(s.sessionsByHash, sess.SessionToken)
	delete(s.sessions, id)
	return nil
}

func (r *sessionsRepo) DeleteAllForUser(_ context.Context, tenantID, userID uuid.UUID) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.UserID == userID {
			delete(s.sessionsByHash, sess.SessionToken)
			delete(s.sessions, id)
		}
	}
	return nil
}

func (r *sessionsRepo) ListByUser(_ context.Context, tenantID, userID uuid.UUID) ([]*domain.Session, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

type auditEventsRepo Store

func (r *auditEventsRepo) store() *Store { return (*Store)(r) }

func (r *auditEventsRepo) LastForTenant(_ context.Context, tenantID uuid.UUID) (*domain.AuditEvent, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.auditEvents[tenantID]
	if len(events) == 0 {
		return nil, repo.ErrNotFound
	}
	cp := *events[len(events)-1]
	return &cp, nil
}

func (r *auditEventsRepo) Insert(_ context.Context, e *domain.AuditEvent) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.auditEvents[e.TenantID] = append(s.auditEvents[e.TenantID], &cp)
	return nil
}

func (r *auditEventsRepo) ListRange(_ context.Context, tenantID uuid.UUID, fromSeq, toSeq int64) ([]*domain.AuditEvent, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditEvent
	for _, e := range s.auditEvents[tenantID] {
		if e.Sequence >= fromSeq && e.Sequence <= toSeq {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type verificationTokensRepo Store

func (r *verificationTokensRepo) store() *Store { return (*Store)(r) }

func (r *verificationTokensRepo) Insert(_ context.Context, t *domain.VerificationToken) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.verificationTokens[t.ID]; exists {
		return repo.ErrConflict
	}
	cp := *t
	s.verificationTokens[t.ID] = &cp
	s.verificationTokensByHash[verificationKey{tenant: t.TenantID, kind: t.Kind, hash: t.TokenHash}] = t.ID
	return nil
}

func (r *verificationTokensRepo) FindByHash(_ context.Context, tenantID uuid.UUID, kind domain.VerificationTokenKind, tokenHash string) (*domain.VerificationToken, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.verificationTokensByHash[verificationKey{tenant: tenantID, kind: kind, hash: tokenHash}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s.verificationTokens[id]
	return &cp, nil
}

func (r *verificationTokensRepo) Consume(_ context.Context, tenantID, id uuid.UUID, at time.Time) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.verificationTokens[id]
	if !ok || t.TenantID != tenantID {
		return repo.ErrNotFound
	}
	consumed := at
	t.ConsumedAt = &consumed
	return nil
}

func (r *verificationTokensRepo) DeleteExpiredBefore(_ context.Context, before time.Time) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.verificationTokens {
		if t.ExpiresAt.Before(before) {
			delete(s.verificationTokensByHash, verificationKey{tenant: t.TenantID, kind: t.Kind, hash: t.TokenHash})
			delete(s.verificationTokens, id)
			n++
		}
	}
	return n, nil
}
