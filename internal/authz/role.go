// Package authz implements the authorization engine (C6): role-DAG
// flattening with cycle detection, permission-code matching, and a
// side-effect-free ABAC rule evaluator.
package authz

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/apperr"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// closureCacheEntry holds a tenant's precomputed role graph.
type closureCacheEntry struct {
	byID      map[uuid.UUID]*domain.Role
	computed  map[uuid.UUID][]uuid.UUID // roleID -> reachable role IDs (inclusive)
	expiresAt time.Time
}

// RoleGraph computes and caches, per tenant, the transitive closure of
// the role parent-DAG. The cache is invalidated on any role mutation
// (see Invalidate), not just on a timer; the timer is a fallback for
// externally-made database changes this process didn't initiate itself.
type RoleGraph struct {
	mu    sync.Mutex
	cache map[uuid.UUID]*closureCacheEntry
	ttl   time.Duration
}

// NewRoleGraph builds a RoleGraph. ttl is the cache fallback lifetime.
func NewRoleGraph(ttl time.Duration) *RoleGraph {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RoleGraph{cache: make(map[uuid.UUID]*closureCacheEntry), ttl: ttl}
}

// Invalidate drops the cached closure for a tenant, forcing the next
// Reachable/EffectivePermissions call to recompute from roles.
func (g *RoleGraph) Invalidate(tenantID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, tenantID)
}

// ValidateNoCycle reports an apperr.CodeValidation error if adding or
// reparenting candidate within roles would introduce a cycle in the
// parent-role DAG. Called at role creation and at reparenting, before
// the mutation is persisted.
func ValidateNoCycle(roles []*domain.Role, candidate *domain.Role) error {
	byID := make(map[uuid.UUID]*domain.Role, len(roles)+1)
	for _, r := range roles {
		byID[r.ID] = r
	}
	byID[candidate.ID] = candidate

	visited := map[uuid.UUID]bool{}
	var walk func(id uuid.UUID, path map[uuid.UUID]bool) error
	walk = func(id uuid.UUID, path map[uuid.UUID]bool) error {
		if path[id] {
			return apperr.New(apperr.CodeValidation, "role hierarchy would contain a cycle")
		}
		if visited[id] {
			return nil
		}
		path[id] = true
		r, ok := byID[id]
		if ok && r.ParentRoleID != nil {
			if err := walk(*r.ParentRoleID, path); err != nil {
				return err
			}
		}
		delete(path, id)
		visited[id] = true
		return nil
	}
	return walk(candidate.ID, map[uuid.UUID]bool{})
}

// flatten computes, for every role in roles, the set of reachable role
// IDs (itself plus every transitive parent), building the cache entry
// used by Reachable and EffectivePermissions.
func flatten(roles []*domain.Role) *closureCacheEntry {
	byID := make(map[uuid.UUID]*domain.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	computed := make(map[uuid.UUID][]uuid.UUID, len(roles))
	for _, r := range roles {
		seen := map[uuid.UUID]bool{}
		var chain []uuid.UUID
		cur := r
		for cur != nil {
			if seen[cur.ID] {
				break // cycle already rejected at mutation time; break defensively
			}
			seen[cur.ID] = true
			chain = append(chain, cur.ID)
			if cur.ParentRoleID == nil {
				break
			}
			cur = byID[*cur.ParentRoleID]
		}
		computed[r.ID] = chain
	}
	return &closureCacheEntry{byID: byID, computed: computed, expiresAt: time.Now().Add(24 * time.Hour)}
}

func (g *RoleGraph) entry(tenantID uuid.UUID, roles []*domain.Role) *closureCacheEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.cache[tenantID]
	if ok && time.Now().Before(e.expiresAt) {
		return e
	}
	e = flatten(roles)
	e.expiresAt = time.Now().Add(g.ttl)
	g.cache[tenantID] = e
	return e
}

// Reachable returns every role ID reachable from roleID (inclusive),
// following parent_role_id to the DAG root, given the full set of a
// tenant's roles.
func (g *RoleGraph) Reachable(tenantID, roleID uuid.UUID, allRoles []*domain.Role) []uuid.UUID {
	e := g.entry(tenantID, allRoles)
	return e.computed[roleID]
}

// EffectivePermissions returns the union of permission grant codes
// across every role reachable from the given assigned role IDs,
// including "!"-prefixed explicit-deny codes — callers combine this
// with Match (see permission.go) to apply deny-overrides-allow.
func (g *RoleGraph) EffectivePermissions(tenantID uuid.UUID, assignedRoleIDs []uuid.UUID, allRoles []*domain.Role) []string {
	e := g.entry(tenantID, allRoles)
	seenRole := map[uuid.UUID]bool{}
	seenPerm := map[string]bool{}
	var out []string
	for _, rid := range assignedRoleIDs {
		for _, reachableID := range e.computed[rid] {
			if seenRole[reachableID] {
				continue
			}
			seenRole[reachableID] = true
			role, ok := e.byID[reachableID]
			if !ok {
				continue
			}
			for _, perm := range role.Permissions {
				if !seenPerm[perm] {
					seenPerm[perm] = true
					out = append(out, perm)
				}
			}
		}
	}
	return out
}
