package authz

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRole(tenantID uuid.UUID, name string, parent *uuid.UUID, perms ...string) *domain.Role {
	return &domain.Role{ID: uuid.New(), TenantID: tenantID, Name: name, ParentRoleID: parent, Permissions: perms}
}

func TestValidateNoCycle_RejectsDirectCycle(t *testing.T) {
	tenantID := uuid.New()
	a := newRole(tenantID, "a", nil)
	b := newRole(tenantID, "b", &a.ID)
	a.ParentRoleID = &b.ID // a -> b -> a

	err := ValidateNoCycle([]*domain.Role{a, b}, a)
	assert.Error(t, err)
}

func TestValidateNoCycle_AcceptsLegalDAG(t *testing.T) {
	tenantID := uuid.New()
	root := newRole(tenantID, "root", nil)
	mid := newRole(tenantID, "mid", &root.ID)
	leaf := newRole(tenantID, "leaf", &mid.ID)

	err := ValidateNoCycle([]*domain.Role{root, mid, leaf}, leaf)
	assert.NoError(t, err)
}

func TestRoleGraph_FlattensEachReachableRoleExactlyOnce(t *testing.T) {
	tenantID := uuid.New()
	root := newRole(tenantID, "root", nil, "org:read:tenant")
	mid := newRole(tenantID, "mid", &root.ID, "user:read:tenant")
	leaf := newRole(tenantID, "leaf", &mid.ID, "user:write:own")
	roles := []*domain.Role{root, mid, leaf}

	g := NewRoleGraph(time.Minute)
	reachable := g.Reachable(tenantID, leaf.ID, roles)

	require.Len(t, reachable, 3)
	seen := map[uuid.UUID]int{}
	for _, id := range reachable {
		seen[id]++
	}
	for _, id := range []uuid.UUID{root.ID, mid.ID, leaf.ID} {
		assert.Equal(t, 1, seen[id])
	}
}

func TestRoleGraph_EffectivePermissions_UnionsAcrossReachableRoles(t *testing.T) {
	tenantID := uuid.New()
	root := newRole(tenantID, "root", nil, "org:read:tenant")
	leaf := newRole(tenantID, "leaf", &root.ID, "user:write:own")
	roles := []*domain.Role{root, leaf}

	g := NewRoleGraph(time.Minute)
	perms := g.EffectivePermissions(tenantID, []uuid.UUID{leaf.ID}, roles)
	assert.ElementsMatch(t, []string{"org:read:tenant", "user:write:own"}, perms)
}

func TestMatch_ScopeSemantics(t *testing.T) {
	userID, otherUserID := uuid.New(), uuid.New()
	tenantID, otherTenantID := uuid.New(), uuid.New()
	orgID := uuid.New()

	cases := []struct {
		name  string
		perms []string
		req   Request
		want  bool
	}{
		{
			name:  "own scope matches owner",
			perms: []string{"doc:read:own"},
			req:   Request{Resource: "doc", Action: "read", UserID: userID, Scope: ScopeAttributes{OwnerID: userID}},
			want:  true,
		},
		{
			name:  "own scope rejects non-owner",
			perms: []string{"doc:read:own"},
			req:   Request{Resource: "doc", Action: "read", UserID: userID, Scope: ScopeAttributes{OwnerID: otherUserID}},
			want:  false,
		},
		{
			name:  "tenant scope matches same tenant",
			perms: []string{"doc:read:tenant"},
			req:   Request{Resource: "doc", Action: "read", TenantID: tenantID, Scope: ScopeAttributes{TenantID: tenantID}},
			want:  true,
		},
		{
			name:  "tenant scope rejects cross-tenant",
			perms: []string{"doc:read:tenant"},
			req:   Request{Resource: "doc", Action: "read", TenantID: tenantID, Scope: ScopeAttributes{TenantID: otherTenantID}},
			want:  false,
		},
		{
			name:  "organization scope matches",
			perms: []string{"doc:read:organization"},
			req:   Request{Resource: "doc", Action: "read", OrganizationID: orgID, Scope: ScopeAttributes{OrganizationID: orgID}},
			want:  true,
		},
		{
			name:  "wildcard resource matches anything",
			perms: []string{"*:read:*"},
			req:   Request{Resource: "doc", Action: "read"},
			want:  true,
		},
		{
			name:  "wildcard scope always matches",
			perms: []string{"doc:read:*"},
			req:   Request{Resource: "doc", Action: "read", Scope: ScopeAttributes{OwnerID: otherUserID}, UserID: userID},
			want:  true,
		},
		{
			name:  "no grant defaults to deny",
			perms: []string{"other:read:*"},
			req:   Request{Resource: "doc", Action: "read"},
			want:  false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.perms, tc.req))
		})
	}
}

func TestMatch_ExplicitDenyOverridesInheritedAllow(t *testing.T) {
	req := Request{Resource: "doc", Action: "delete"}
	perms := []string{"doc:delete:*", "!doc:delete:*"}
	assert.False(t, Match(perms, req))
}

func TestMatch_DenyOrderInListDoesNotMatter(t *testing.T) {
	req := Request{Resource: "doc", Action: "delete"}
	perms := []string{"!doc:delete:*", "doc:delete:*"}
	assert.False(t, Match(perms, req))
}

func TestPolicy_Evaluate_FirstMatchWins(t *testing.T) {
	p := Policy{Rules: []PolicyRule{
		{Effect: EffectDeny, Condition: "env.hour < 9"},
		{Effect: EffectAllow, Condition: "true"},
	}}

	morning := EvalContext{Now: time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)}
	assert.Equal(t, EffectDeny, p.Evaluate(morning))

	afternoon := EvalContext{Now: time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)}
	assert.Equal(t, EffectAllow, p.Evaluate(afternoon))
}

func TestPolicy_Evaluate_DefaultDenyWhenNoRuleMatches(t *testing.T) {
	p := Policy{Rules: []PolicyRule{
		{Effect: EffectAllow, Condition: "env.ip == 203.0.113.1"},
	}}
	assert.Equal(t, EffectDeny, p.Evaluate(EvalContext{IP: "198.51.100.1"}))
}

func TestPolicy_Evaluate_UserAttributeCondition(t *testing.T) {
	p := Policy{Rules: []PolicyRule{
		{Effect: EffectAllow, Condition: "user.attr.department == engineering"},
	}}
	ctx := EvalContext{UserAttributes: map[string]string{"department": "engineering"}}
	assert.Equal(t, EffectAllow, p.Evaluate(ctx))
}
