package authz

import (
	"strings"

	"github.com/google/uuid"
)

// ScopeAttributes carries the request-specific attributes a scoped
// permission is resolved against.
type ScopeAttributes struct {
	OwnerID        uuid.UUID
	TenantID       uuid.UUID
	OrganizationID uuid.UUID
}

// Request is one authorization check: a resource/action pair plus the
// scope attributes of the specific resource instance, and the acting
// user's own tenant/user id for "own"/"tenant" scope resolution.
type Request struct {
	Resource       string
	Action         string
	Scope          ScopeAttributes
	UserID         uuid.UUID
	TenantID       uuid.UUID
	OrganizationID uuid.UUID
}

// parsePermission splits a grant code of shape "resource:action[:scope]"
// (optionally "!"-prefixed for explicit deny) into its parts.
func parsePermission(code string) (deny bool, resource, action, scope string) {
	if strings.HasPrefix(code, "!") {
		deny = true
		code = code[1:]
	}
	parts := strings.SplitN(code, ":", 3)
	resource = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		scope = parts[2]
	} else {
		scope = "*"
	}
	return deny, resource, action, scope
}

func matchesField(granted, actual string) bool {
	return granted == "*" || granted == actual
}

func resolveScope(scope string, req Request) bool {
	switch scope {
	case "*", "":
		return true
	case "own":
		return req.Scope.OwnerID == req.UserID
	case "tenant":
		return req.Scope.TenantID == req.TenantID
	case "organization":
		return req.OrganizationID != uuid.Nil && req.Scope.OrganizationID == req.OrganizationID
	default:
		return false
	}
}

// Match evaluates the deny-overrides-allow decision rule over a user's
// flattened permission set (as returned by RoleGraph.EffectivePermissions)
// against a single request: any matching explicit-deny grant on any
// reachable role wins outright; otherwise any matching allow grant wins;
// otherwise default deny.
func Match(permissions []string, req Request) bool {
	matchedAllow := false
	for _, code := range permissions {
		deny, resource, action, scope := parsePermission(code)
		if !matchesField(resource, req.Resource) || !matchesField(action, req.Action) || !resolveScope(scope, req) {
			continue
		}
		if deny {
			return false
		}
		matchedAllow = true
	}
	return matchedAllow
}
