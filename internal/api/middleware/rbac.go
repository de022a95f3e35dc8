package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/authz"
)

// RequirePermission builds a middleware that enforces a single
// resource:action grant against the caller's flattened permission set
// (injected into context by AuthMiddleware from the access token's
// Permissions claim). Unlike a weighted-role hierarchy, this checks the
// deny-overrides-allow decision over the DAG-flattened grant codes, so a
// caller can hold several roles and an explicit deny on one of them
// still wins.
func RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := GetUserID(r.Context())
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			tenantID, _ := GetTenantID(r.Context())
			permissions, err := GetPermissions(r.Context())
			if err != nil {
				slog.Warn("rbac: permissions missing in context", "ip", r.RemoteAddr)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			req := authz.Request{
				Resource: resource,
				Action:   action,
				UserID:   userID,
				TenantID: tenantID,
				Scope: authz.ScopeAttributes{
					OwnerID:  ownerIDFromRequest(r, userID),
					TenantID: tenantID,
				},
			}

			if !authz.Match(permissions, req) {
				slog.Warn("rbac: insufficient permissions", "user_id", userID, "resource", resource, "action", action)
				http.Error(w, "Forbidden (Insufficient Permissions)", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ownerIDFromRequest resolves the "own" scope's subject: the path's
// {userID} segment when the route targets a specific user, falling back
// to the caller's own id for self-service endpoints (e.g. /me).
func ownerIDFromRequest(r *http.Request, callerID uuid.UUID) uuid.UUID {
	if raw := chi.URLParam(r, "userID"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id
		}
	}
	return callerID
}
