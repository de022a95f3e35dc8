package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nullstack-id/identitycore/internal/token"
)

// TokenValidator is the subset of token.Provider this middleware needs,
// named so it can be faked in tests without a real key ring.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*token.Claims, error)
}

// AuthMiddleware validates the Authorization: Bearer access token,
// cross-checks it against any tenant context already established by
// TenantContext, and injects the caller's user id, role names, and
// flattened permission codes into the request context.
func AuthMiddleware(provider TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := provider.ValidateToken(r.Context(), parts[1])
			if err != nil {
				slog.Warn("invalid access token", "error", err, "ip", r.RemoteAddr)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if claims.Scope != token.ScopeAccess {
				http.Error(w, "Token is not an access token", http.StatusUnauthorized)
				return
			}

			userID, err := claims.UserID()
			if err != nil {
				http.Error(w, "Invalid token subject", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if ctxTenantID, err := GetTenantID(ctx); err == nil {
				// X-Tenant-ID header was present: the token must grant
				// access to that exact tenant.
				if claims.TenantID != ctxTenantID {
					slog.Warn("tenant mismatch", "token_tenant", claims.TenantID, "header_tenant", ctxTenantID)
					http.Error(w, "Token does not match requested tenant context", http.StatusForbidden)
					return
				}
			} else {
				ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
				SetSentryTenant(ctx, claims.TenantID.String(), "token-derived")
			}

			ctx = context.WithValue(ctx, UserIDKey, userID)
			ctx = context.WithValue(ctx, PermissionsKey, claims.Permissions)
			if len(claims.Roles) > 0 {
				ctx = context.WithValue(ctx, RoleKey, claims.Roles[0])
			}
			SetSentryUser(ctx, userID.String(), strings.Join(claims.Roles, ","), r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
