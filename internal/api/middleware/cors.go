package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/nullstack-id/identitycore/internal/repo"
)

// DynamicCorsMiddleware enforces tenant-specific CORS policies. It
// assumes TenantContext has already run and populated a possible
// TenantID. For preflight (OPTIONS) it reflects the Origin so the
// browser sends the actual request; the allow-list check happens on the
// real request against the tenant's AuthConfig.AllowedOrigins.
func DynamicCorsMiddleware(tenants repo.Tenants, devOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID, X-Requested-With, X-CSRF-Token")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.WriteHeader(http.StatusOK)
				return
			}

			tenantID, err := GetTenantID(r.Context())
			if err != nil {
				// No tenant context: nothing to validate the origin
				// against, so CORS headers are simply not set and the
				// browser blocks the response from being read.
				next.ServeHTTP(w, r)
				return
			}

			tenant, err := tenants.FindByID(r.Context(), tenantID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					slog.Warn("cors: tenant not found", "tenant_id", tenantID)
					http.Error(w, "Invalid Tenant", http.StatusForbidden)
					return
				}
				slog.Error("cors: lookup failed", "error", err)
				http.Error(w, "Internal Error", http.StatusInternalServerError)
				return
			}

			if slices.Contains(devOrigins, origin) || slices.Contains(tenant.AuthConfig.AllowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			} else {
				slog.Warn("cors: origin rejected", "tenant_id", tenantID, "origin", origin)
				http.Error(w, "CORS Policy Violation", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
