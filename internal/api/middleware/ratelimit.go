package middleware

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/ratelimit"
)

// GlobalRateLimit enforces a per-IP token bucket across every request,
// ahead of any tenant- or scope-specific limiter applied later in the
// chain. It runs before TenantContext, so it always keys on the global
// scope under the nil tenant.
func GlobalRateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.Allow(uuid.Nil, ratelimit.ScopeGlobal, ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ScopedRateLimit enforces a tenant-aware limit for one endpoint class
// (login, register, ...), keyed by caller IP within the request's tenant
// context.
func ScopedRateLimit(limiter *ratelimit.Limiter, scope ratelimit.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, _ := GetTenantID(r.Context())
			ip := clientIP(r)
			if !limiter.Allow(tenantID, scope, ip) {
				slog.Warn("rate limit exceeded", "scope", scope, "tenant_id", tenantID, "ip", ip)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
