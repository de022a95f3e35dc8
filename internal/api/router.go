package api

import (
	"log/slog"

	customMiddleware "github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/authz"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/federation"
	"github.com/nullstack-id/identitycore/internal/identity"
	"github.com/nullstack-id/identitycore/internal/mfa"
	"github.com/nullstack-id/identitycore/internal/ratelimit"
	"github.com/nullstack-id/identitycore/internal/repo"
	"github.com/nullstack-id/identitycore/internal/session"
	"github.com/nullstack-id/identitycore/internal/token"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Server bundles the router together with the collaborators its health
// check and graceful-shutdown hooks need directly.
type Server struct {
	Router *chi.Mux
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// Deps wires every collaborator the HTTP surface calls into. It is
// built once at process startup (cmd/api) and passed to NewServer.
type Deps struct {
	Pool *pgxpool.Pool

	TenantSecrets *appcrypto.SecretBox

	Identity *identity.Service
	Sessions *session.Engine
	Tokens   *token.Provider
	RoleDAG  *authz.RoleGraph
	Auditor  audit.Service
	MFA      *mfa.Service

	Organizations repo.Organizations
	Tenants       repo.Tenants
	Users         repo.Users
	Roles         repo.Roles
	Assignments   repo.RoleAssignments
	AuditEvents   repo.AuditEvents

	OIDC *federation.OIDCClient
	SAML *federation.SAMLServiceProvider
	OAuthServer *federation.AuthorizationServer

	RateLimiter *ratelimit.Limiter
	DevOrigins  []string
}

// NewServer builds the chi router and mounts every route group behind
// the middleware chain: request id/real ip, Sentry panic capture,
// structured logging, panic recovery, global rate limiting, tenant
// context (RLS-scoped transaction), dynamic CORS, then the
// authenticated/CSRF-protected route group.
func NewServer(d Deps) *Server {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	r.Use(customMiddleware.GlobalRateLimit(d.RateLimiter))
	r.Use(customMiddleware.TenantContext(d.Pool))
	r.Use(customMiddleware.DynamicCorsMiddleware(d.Tenants, d.DevOrigins))

	requireAuth := customMiddleware.AuthMiddleware(d.Tokens)

	authHandler := &AuthHandler{identity: d.Identity, sessions: d.Sessions, tokens: d.Tokens, auditor: d.Auditor}
	sessionHandler := &SessionHandler{sessions: d.Sessions}
	mfaHandler := &MFAHandler{mfaService: d.MFA, users: d.Users, auditor: d.Auditor}
	profileHandler := &ProfileHandler{users: d.Users, identity: d.Identity}
	adminHandler := &AdminHandler{roles: d.Roles, assignments: d.Assignments, users: d.Users, roleDAG: d.RoleDAG, auditor: d.Auditor, identity: d.Identity}
	auditHandler := &AuditHandler{events: d.AuditEvents}
	publicHandler := &PublicHandler{tenants: d.Tenants}
	tenantConfigHandler := &TenantConfigHandler{tenants: d.Tenants, secrets: d.TenantSecrets, limiter: d.RateLimiter}
	federationHandler := &FederationHandler{
		oidc: d.OIDC, saml: d.SAML, oauth: d.OAuthServer,
		identity: d.Identity, users: d.Users, tokens: d.Tokens,
	}
	healthHandler := &HealthHandler{pool: d.Pool}

	r.Get("/health", healthHandler.Check)
	r.Get("/.well-known/openid-configuration", federationHandler.OIDCConfiguration)
	r.Get("/.well-known/jwks.json", federationHandler.JWKS)
	r.Get("/saml/metadata", federationHandler.SAMLMetadata)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(customMiddleware.ScopedRateLimit(d.RateLimiter, ratelimit.ScopeRegister)).
			Post("/auth/register", authHandler.Register)
		r.With(customMiddleware.ScopedRateLimit(d.RateLimiter, ratelimit.ScopeLogin)).
			Post("/auth/login", authHandler.Login)
		r.Post("/auth/mfa/verify", authHandler.VerifyMFA)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/logout", authHandler.Logout)

		r.Post("/auth/password/forgot", authHandler.RequestPasswordReset)
		r.Post("/auth/password/reset", authHandler.ResetPassword)
		r.Post("/auth/email/resend", authHandler.ResendVerification)
		r.Post("/auth/email/verify", authHandler.VerifyEmail)
		r.Post("/auth/email/confirm-change", authHandler.ConfirmEmailChange)

		r.Get("/tenants/{slug}", publicHandler.GetTenantBySlug)

		r.Get("/federation/oidc/authorize", federationHandler.OIDCBeginAuthorization)
		r.Get("/federation/oidc/callback", federationHandler.OIDCCallback)
		r.Post("/federation/saml/acs", federationHandler.SAMLConsumeAssertion)
		r.Post("/federation/oauth/token", federationHandler.OAuthToken)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(customMiddleware.CSRFMiddleware)

			r.Get("/me", profileHandler.Me)
			r.Patch("/me/profile", profileHandler.UpdateProfile)
			r.Put("/me/password", profileHandler.ChangePassword)
			r.Post("/me/email", authHandler.RequestEmailChange)
			r.Post("/auth/logout-all", authHandler.LogoutAll)

			r.Get("/auth/sessions", sessionHandler.List)
			r.Delete("/auth/sessions/{id}", sessionHandler.Revoke)

			r.Post("/auth/mfa/setup", mfaHandler.Setup)
			r.Post("/auth/mfa/activate", mfaHandler.Activate)

			r.Route("/admin", func(r chi.Router) {
				r.With(customMiddleware.RequirePermission("user", "invite")).
					Post("/users/invite", adminHandler.InviteUser)

				r.With(customMiddleware.RequirePermission("user", "read")).
					Get("/users/{userID}/roles", adminHandler.ListUserRoles)
				r.With(customMiddleware.RequirePermission("role", "assign")).
					Post("/users/{userID}/roles", adminHandler.AssignRole)
				r.With(customMiddleware.RequirePermission("role", "assign")).
					Delete("/users/{userID}/roles/{assignmentID}", adminHandler.RevokeRole)

				r.With(customMiddleware.RequirePermission("role", "read")).
					Get("/roles", adminHandler.ListRoles)
				r.With(customMiddleware.RequirePermission("role", "create")).
					Post("/roles", adminHandler.CreateRole)

				r.With(customMiddleware.RequirePermission("audit", "read")).
					Get("/audit", auditHandler.ListRange)

				r.With(customMiddleware.RequirePermission("tenant", "read")).
					Get("/tenant/config", tenantConfigHandler.GetConfig)
				r.With(customMiddleware.RequirePermission("tenant", "configure")).
					Put("/tenant/auth-config", tenantConfigHandler.UpdateAuthConfig)
				r.With(customMiddleware.RequirePermission("tenant", "configure")).
					Put("/tenant/branding", tenantConfigHandler.UpdateBranding)
				r.With(customMiddleware.RequirePermission("tenant", "configure")).
					Put("/tenant/mail-config", tenantConfigHandler.UpdateMailConfig)
				r.With(customMiddleware.RequirePermission("tenant", "configure")).
					Put("/tenant/rate-limits", tenantConfigHandler.UpdateRateLimits)
			})
		})
	})

	return &Server{Router: r, Pool: d.Pool, Logger: slog.Default()}
}
