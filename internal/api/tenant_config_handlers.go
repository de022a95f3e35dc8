package api

import (
	"net/http"
	"time"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/mailer"
	"github.com/nullstack-id/identitycore/internal/ratelimit"
	"github.com/nullstack-id/identitycore/internal/repo"
	"github.com/nullstack-id/identitycore/internal/storage"
)

// TenantConfigHandler serves a tenant's own branding and auth-config
// blobs (spec Tenant.branding / Tenant.auth_config), distinct from
// AdminHandler's role/assignment management.
type TenantConfigHandler struct {
	tenants repo.Tenants
	secrets *appcrypto.SecretBox
	limiter *ratelimit.Limiter
}

// GetConfig returns the caller's tenant branding and auth config.
func (h *TenantConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	t, err := h.tenants.FindByID(r.Context(), tenantID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"branding":    t.Branding,
		"auth_config": t.AuthConfig,
	})
}

// UpdateAuthConfigRequest patches the tenant-level auth knobs. Fields
// left zero-valued clear the corresponding setting; callers should GET
// first and send the full desired state.
type UpdateAuthConfigRequest struct {
	AllowPublicRegistration bool     `json:"allow_public_registration"`
	RequireMFA              bool     `json:"require_mfa"`
	AllowedOrigins          []string `json:"allowed_origins"`
	RedirectURIs            []string `json:"redirect_uris"`
}

// UpdateAuthConfig lets a tenant admin change registration policy, MFA
// enforcement, and the CORS/OAuth allow-lists.
func (h *TenantConfigHandler) UpdateAuthConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req UpdateAuthConfigRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := storage.ValidateCORSOrigins(req.AllowedOrigins); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.tenants.FindByID(r.Context(), tenantID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	t.AuthConfig.AllowPublicRegistration = req.AllowPublicRegistration
	t.AuthConfig.RequireMFA = req.RequireMFA
	t.AuthConfig.AllowedOrigins = req.AllowedOrigins
	t.AuthConfig.RedirectURIs = req.RedirectURIs
	t.UpdatedAt = time.Now()

	if err := h.tenants.Update(r.Context(), t); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"auth_config": t.AuthConfig})
}

// UpdateBrandingRequest patches the tenant's public-facing branding.
type UpdateBrandingRequest struct {
	PrimaryColor string `json:"primary_color"`
	LogoURL      string `json:"logo_url"`
	DisplayName  string `json:"display_name"`
}

// UpdateBranding lets a tenant admin change the login-page branding
// GetTenantBySlug serves to unauthenticated callers.
func (h *TenantConfigHandler) UpdateBranding(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req UpdateBrandingRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenants.FindByID(r.Context(), tenantID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	t.Branding.PrimaryColor = req.PrimaryColor
	t.Branding.LogoURL = req.LogoURL
	t.Branding.DisplayName = req.DisplayName
	t.UpdatedAt = time.Now()

	if err := h.tenants.Update(r.Context(), t); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"branding": t.Branding})
}

// MailConfigRequest configures the tenant's own SMTP credentials, used
// instead of the platform's default mailer for branded outbound email.
type MailConfigRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	From     string `json:"from"`
	TLSMode  string `json:"tls_mode"`
}

// UpdateMailConfig validates and seals a tenant's SMTP credentials into
// its auth_config blob. The host/port pass ValidateSMTPConfig's SSRF
// checks before anything is persisted; the password is never stored or
// echoed back in plaintext.
func (h *TenantConfigHandler) UpdateMailConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req MailConfigRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := mailer.ValidateSMTPConfig(req.Host, req.Port); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid smtp configuration")
		return
	}
	if req.TLSMode != "starttls" && req.TLSMode != "tls" {
		helpers.RespondError(w, http.StatusBadRequest, "tls_mode must be 'starttls' or 'tls'")
		return
	}

	encryptedPassword, err := h.secrets.Encrypt(req.Password)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	t, err := h.tenants.FindByID(r.Context(), tenantID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	t.AuthConfig.SMTPHost = req.Host
	t.AuthConfig.SMTPPort = req.Port
	t.AuthConfig.SMTPUser = req.User
	t.AuthConfig.SMTPFrom = req.From
	t.AuthConfig.SMTPTLSMode = req.TLSMode
	t.AuthConfig.SMTPPasswordEncrypted = encryptedPassword
	t.UpdatedAt = time.Now()

	if err := h.tenants.Update(r.Context(), t); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"host": t.AuthConfig.SMTPHost, "port": t.AuthConfig.SMTPPort,
		"user": t.AuthConfig.SMTPUser, "from": t.AuthConfig.SMTPFrom, "tls_mode": t.AuthConfig.SMTPTLSMode,
	})
}

// UpdateRateLimitsRequest overrides the login/register rate limits a
// tenant's callers see, in place of the platform default. A zero-valued
// field leaves that scope's default limit untouched.
type UpdateRateLimitsRequest struct {
	LoginCapacity         int `json:"login_capacity"`
	LoginWindowSeconds    int `json:"login_window_seconds"`
	RegisterCapacity      int `json:"register_capacity"`
	RegisterWindowSeconds int `json:"register_window_seconds"`
}

// UpdateRateLimits lets a tenant admin raise or tighten the login/register
// rate limits, e.g. a high-traffic tenant needing more login headroom than
// the platform default allows.
func (h *TenantConfigHandler) UpdateRateLimits(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req UpdateRateLimitsRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.LoginCapacity > 0 && req.LoginWindowSeconds > 0 {
		h.limiter.SetTenantOverride(tenantID, ratelimit.ScopeLogin, ratelimit.Limit{
			Capacity: req.LoginCapacity, Window: time.Duration(req.LoginWindowSeconds) * time.Second,
		})
	}
	if req.RegisterCapacity > 0 && req.RegisterWindowSeconds > 0 {
		h.limiter.SetTenantOverride(tenantID, ratelimit.ScopeRegister, ratelimit.Limit{
			Capacity: req.RegisterCapacity, Window: time.Duration(req.RegisterWindowSeconds) * time.Second,
		})
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}
