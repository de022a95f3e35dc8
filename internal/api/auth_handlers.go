package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/identity"
	"github.com/nullstack-id/identitycore/internal/session"
	"github.com/nullstack-id/identitycore/internal/token"
)

// AuthHandler serves the register/login/mfa/refresh/logout endpoints.
type AuthHandler struct {
	identity *identity.Service
	sessions *session.Engine
	tokens   *token.Provider
	auditor  audit.Service
}

// RegisterRequest is the expected JSON body for registration.
type RegisterRequest struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	InviteToken string `json:"invite_token,omitempty"`
}

func (req *RegisterRequest) Validate() error {
	if req.Email == "" && req.Phone == "" {
		return fmt.Errorf("email or phone is required")
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return fmt.Errorf("invalid email format")
		}
	}
	if utf8.RuneCountInString(req.Password) < 12 {
		return fmt.Errorf("password must be at least 12 characters")
	}
	return nil
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	user, err := h.identity.Register(r.Context(), identity.RegisterParams{
		TenantID: tenantID, Email: req.Email, Phone: req.Phone, Password: req.Password,
		InviteToken: req.InviteToken,
	})
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]any{
		"id": user.ID, "status": user.Status,
	})
}

// LoginRequest is the expected JSON body for login.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "identifier and password are required")
		return
	}

	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	result, err := h.identity.Login(r.Context(), identity.LoginParams{
		TenantID: tenantID, Identifier: req.Identifier, Password: req.Password,
		IP: helpers.GetRealIP(r), UserAgent: r.UserAgent(),
	})
	if err != nil {
		slog.WarnContext(r.Context(), "login failed", "identifier", req.Identifier, "error", err)
		helpers.RespondAppError(w, r, err)
		return
	}

	if result.MFARequired {
		helpers.RespondJSON(w, http.StatusOK, map[string]any{
			"mfa_required":   true,
			"pre_auth_token": result.PreAuthToken,
		})
		return
	}

	setSessionCookies(w, result)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"user": result.User})
}

// VerifyMFARequest completes a login flagged mfa_required.
type VerifyMFARequest struct {
	PreAuthToken string `json:"pre_auth_token"`
	Code         string `json:"code"`
}

func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	result, err := h.identity.VerifyMFA(r.Context(), tenantID, req.PreAuthToken, req.Code, helpers.GetRealIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	setSessionCookies(w, result)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"user": result.User})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("refresh_token")
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "no session")
		return
	}
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	accessToken, refreshToken, err := h.identity.Refresh(r.Context(), tenantID, cookie.Value, r.UserAgent(), helpers.GetRealIP(r))
	if err != nil {
		slog.WarnContext(r.Context(), "refresh failed", "error", err)
		h.clearCookies(w)
		helpers.RespondAppError(w, r, err)
		return
	}

	http.SetCookie(w, accessCookie(accessToken))
	http.SetCookie(w, refreshCookie(refreshToken))
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"access_token": accessToken})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.GetTenantID(r.Context())

	var claims *token.Claims
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if c, err := h.tokens.ValidateToken(r.Context(), strings.TrimPrefix(authHeader, "Bearer ")); err == nil {
			claims = c
			tenantID = c.TenantID
		}
	}

	var refreshSecret, sessionToken string
	if c, err := r.Cookie("refresh_token"); err == nil {
		refreshSecret = c.Value
	}
	if c, err := r.Cookie("session_token"); err == nil {
		sessionToken = c.Value
	}

	if err := h.identity.Logout(r.Context(), tenantID, claims, refreshSecret, sessionToken); err != nil {
		slog.WarnContext(r.Context(), "logout encountered an error", "error", err)
	}

	clearSessionCookies(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	if err := h.identity.LogoutAll(r.Context(), tenantID, userID); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	clearSessionCookies(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "logged out everywhere"})
}

func setSessionCookies(w http.ResponseWriter, result *identity.LoginResult) {
	http.SetCookie(w, accessCookie(result.AccessToken))
	http.SetCookie(w, refreshCookie(result.RefreshToken))
	http.SetCookie(w, &http.Cookie{
		Name: "session_token", Value: result.SessionToken, Path: "/",
		MaxAge: 604800, HttpOnly: true, Secure: true, SameSite: http.SameSiteNoneMode,
	})
}

func accessCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name: "access_token", Value: value, Path: "/",
		MaxAge: 900, HttpOnly: true, Secure: true, SameSite: http.SameSiteNoneMode,
	}
}

func refreshCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name: "refresh_token", Value: value, Path: "/",
		MaxAge: 604800, HttpOnly: true, Secure: true, SameSite: http.SameSiteNoneMode,
	}
}

func clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{"access_token", "refresh_token", "session_token"} {
		http.SetCookie(w, &http.Cookie{
			Name: name, Value: "", Path: "/", MaxAge: -1,
			HttpOnly: true, Secure: true, SameSite: http.SameSiteNoneMode,
		})
	}
}
