package api

import (
	"net/http"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
)

// RequestPasswordResetRequest is the expected JSON body for initiating a
// password reset.
type RequestPasswordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset handles POST /auth/password/forgot. It always
// responds with success, whether or not the email is registered, so a
// caller cannot use it to enumerate accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req RequestPasswordResetRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		helpers.RespondError(w, http.StatusBadRequest, "email is required")
		return
	}

	_ = h.identity.RequestPasswordReset(r.Context(), tenantID, req.Email)

	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "if the email exists, a reset link has been sent",
	})
}

// ResetPasswordRequest is the expected JSON body for completing a
// password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword handles POST /auth/password/reset.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req ResetPasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		helpers.RespondError(w, http.StatusBadRequest, "token and new_password are required")
		return
	}

	if err := h.identity.ResetPassword(r.Context(), tenantID, req.Token, req.NewPassword); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "password reset, please log in again",
	})
}
