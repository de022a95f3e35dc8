package api

import (
	"net/http"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
)

// ResendVerificationRequest is the expected JSON body for resending an
// email verification link.
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// ResendVerification handles POST /auth/email/resend, always responding
// with success to avoid leaking whether the email is registered.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req ResendVerificationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		helpers.RespondError(w, http.StatusBadRequest, "email is required")
		return
	}

	_ = h.identity.RequestEmailVerification(r.Context(), tenantID, req.Email)

	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "if the email exists and is unverified, a verification link has been sent",
	})
}

// VerifyEmailRequest is the expected JSON body for completing email
// verification.
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// VerifyEmail handles POST /auth/email/verify.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req VerifyEmailRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.identity.VerifyEmail(r.Context(), tenantID, req.Token); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}
