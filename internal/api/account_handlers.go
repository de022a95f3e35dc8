package api

import (
	"net/http"
	"net/mail"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
)

// RequestEmailChangeRequest is the expected JSON body for starting an
// email-address change.
type RequestEmailChangeRequest struct {
	NewEmail string `json:"new_email"`
	Password string `json:"password"`
}

// RequestEmailChange handles POST /me/email, sending a confirmation
// token to the new address; the address itself does not change yet.
func (h *AuthHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
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

	var req RequestEmailChangeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NewEmail == "" || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "new_email and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.NewEmail); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid email format")
		return
	}

	if _, err := h.identity.RequestEmailChange(r.Context(), tenantID, userID, req.NewEmail, req.Password); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "confirmation link sent to the new address",
	})
}

// ConfirmEmailChangeRequest is the expected JSON body for completing an
// email-address change.
type ConfirmEmailChangeRequest struct {
	Token string `json:"token"`
}

// ConfirmEmailChange handles POST /auth/email/confirm-change.
func (h *AuthHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	var req ConfirmEmailChangeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.identity.ConfirmEmailChange(r.Context(), tenantID, req.Token); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "email updated"})
}
