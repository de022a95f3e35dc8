package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/apperr"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/mfa"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// MFAHandler serves TOTP enrollment for an already-authenticated user.
// Login-time verification lives on AuthHandler.VerifyMFA instead, since
// that endpoint runs before a full session exists.
type MFAHandler struct {
	mfaService *mfa.Service
	users      repo.Users
	auditor    audit.Service
}

// Setup begins enrollment: it mints a fresh TOTP secret and QR code for
// the caller but persists nothing until Activate proves the secret
// actually made it into an authenticator app.
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
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

	u, err := h.users.FindByID(r.Context(), tenantID, userID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	if u.MFAEnabled {
		helpers.RespondError(w, http.StatusConflict, "mfa is already enabled")
		return
	}

	accountName := u.Email
	if accountName == "" {
		accountName = u.Phone
	}
	enrollment, err := h.mfaService.BeginEnrollment(accountName)
	if err != nil {
		helpers.RespondAppError(w, r, apperr.Wrap(apperr.CodeInternal, "mfa enrollment failed", err))
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"secret":      enrollment.Secret,
		"qr_code_png": base64.StdEncoding.EncodeToString(enrollment.QRCodePNG),
	})
}

// ActivateMFARequest confirms enrollment with the secret Setup returned
// and a code currently produced from it.
type ActivateMFARequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// Activate verifies code against secret and, on success, turns MFA on
// for the caller's account.
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateMFARequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Secret == "" || req.Code == "" {
		helpers.RespondError(w, http.StatusBadRequest, "secret and code are required")
		return
	}

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

	if !h.mfaService.Verify(req.Secret, req.Code) {
		helpers.RespondAppError(w, r, apperr.New(apperr.CodeMFAInvalid, "invalid mfa code"))
		return
	}

	u, err := h.users.FindByID(r.Context(), tenantID, userID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	u.MFAEnabled = true
	u.MFASecret = req.Secret
	u.UpdatedAt = time.Now()
	if err := h.users.Update(r.Context(), u); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	h.auditor.Log(r.Context(), "user.mfa.enabled", audit.LogParams{
		ActorID: userID, TargetID: userID, TenantID: tenantID,
		ResourceType: "user", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskMedium,
	})

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "mfa enabled"})
}
