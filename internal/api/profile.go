package api

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/identity"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// ProfileHandler serves the caller's own user record: reading it,
// patching the free-form profile fields, and rotating the password.
type ProfileHandler struct {
	users    repo.Users
	identity *identity.Service
}

// Me returns the authenticated caller's user record.
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
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
	helpers.RespondJSON(w, http.StatusOK, u)
}

// UpdateProfileRequest patches the display fields of a user's profile.
type UpdateProfileRequest struct {
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Locale    string `json:"locale"`
}

// UpdateProfile allows a user to change their display name and other
// free-form profile fields.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
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

	var req UpdateProfileRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.FullName) > 100 {
		helpers.RespondError(w, http.StatusBadRequest, "name too long")
		return
	}

	u, err := h.users.FindByID(r.Context(), tenantID, userID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	u.Profile.FullName = req.FullName
	u.Profile.AvatarURL = req.AvatarURL
	u.Profile.Locale = req.Locale
	u.UpdatedAt = time.Now()

	if err := h.users.Update(r.Context(), u); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ChangePasswordRequest is the expected JSON body for a password
// rotation, requiring proof of the current password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword rotates the caller's credentials and revokes every
// active session, the caller's own included, forcing re-authentication
// everywhere.
func (h *ProfileHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
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

	var req ChangePasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		helpers.RespondError(w, http.StatusBadRequest, "old_password and new_password are required")
		return
	}
	if utf8.RuneCountInString(req.NewPassword) < 12 {
		helpers.RespondError(w, http.StatusBadRequest, "new password must be at least 12 characters")
		return
	}

	if err := h.identity.ChangePassword(r.Context(), tenantID, userID, req.OldPassword, req.NewPassword); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	if err := h.identity.LogoutAll(r.Context(), tenantID, userID); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	clearSessionCookies(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"status": "password_changed", "message": "all sessions revoked, please log in again",
	})
}
