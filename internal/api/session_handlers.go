package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/session"
)

// SessionHandler serves the caller's own session listing/revocation.
type SessionHandler struct {
	sessions *session.Engine
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
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

	sessions, err := h.sessions.ListForUser(r.Context(), tenantID, userID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := h.sessions.Revoke(r.Context(), tenantID, id); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
