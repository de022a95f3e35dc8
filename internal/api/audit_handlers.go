package api

import (
	"net/http"
	"strconv"

	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// AuditHandler serves read access to a tenant's hash-chained audit log.
type AuditHandler struct {
	events repo.AuditEvents
}

// ListRange returns the audit events between the from/to sequence query
// parameters (inclusive), defaulting to the most recent 100 events.
func (h *AuditHandler) ListRange(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}

	to := int64(0)
	if last, err := h.events.LastForTenant(r.Context(), tenantID); err == nil {
		to = last.Sequence
	}
	from := to - 99
	if from < 1 {
		from = 1
	}

	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			from = n
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			to = n
		}
	}
	if to < from {
		helpers.RespondError(w, http.StatusBadRequest, "to must be >= from")
		return
	}

	events, err := h.events.ListRange(r.Context(), tenantID, from, to)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"events": events})
}
