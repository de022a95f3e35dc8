package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// PublicHandler serves endpoints that require no authentication.
type PublicHandler struct {
	tenants repo.Tenants
}

// GetTenantBySlug allows a frontend to discover tenant details by slug
// before a user has authenticated, so it can brand the login page.
func (h *PublicHandler) GetTenantBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		helpers.RespondError(w, http.StatusBadRequest, "slug required")
		return
	}

	tenant, err := h.tenants.FindBySlug(r.Context(), slug)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"id":       tenant.ID,
		"slug":     tenant.Slug,
		"branding": tenant.Branding,
	})
}
