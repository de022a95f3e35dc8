package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/api/helpers"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/apperr"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/authz"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/identity"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// AdminHandler serves role and role-assignment management for a tenant.
type AdminHandler struct {
	roles       repo.Roles
	assignments repo.RoleAssignments
	users       repo.Users
	roleDAG     *authz.RoleGraph
	auditor     audit.Service
	identity    *identity.Service
}

// InviteUserRequest names the invitee and the role to grant them on
// acceptance.
type InviteUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InviteUser issues a tenant invitation email. Acceptance happens via
// the normal register endpoint with an invite_token.
func (h *AdminHandler) InviteUser(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	invitedBy, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req InviteUserRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		helpers.RespondError(w, http.StatusBadRequest, "email is required")
		return
	}

	if _, err := h.identity.CreateInvitation(r.Context(), tenantID, invitedBy, req.Email, req.Role); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "invitation sent"})
}

func (h *AdminHandler) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	assignments, err := h.assignments.ListByUser(r.Context(), tenantID, targetID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

// AssignRoleRequest binds a role to a user, optionally time-limited.
type AssignRoleRequest struct {
	RoleID    uuid.UUID  `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *AdminHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	grantedBy, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req AssignRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoleID == uuid.Nil {
		helpers.RespondError(w, http.StatusBadRequest, "role_id is required")
		return
	}
	if _, err := h.roles.FindByID(r.Context(), tenantID, req.RoleID); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	assignment := &domain.UserRoleAssignment{
		ID: uuid.New(), UserID: targetID, TenantID: tenantID, RoleID: req.RoleID,
		GrantedBy: grantedBy, GrantedAt: time.Now(), ExpiresAt: req.ExpiresAt,
	}
	if err := h.assignments.Insert(r.Context(), assignment); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	h.roleDAG.Invalidate(tenantID)

	h.auditor.Log(r.Context(), "role.assigned", audit.LogParams{
		ActorID: grantedBy, TargetID: targetID, TenantID: tenantID,
		ResourceType: "role_assignment", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskMedium,
	})
	helpers.RespondJSON(w, http.StatusCreated, assignment)
}

func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	revokedBy, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	assignmentID, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}

	if err := h.assignments.Revoke(r.Context(), tenantID, assignmentID, revokedBy, time.Now()); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	h.roleDAG.Invalidate(tenantID)

	h.auditor.Log(r.Context(), "role.revoked", audit.LogParams{
		ActorID: revokedBy, TargetID: assignmentID, TenantID: tenantID,
		ResourceType: "role_assignment", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskMedium,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	roles, err := h.roles.ListByTenant(r.Context(), tenantID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// CreateRoleRequest defines a new node in the tenant's role DAG.
type CreateRoleRequest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	ParentRoleID *uuid.UUID `json:"parent_role_id,omitempty"`
	Permissions  []string   `json:"permissions"`
	Constraints  string     `json:"constraints,omitempty"`
}

func (h *AdminHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "X-Tenant-ID header required")
		return
	}
	actorID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		helpers.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	existing, err := h.roles.ListByTenant(r.Context(), tenantID)
	if err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}

	role := &domain.Role{
		ID: uuid.New(), TenantID: tenantID, Name: req.Name, Description: req.Description,
		ParentRoleID: req.ParentRoleID, Permissions: req.Permissions, Constraints: req.Constraints,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := authz.ValidateNoCycle(existing, role); err != nil {
		helpers.RespondAppError(w, r, apperr.Wrap(apperr.CodeValidation, "role hierarchy would contain a cycle", err))
		return
	}
	if err := h.roles.Insert(r.Context(), role); err != nil {
		helpers.RespondAppError(w, r, err)
		return
	}
	h.roleDAG.Invalidate(tenantID)

	h.auditor.Log(r.Context(), "role.created", audit.LogParams{
		ActorID: actorID, TargetID: role.ID, TenantID: tenantID,
		ResourceType: "role", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskLow,
	})
	helpers.RespondJSON(w, http.StatusCreated, role)
}
