package federation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// ResolveOrCreateUser maps a verified federation identity to a user row
// within tenantID, creating one if this is the subject's first login
// through this provider. Linking is by verified email only — an
// unverified email from the IdP is never trusted to join an existing
// account, to avoid a spoofed-email account takeover.
func ResolveOrCreateUser(ctx context.Context, users repo.Users, tenantID uuid.UUID, identity *VerifiedIdentity) (*domain.User, error) {
	if identity.Email != "" && identity.EmailVerified {
		u, err := users.FindByIdentifier(ctx, tenantID, identity.Email)
		if err == nil {
			return u, nil
		}
		if err != repo.ErrNotFound {
			return nil, err
		}
	}

	email := identity.Email
	if email != "" && !identity.EmailVerified {
		// An unverified address that already belongs to another account
		// is not bound to the new one.
		if _, err := users.FindByIdentifier(ctx, tenantID, email); err == nil {
			email = ""
		} else if err != repo.ErrNotFound {
			return nil, err
		}
	}

	now := time.Now()
	u := &domain.User{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Email:         email,
		EmailVerified: identity.EmailVerified,
		Status:        domain.UserActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := users.Insert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
