package token

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// ErrRefreshTokenReused is returned by Rotate when the presented secret
// matches a family member that is no longer the live head of its chain.
// Per the family rotation protocol, this is ALWAYS treated as a breach —
// there is no grace window for a legitimate client racing its own
// refresh call. A client that needs to tolerate its own concurrent
// refresh calls must serialize them itself.
var ErrRefreshTokenReused = errors.New("token: refresh token reused")

// ErrRefreshTokenNotFound is returned when the presented secret doesn't
// hash to any known row.
var ErrRefreshTokenNotFound = errors.New("token: refresh token not found")

// ErrRefreshFamilyExpired is returned when a family has outlived its
// configured maximum total lifetime, regardless of individual token TTLs.
var ErrRefreshFamilyExpired = errors.New("token: refresh family exceeded max lifetime")

// RefreshEngine implements the family rotation protocol: each refresh
// exchanges the presented secret for a new one in the same family,
// revoking the presented one. Reuse of any non-head family member
// (because it was already rotated away, or because it expired) is
// treated as a compromise signal and revokes the entire family plus
// every session of its user; access tokens already issued are not
// revoked by jti (see RevocationIndex.RevokeAllActiveForUser).
type RefreshEngine struct {
	tokens      repo.RefreshTokens
	sessions    repo.Sessions
	revocation  *RevocationIndex
	ttl         time.Duration
	maxLifetime time.Duration
}

// NewRefreshEngine builds a RefreshEngine. ttl bounds a single refresh
// token's life; maxLifetime bounds how long a family may be rotated
// before the caller is forced to re-authenticate from scratch.
func NewRefreshEngine(tokens repo.RefreshTokens, sessions repo.Sessions, revocation *RevocationIndex, ttl, maxLifetime time.Duration) *RefreshEngine {
	return &RefreshEngine{tokens: tokens, sessions: sessions, revocation: revocation, ttl: ttl, maxLifetime: maxLifetime}
}

// IssueFamily mints the first refresh token of a brand-new family, as
// part of login. Returns the opaque secret to hand to the client; only
// its hash is ever persisted.
func (e *RefreshEngine) IssueFamily(ctx context.Context, userID, tenantID uuid.UUID, deviceFingerprint, userAgent, ip string) (secret string, familyID uuid.UUID, err error) {
	secret, err = appcrypto.NewOpaqueToken()
	if err != nil {
		return "", uuid.Nil, err
	}
	familyID = uuid.New()
	now := time.Now()
	row := &domain.RefreshToken{
		ID:                uuid.New(),
		UserID:            userID,
		TenantID:          tenantID,
		FamilyID:          familyID,
		TokenHash:         appcrypto.HashOpaqueToken(secret),
		DeviceFingerprint: deviceFingerprint,
		UserAgent:         userAgent,
		IP:                ip,
		ExpiresAt:         now.Add(e.ttl),
		CreatedAt:         now,
	}
	if err := e.tokens.Insert(ctx, row); err != nil {
		return "", uuid.Nil, err
	}
	return secret, familyID, nil
}

// Rotate exchanges a presented refresh secret for a new one in the same
// family. On reuse of a dead family member it revokes the whole family,
// every session tied to the user, and reports ErrRefreshTokenReused so
// the caller can force re-authentication and emit a security alert.
func (e *RefreshEngine) Rotate(ctx context.Context, tenantID uuid.UUID, presented string, deviceFingerprint, userAgent, ip string) (newSecret string, userID uuid.UUID, err error) {
	row, err := e.tokens.FindByHash(ctx, appcrypto.HashOpaqueToken(presented))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", uuid.Nil, ErrRefreshTokenNotFound
		}
		return "", uuid.Nil, err
	}

	now := time.Now()

	firstCreated, err := e.tokens.FamilyFirstCreatedAt(ctx, tenantID, row.FamilyID)
	if err != nil {
		return "", uuid.Nil, err
	}
	if now.Sub(firstCreated) > e.maxLifetime {
		_ = e.revokeFamilyAndCascade(ctx, row, domain.RevokedReasonFamilyCompromise)
		return "", uuid.Nil, ErrRefreshFamilyExpired
	}

	won, err := e.tokens.Rotate(ctx, tenantID, row.ID, now)
	if err != nil {
		return "", uuid.Nil, err
	}
	if !won {
		// The row was already revoked or expired: either this exact
		// secret was already rotated away by an earlier call, or it was
		// never live to begin with. Both are replay of a dead token.
		if cascadeErr := e.revokeFamilyAndCascade(ctx, row, domain.RevokedReasonFamilyCompromise); cascadeErr != nil {
			return "", uuid.Nil, cascadeErr
		}
		return "", uuid.Nil, ErrRefreshTokenReused
	}

	newSecret, err = appcrypto.NewOpaqueToken()
	if err != nil {
		return "", uuid.Nil, err
	}
	next := &domain.RefreshToken{
		ID:                uuid.New(),
		UserID:            row.UserID,
		TenantID:          tenantID,
		FamilyID:          row.FamilyID,
		TokenHash:         appcrypto.HashOpaqueToken(newSecret),
		DeviceFingerprint: deviceFingerprint,
		UserAgent:         userAgent,
		IP:                ip,
		ExpiresAt:         now.Add(e.ttl),
		CreatedAt:         now,
	}
	if err := e.tokens.Insert(ctx, next); err != nil {
		return "", uuid.Nil, err
	}

	return newSecret, row.UserID, nil
}

func (e *RefreshEngine) revokeFamilyAndCascade(ctx context.Context, row *domain.RefreshToken, reason domain.RefreshTokenRevokedReason) error {
	now := time.Now()
	if err := e.tokens.RevokeFamily(ctx, row.TenantID, row.FamilyID, reason, now); err != nil {
		return err
	}
	if err := e.sessions.DeleteAllForUser(ctx, row.TenantID, row.UserID); err != nil {
		return err
	}
	if e.revocation != nil {
		if err := e.revocation.RevokeAllActiveForUser(ctx, row.TenantID, row.UserID, string(reason)); err != nil {
			return err
		}
	}
	return nil
}

// Logout revokes a single family (one device logging out).
func (e *RefreshEngine) Logout(ctx context.Context, tenantID uuid.UUID, presented string) error {
	row, err := e.tokens.FindByHash(ctx, appcrypto.HashOpaqueToken(presented))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.tokens.RevokeFamily(ctx, tenantID, row.FamilyID, domain.RevokedReasonLogout, time.Now())
}

// LogoutAll revokes every refresh family for a user (all devices) and
// every session, then calls RevocationIndex.RevokeAllActiveForUser;
// access tokens already issued are not revoked by jti.
func (e *RefreshEngine) LogoutAll(ctx context.Context, tenantID, userID uuid.UUID) error {
	now := time.Now()
	if err := e.tokens.RevokeAllForUser(ctx, tenantID, userID, domain.RevokedReasonLogoutAll, now); err != nil {
		return err
	}
	if err := e.sessions.DeleteAllForUser(ctx, tenantID, userID); err != nil {
		return err
	}
	if e.revocation != nil {
		return e.revocation.RevokeAllActiveForUser(ctx, tenantID, userID, string(domain.RevokedReasonLogoutAll))
	}
	return nil
}
