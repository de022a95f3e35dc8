package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

// ErrFingerprintMismatch is returned by Validate when the presented
// device fingerprint doesn't match the one recorded at session creation.
// The caller must treat this as a security event: the session and its
// refresh-token family are both revoked as a side effect of this call.
var ErrFingerprintMismatch = errors.New("session: device fingerprint mismatch")

// ErrSessionNotFound is returned when the presented token doesn't match
// any live session.
var ErrSessionNotFound = errors.New("session: not found")

// ErrSessionExpired is returned when the session row exists but has
// passed its expiry.
var ErrSessionExpired = errors.New("session: expired")

// FingerprintMismatchReporter receives a notification when Validate
// detects and cascades a fingerprint mismatch, so the caller can emit an
// audit event at risk_level=high without this package depending on the
// audit chain directly.
type FingerprintMismatchReporter interface {
	ReportFingerprintMismatch(ctx context.Context, tenantID, userID, sessionID uuid.UUID)
}

// Engine implements session creation, lookup, and cascade revocation.
type Engine struct {
	sessions         repo.Sessions
	refreshTokens    repo.RefreshTokens
	ttl              time.Duration
	activityThrottle time.Duration
	mismatchReporter FingerprintMismatchReporter
}

// NewEngine builds a session Engine. activityThrottle bounds how often
// last_activity is written back per session, to avoid write
// amplification on chatty clients.
func NewEngine(sessions repo.Sessions, refreshTokens repo.RefreshTokens, ttl, activityThrottle time.Duration, reporter FingerprintMismatchReporter) *Engine {
	return &Engine{
		sessions:         sessions,
		refreshTokens:    refreshTokens,
		ttl:              ttl,
		activityThrottle: activityThrottle,
		mismatchReporter: reporter,
	}
}

// Create mints a new opaque session token bound to the device
// fingerprint derived from userAgent and clientIP.
func (e *Engine) Create(ctx context.Context, userID, tenantID uuid.UUID, userAgent, clientIP string) (token string, err error) {
	token, err = appcrypto.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	s := &domain.Session{
		ID:                uuid.New(),
		UserID:            userID,
		TenantID:          tenantID,
		SessionToken:      appcrypto.HashOpaqueToken(token),
		DeviceFingerprint: Fingerprint(userAgent, clientIP),
		UserAgent:         userAgent,
		IP:                clientIP,
		LastActivity:      now,
		ExpiresAt:         now.Add(e.ttl),
		CreatedAt:         now,
	}
	if err := e.sessions.Insert(ctx, s); err != nil {
		return "", err
	}
	return token, nil
}

// Validate looks up the session for the presented opaque token and
// checks its device fingerprint against userAgent/clientIP. A mismatch
// cascades: the session is deleted, every refresh-token family belonging
// to the user is revoked, and mismatchReporter (if set) is notified so
// the caller can audit it at risk_level=high. last_activity is updated
// at most once per activityThrottle to bound write volume.
func (e *Engine) Validate(ctx context.Context, tenantID uuid.UUID, presented, userAgent, clientIP string) (*domain.Session, error) {
	s, err := e.sessions.FindByToken(ctx, appcrypto.HashOpaqueToken(presented))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if s.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}

	now := time.Now()
	if now.After(s.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	if s.DeviceFingerprint != Fingerprint(userAgent, clientIP) {
		if cascadeErr := e.cascadeRevoke(ctx, s); cascadeErr != nil {
			return nil, cascadeErr
		}
		if e.mismatchReporter != nil {
			e.mismatchReporter.ReportFingerprintMismatch(ctx, s.TenantID, s.UserID, s.ID)
		}
		return nil, ErrFingerprintMismatch
	}

	if now.Sub(s.LastActivity) >= e.activityThrottle {
		if err := e.sessions.UpdateLastActivity(ctx, tenantID, s.ID, now); err != nil {
			return nil, err
		}
		s.LastActivity = now
	}

	return s, nil
}

func (e *Engine) cascadeRevoke(ctx context.Context, s *domain.Session) error {
	if err := e.sessions.Delete(ctx, s.TenantID, s.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return e.refreshTokens.RevokeAllForUser(ctx, s.TenantID, s.UserID, domain.RevokedReasonSessionCascade, time.Now())
}

// RevokeByToken deletes the session matching the presented opaque token,
// without touching its refresh-token family (logout deletes the family
// separately via the refresh engine). A token matching no live session is
// not an error: logout is idempotent.
func (e *Engine) RevokeByToken(ctx context.Context, tenantID uuid.UUID, presented string) error {
	s, err := e.sessions.FindByToken(ctx, appcrypto.HashOpaqueToken(presented))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if s.TenantID != tenantID {
		return nil
	}
	return e.sessions.Delete(ctx, tenantID, s.ID)
}

// Revoke deletes a single session without touching its refresh-token
// family (used for an explicit per-device "sign out this device" action,
// as opposed to a fingerprint-mismatch security cascade).
func (e *Engine) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	return e.sessions.Delete(ctx, tenantID, id)
}

// RevokeAllForUser deletes every session for a user and cascades into
// every refresh-token family they own, per the Session aggregate's
// cascade invariant.
func (e *Engine) RevokeAllForUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	if err := e.sessions.DeleteAllForUser(ctx, tenantID, userID); err != nil {
		return err
	}
	return e.refreshTokens.RevokeAllForUser(ctx, tenantID, userID, domain.RevokedReasonSessionCascade, time.Now())
}

// ListForUser lists every active session for a user.
func (e *Engine) ListForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]*domain.Session, error) {
	return e.sessions.ListByUser(ctx, tenantID, userID)
}
