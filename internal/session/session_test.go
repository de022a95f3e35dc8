package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	called    bool
	tenantID  uuid.UUID
	userID    uuid.UUID
	sessionID uuid.UUID
}

func (r *recordingReporter) ReportFingerprintMismatch(_ context.Context, tenantID, userID, sessionID uuid.UUID) {
	r.called = true
	r.tenantID = tenantID
	r.userID = userID
	r.sessionID = sessionID
}

func TestEngine_Validate_HappyPath(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	reporter := &recordingReporter{}
	engine := NewEngine(store.Sessions(), store.RefreshTokens(), time.Hour, time.Minute, reporter)

	userID, tenantID := uuid.New(), uuid.New()
	token, err := engine.Create(ctx, userID, tenantID, "Mozilla/5.0", "203.0.113.10")
	require.NoError(t, err)

	s, err := engine.Validate(ctx, tenantID, token, "Mozilla/5.0", "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, userID, s.UserID)
	assert.False(t, reporter.called)
}

func TestEngine_Validate_FingerprintMismatchCascadesRevocation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	reporter := &recordingReporter{}
	engine := NewEngine(store.Sessions(), store.RefreshTokens(), time.Hour, time.Minute, reporter)

	userID, tenantID := uuid.New(), uuid.New()
	token, err := engine.Create(ctx, userID, tenantID, "Mozilla/5.0", "203.0.113.10")
	require.NoError(t, err)

	refreshTokens := store.RefreshTokens()
	familyID := uuid.New()
	refreshID := uuid.New()
	now := time.Now()
	require.NoError(t, refreshTokens.Insert(ctx, &domain.RefreshToken{
		ID:        refreshID,
		UserID:    userID,
		TenantID:  tenantID,
		FamilyID:  familyID,
		TokenHash: appcrypto.HashOpaqueToken("refresh-secret"),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))

	_, err = engine.Validate(ctx, tenantID, token, "curl/8.0", "198.51.100.5")
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
	assert.True(t, reporter.called)
	assert.Equal(t, userID, reporter.userID)

	sessions, err := engine.ListForUser(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	won, err := refreshTokens.Rotate(ctx, tenantID, refreshID, time.Now())
	require.NoError(t, err)
	assert.False(t, won, "refresh family must already be revoked by the fingerprint-mismatch cascade")
}

func TestEngine_Validate_WrongTenantIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := NewEngine(store.Sessions(), store.RefreshTokens(), time.Hour, time.Minute, nil)

	userID, tenantID := uuid.New(), uuid.New()
	token, err := engine.Create(ctx, userID, tenantID, "Mozilla/5.0", "203.0.113.10")
	require.NoError(t, err)

	_, err = engine.Validate(ctx, uuid.New(), token, "Mozilla/5.0", "203.0.113.10")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_RevokeAllForUser_CascadesIntoRefreshFamilies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := NewEngine(store.Sessions(), store.RefreshTokens(), time.Hour, time.Minute, nil)

	userID, tenantID := uuid.New(), uuid.New()
	_, err := engine.Create(ctx, userID, tenantID, "Mozilla/5.0", "203.0.113.10")
	require.NoError(t, err)

	require.NoError(t, engine.RevokeAllForUser(ctx, tenantID, userID))

	sessions, err := engine.ListForUser(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
