package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyRing(t *testing.T) *appcrypto.KeyRing {
	t.Helper()
	rsaProvider, err := appcrypto.GenerateRSAKeyProvider("kid-1")
	require.NoError(t, err)
	return appcrypto.NewKeyRing(rsaProvider, 10*time.Minute)
}

func TestProvider_GenerateAndValidateAccessToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	revocation := NewRevocationIndex(store.RevokedTokens(), time.Second)
	provider := NewProvider(testKeyRing(t), "identitycore", "identitycore-api", 15*time.Minute, revocation)

	userID, tenantID := uuid.New(), uuid.New()
	signed, jti, err := provider.GenerateAccessToken(ctx, userID, tenantID, []string{"admin"}, []string{"users:read"})
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	claims, err := provider.ValidateToken(ctx, signed)
	require.NoError(t, err)
	gotUserID, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotUserID)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.Equal(t, ScopeAccess, claims.Scope)
}

func TestProvider_ValidateToken_RejectsTamperedSignature(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	revocation := NewRevocationIndex(store.RevokedTokens(), time.Second)
	provider := NewProvider(testKeyRing(t), "identitycore", "identitycore-api", 15*time.Minute, revocation)

	signed, _, err := provider.GenerateAccessToken(ctx, uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)

	tampered := signed[:len(signed)-4] + "abcd"
	_, err = provider.ValidateToken(ctx, tampered)
	assert.Error(t, err)
}

func TestProvider_ValidateToken_RejectsRevokedJTI(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	revocation := NewRevocationIndex(store.RevokedTokens(), time.Millisecond)
	provider := NewProvider(testKeyRing(t), "identitycore", "identitycore-api", 15*time.Minute, revocation)

	userID, tenantID := uuid.New(), uuid.New()
	signed, jti, err := provider.GenerateAccessToken(ctx, userID, tenantID, nil, nil)
	require.NoError(t, err)

	_, err = provider.ValidateToken(ctx, signed)
	require.NoError(t, err)

	require.NoError(t, revocation.Revoke(ctx, tenantID, userID, jti, "logout", time.Now().Add(time.Hour)))

	_, err = provider.ValidateToken(ctx, signed)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestProvider_ValidateToken_RejectsExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	revocation := NewRevocationIndex(store.RevokedTokens(), time.Second)
	provider := NewProvider(testKeyRing(t), "identitycore", "identitycore-api", time.Nanosecond, revocation)

	signed, _, err := provider.GenerateAccessToken(ctx, uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = provider.ValidateToken(ctx, signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestProvider_KeyRotation_OldTokenStillValidatesWithinGraceWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	revocation := NewRevocationIndex(store.RevokedTokens(), time.Second)
	ring := testKeyRing(t)
	provider := NewProvider(ring, "identitycore", "identitycore-api", 15*time.Minute, revocation)

	signed, _, err := provider.GenerateAccessToken(ctx, uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)

	next, err := appcrypto.GenerateRSAKeyProvider("kid-2")
	require.NoError(t, err)
	ring.Rotate(next, time.Now())

	_, err = provider.ValidateToken(ctx, signed)
	assert.NoError(t, err)

	fresh, _, err := provider.GenerateAccessToken(ctx, uuid.New(), uuid.New(), nil, nil)
	require.NoError(t, err)
	_, err = provider.ValidateToken(ctx, fresh)
	assert.NoError(t, err)
}

func newRefreshEngine(store *memory.Store) (*RefreshEngine, *RevocationIndex) {
	revocation := NewRevocationIndex(store.RevokedTokens(), time.Second)
	engine := NewRefreshEngine(store.RefreshTokens(), store.Sessions(), revocation, 7*24*time.Hour, 30*24*time.Hour)
	return engine, revocation
}

func TestRefreshEngine_Rotate_ExactlyOneWinnerUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine, _ := newRefreshEngine(store)

	userID, tenantID := uuid.New(), uuid.New()
	secret, _, err := engine.IssueFamily(ctx, userID, tenantID, "fp", "ua", "127.0.0.1")
	require.NoError(t, err)

	const racers = 20
	var wins int64
	var reused int64
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			_, _, err := engine.Rotate(ctx, tenantID, secret, "fp", "ua", "127.0.0.1")
			if err == nil {
				atomic.AddInt64(&wins, 1)
			} else if err == ErrRefreshTokenReused {
				atomic.AddInt64(&reused, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, racers-1, reused)
}

func TestRefreshEngine_Rotate_HappyPath(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine, _ := newRefreshEngine(store)

	userID, tenantID := uuid.New(), uuid.New()
	secret, _, err := engine.IssueFamily(ctx, userID, tenantID, "fp", "ua", "127.0.0.1")
	require.NoError(t, err)

	newSecret, gotUserID, err := engine.Rotate(ctx, tenantID, secret, "fp", "ua", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, userID, gotUserID)
	assert.NotEqual(t, secret, newSecret)

	_, _, err = engine.Rotate(ctx, tenantID, secret, "fp", "ua", "127.0.0.1")
	assert.ErrorIs(t, err, ErrRefreshTokenReused)
}

func TestRefreshEngine_ReuseOfRotatedTokenCascadesFamilyRevocation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine, _ := newRefreshEngine(store)

	userID, tenantID := uuid.New(), uuid.New()
	secret1, _, err := engine.IssueFamily(ctx, userID, tenantID, "fp", "ua", "127.0.0.1")
	require.NoError(t, err)

	secret2, _, err := engine.Rotate(ctx, tenantID, secret1, "fp", "ua", "127.0.0.1")
	require.NoError(t, err)

	// Replay the now-dead secret1: this must be treated as a breach with
	// no grace period, and must revoke secret2 as collateral damage too.
	_, _, err = engine.Rotate(ctx, tenantID, secret1, "fp", "ua", "127.0.0.1")
	assert.ErrorIs(t, err, ErrRefreshTokenReused)

	_, _, err = engine.Rotate(ctx, tenantID, secret2, "fp", "ua", "127.0.0.1")
	assert.Error(t, err, "surviving family member must also be revoked by the breach cascade")
}

func TestRefreshEngine_LogoutAll_RevokesEveryFamily(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine, _ := newRefreshEngine(store)

	userID, tenantID := uuid.New(), uuid.New()
	secretA, _, err := engine.IssueFamily(ctx, userID, tenantID, "fpA", "ua", "127.0.0.1")
	require.NoError(t, err)
	secretB, _, err := engine.IssueFamily(ctx, userID, tenantID, "fpB", "ua", "127.0.0.1")
	require.NoError(t, err)

	require.NoError(t, engine.LogoutAll(ctx, tenantID, userID))

	_, _, err = engine.Rotate(ctx, tenantID, secretA, "fpA", "ua", "127.0.0.1")
	assert.Error(t, err)
	_, _, err = engine.Rotate(ctx, tenantID, secretB, "fpB", "ua", "127.0.0.1")
	assert.Error(t, err)
}

func TestRefreshEngine_FamilyExceedingMaxLifetimeIsRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	revocation := NewRevocationIndex(store.RevokedTokens(), time.Second)
	engine := NewRefreshEngine(store.RefreshTokens(), store.Sessions(), revocation, 7*24*time.Hour, time.Nanosecond)

	userID, tenantID := uuid.New(), uuid.New()
	secret, _, err := engine.IssueFamily(ctx, userID, tenantID, "fp", "ua", "127.0.0.1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, _, err = engine.Rotate(ctx, tenantID, secret, "fp", "ua", "127.0.0.1")
	assert.ErrorIs(t, err, ErrRefreshFamilyExpired)
}
