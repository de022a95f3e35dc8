package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers_TenantIsolation(t *testing.T) {
	store := NewStore()
	users := store.Users()
	ctx := context.Background()

	tenantA, tenantB := uuid.New(), uuid.New()
	userA := &domain.User{ID: uuid.New(), TenantID: tenantA, Email: "same@example.com", Status: domain.UserActive, CreatedAt: time.Now()}
	userB := &domain.User{ID: uuid.New(), TenantID: tenantB, Email: "same@example.com", Status: domain.UserActive, CreatedAt: time.Now()}

	require.NoError(t, users.Insert(ctx, userA))
	require.NoError(t, users.Insert(ctx, userB))

	got, err := users.FindByIdentifier(ctx, tenantA, "same@example.com")
	require.NoError(t, err)
	assert.Equal(t, userA.ID, got.ID)

	got, err = users.FindByIdentifier(ctx, tenantB, "same@example.com")
	require.NoError(t, err)
	assert.Equal(t, userB.ID, got.ID)

	_, err = users.FindByID(ctx, tenantB, userA.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = users.FindByID(ctx, tenantA, userB.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUsers_ListByTenant_NeverLeaksOtherTenant(t *testing.T) {
	store := NewStore()
	users := store.Users()
	ctx := context.Background()

	tenantA, tenantB := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, users.Insert(ctx, &domain.User{
			ID: uuid.New(), TenantID: tenantA, Email: uuid.NewString() + "@a.example", CreatedAt: time.Now(),
		}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, users.Insert(ctx, &domain.User{
			ID: uuid.New(), TenantID: tenantB, Email: uuid.NewString() + "@b.example", CreatedAt: time.Now(),
		}))
	}

	listA, err := users.ListByTenant(ctx, tenantA, 0, 100)
	require.NoError(t, err)
	assert.Len(t, listA, 5)
	for _, u := range listA {
		assert.Equal(t, tenantA, u.TenantID)
	}

	listB, err := users.ListByTenant(ctx, tenantB, 0, 100)
	require.NoError(t, err)
	assert.Len(t, listB, 3)
}

func TestRefreshTokens_Rotate_ExactlyOneWinner(t *testing.T) {
	store := NewStore()
	tokens := store.RefreshTokens()
	ctx := context.Background()

	tenantID, familyID, userID := uuid.New(), uuid.New(), uuid.New()
	tok := &domain.RefreshToken{
		ID: uuid.New(), TenantID: tenantID, FamilyID: familyID, UserID: userID,
		TokenHash: "hash-1", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, tokens.Insert(ctx, tok))

	const n = 20
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			won, err := tokens.Rotate(ctx, tenantID, tok.ID, time.Now())
			require.NoError(t, err)
			wins <- won
		}()
	}

	winners := 0
	for i := 0; i < n; i++ {
		if <-wins {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent rotation must win the race")
}

func TestVerificationTokens_ConsumeIsTenantScoped(t *testing.T) {
	store := NewStore()
	tokens := store.VerificationTokens()
	ctx := context.Background()

	tenantA, tenantB := uuid.New(), uuid.New()
	tok := &domain.VerificationToken{
		ID: uuid.New(), TenantID: tenantA, Email: "a@example.com",
		Kind: domain.TokenEmailVerify, TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, tokens.Insert(ctx, tok))

	got, err := tokens.FindByHash(ctx, tenantA, domain.TokenEmailVerify, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
	assert.Nil(t, got.ConsumedAt)

	_, err = tokens.FindByHash(ctx, tenantB, domain.TokenEmailVerify, "hash-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	err = tokens.Consume(ctx, tenantB, tok.ID, time.Now())
	assert.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, tokens.Consume(ctx, tenantA, tok.ID, time.Now()))
	got, err = tokens.FindByHash(ctx, tenantA, domain.TokenEmailVerify, "hash-1")
	require.NoError(t, err)
	assert.NotNil(t, got.ConsumedAt)
}

func TestVerificationTokens_InsertRejectsDuplicateID(t *testing.T) {
	store := NewStore()
	tokens := store.VerificationTokens()
	ctx := context.Background()

	id := uuid.New()
	tenantID := uuid.New()
	first := &domain.VerificationToken{
		ID: id, TenantID: tenantID, Email: "a@example.com",
		Kind: domain.TokenPasswordReset, TokenHash: "hash-a",
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, tokens.Insert(ctx, first))

	dup := *first
	dup.TokenHash = "hash-b"
	err := tokens.Insert(ctx, &dup)
	assert.ErrorIs(t, err, repo.ErrConflict)
}

func TestVerificationTokens_DeleteExpiredBefore(t *testing.T) {
	store := NewStore()
	tokens := store.VerificationTokens()
	ctx := context.Background()

	tenantID := uuid.New()
	now := time.Now()

	expired := &domain.VerificationToken{
		ID: uuid.New(), TenantID: tenantID, Email: "old@example.com",
		Kind: domain.TokenInvitation, TokenHash: "hash-expired",
		ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour),
	}
	live := &domain.VerificationToken{
		ID: uuid.New(), TenantID: tenantID, Email: "new@example.com",
		Kind: domain.TokenInvitation, TokenHash: "hash-live",
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	require.NoError(t, tokens.Insert(ctx, expired))
	require.NoError(t, tokens.Insert(ctx, live))

	deleted, err := tokens.DeleteExpiredBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = tokens.FindByHash(ctx, tenantID, domain.TokenInvitation, "hash-expired")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = tokens.FindByHash(ctx, tenantID, domain.TokenInvitation, "hash-live")
	assert.NoError(t, err)
}

func TestAuditEvents_RangeIsTenantScoped(t *testing.T) {
	store := NewStore()
	events := store.AuditEvents()
	ctx := context.Background()

	tenantA, tenantB := uuid.New(), uuid.New()
	require.NoError(t, events.Insert(ctx, &domain.AuditEvent{TenantID: tenantA, Sequence: 1}))
	require.NoError(t, events.Insert(ctx, &domain.AuditEvent{TenantID: tenantB, Sequence: 1}))
	require.NoError(t, events.Insert(ctx, &domain.AuditEvent{TenantID: tenantA, Sequence: 2}))

	rangeA, err := events.ListRange(ctx, tenantA, 1, 10)
	require.NoError(t, err)
	assert.Len(t, rangeA, 2)

	rangeB, err := events.ListRange(ctx, tenantB, 1, 10)
	require.NoError(t, err)
	assert.Len(t, rangeB, 1)
}
