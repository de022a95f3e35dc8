package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
	"github.com/nullstack-id/identitycore/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Verify_OkAfterAppendingKEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	chain := NewChain(store.AuditEvents())
	tenantID := uuid.New()

	const k = 5
	for i := 0; i < k; i++ {
		_, err := chain.Append(ctx, AppendParams{
			TenantID: tenantID, ActorID: uuid.New(), Action: "user.login",
			ResourceType: "user", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskLow,
		})
		require.NoError(t, err)
	}

	assert.NoError(t, chain.Verify(ctx, tenantID, 1, k))
}

// mutableEventStore is a minimal repo.AuditEvents fake that exposes its
// backing slice directly, so a test can flip a byte of a stored event's
// fields after the fact without going through Insert (which the memory
// fake treats as append-only, as a real audit log must).
type mutableEventStore struct {
	byTenant map[uuid.UUID][]*domain.AuditEvent
}

func newMutableEventStore() *mutableEventStore {
	return &mutableEventStore{byTenant: map[uuid.UUID][]*domain.AuditEvent{}}
}

func (m *mutableEventStore) LastForTenant(_ context.Context, tenantID uuid.UUID) (*domain.AuditEvent, error) {
	events := m.byTenant[tenantID]
	if len(events) == 0 {
		return nil, repo.ErrNotFound
	}
	return events[len(events)-1], nil
}

func (m *mutableEventStore) Insert(_ context.Context, e *domain.AuditEvent) error {
	m.byTenant[e.TenantID] = append(m.byTenant[e.TenantID], e)
	return nil
}

func (m *mutableEventStore) ListRange(_ context.Context, tenantID uuid.UUID, fromSeq, toSeq int64) ([]*domain.AuditEvent, error) {
	var out []*domain.AuditEvent
	for _, e := range m.byTenant[tenantID] {
		if e.Sequence >= fromSeq && e.Sequence <= toSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestChain_Verify_DetectsTamperedEvent(t *testing.T) {
	ctx := context.Background()
	store := newMutableEventStore()
	chain := NewChain(store)
	tenantID := uuid.New()

	const k = 5
	for i := 0; i < k; i++ {
		_, err := chain.Append(ctx, AppendParams{
			TenantID: tenantID, ActorID: uuid.New(), Action: "user.login",
			ResourceType: "user", Outcome: domain.AuditSuccess, RiskLevel: domain.RiskLow,
		})
		require.NoError(t, err)
	}

	// Flip a field on the 3rd event in place, without recomputing its
	// hash — exactly what an attacker tampering with storage would do.
	store.byTenant[tenantID][2].Action = "user.login.tampered"

	err := chain.Verify(ctx, tenantID, 1, k)
	var brokenErr *ErrChainBroken
	require.ErrorAs(t, err, &brokenErr)
	assert.EqualValues(t, 3, brokenErr.Sequence)
}

func TestChain_Append_EachEventChainsToThePrevious(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	chain := NewChain(store.AuditEvents())
	tenantID := uuid.New()

	first, err := chain.Append(ctx, AppendParams{TenantID: tenantID, Action: "a", Outcome: domain.AuditSuccess})
	require.NoError(t, err)
	assert.Empty(t, first.PrevHash)
	assert.EqualValues(t, 1, first.Sequence)

	second, err := chain.Append(ctx, AppendParams{TenantID: tenantID, Action: "b", Outcome: domain.AuditSuccess})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.EqualValues(t, 2, second.Sequence)
}

func TestChain_SequencesAreIndependentPerTenant(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	chain := NewChain(store.AuditEvents())
	tenantA, tenantB := uuid.New(), uuid.New()

	a1, err := chain.Append(ctx, AppendParams{TenantID: tenantA, Action: "a", Outcome: domain.AuditSuccess})
	require.NoError(t, err)
	b1, err := chain.Append(ctx, AppendParams{TenantID: tenantB, Action: "b", Outcome: domain.AuditSuccess})
	require.NoError(t, err)

	assert.EqualValues(t, 1, a1.Sequence)
	assert.EqualValues(t, 1, b1.Sequence)
	assert.Empty(t, b1.PrevHash)
}
