package ratelimit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowsUpToCapacityThenBlocks(t *testing.T) {
	l := NewLimiter(map[Scope]Limit{ScopeLogin: {Capacity: 3, Window: time.Minute}})
	tenantID := uuid.New()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(tenantID, ScopeLogin, "1.2.3.4"), "attempt %d should be allowed", i)
	}
	assert.False(t, l.Allow(tenantID, ScopeLogin, "1.2.3.4"), "capacity exceeded, must be blocked")
}

func TestLimiter_RestoresCapacityProportionallyOverWindow(t *testing.T) {
	l := NewLimiter(map[Scope]Limit{ScopeLogin: {Capacity: 2, Window: 100 * time.Millisecond}})
	tenantID := uuid.New()

	require.True(t, l.Allow(tenantID, ScopeLogin, "5.6.7.8"))
	require.True(t, l.Allow(tenantID, ScopeLogin, "5.6.7.8"))
	require.False(t, l.Allow(tenantID, ScopeLogin, "5.6.7.8"))

	time.Sleep(120 * time.Millisecond)
	assert.True(t, l.Allow(tenantID, ScopeLogin, "5.6.7.8"), "capacity should have refilled after the window elapsed")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(map[Scope]Limit{ScopeLogin: {Capacity: 1, Window: time.Minute}})
	tenantID := uuid.New()

	assert.True(t, l.Allow(tenantID, ScopeLogin, "1.1.1.1"))
	assert.False(t, l.Allow(tenantID, ScopeLogin, "1.1.1.1"))
	assert.True(t, l.Allow(tenantID, ScopeLogin, "2.2.2.2"), "a different key must have its own bucket")
}

func TestLimiter_ScopesAreIndependent(t *testing.T) {
	l := NewLimiter(map[Scope]Limit{
		ScopeLogin:    {Capacity: 1, Window: time.Minute},
		ScopeRegister: {Capacity: 1, Window: time.Minute},
	})
	tenantID := uuid.New()

	assert.True(t, l.Allow(tenantID, ScopeLogin, "9.9.9.9"))
	assert.False(t, l.Allow(tenantID, ScopeLogin, "9.9.9.9"))
	assert.True(t, l.Allow(tenantID, ScopeRegister, "9.9.9.9"), "a different scope for the same key must have its own bucket")
}

func TestLimiter_TenantOverrideWinsOverDefault(t *testing.T) {
	l := NewLimiter(map[Scope]Limit{ScopeLogin: DefaultLoginLimit()})
	tenantA := uuid.New()
	tenantB := uuid.New()
	l.SetTenantOverride(tenantA, ScopeLogin, Limit{Capacity: 1, Window: time.Minute})

	assert.True(t, l.Allow(tenantA, ScopeLogin, "3.3.3.3"))
	assert.False(t, l.Allow(tenantA, ScopeLogin, "3.3.3.3"), "tenant override of 1/min should apply")

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(tenantB, ScopeLogin, "3.3.3.3"), "tenant without an override keeps the platform default")
	}
}

func TestLimiter_TenantsAreIsolated(t *testing.T) {
	l := NewLimiter(map[Scope]Limit{ScopeLogin: {Capacity: 1, Window: time.Minute}})
	tenantA := uuid.New()
	tenantB := uuid.New()

	assert.True(t, l.Allow(tenantA, ScopeLogin, "same-ip"))
	assert.False(t, l.Allow(tenantA, ScopeLogin, "same-ip"))
	assert.True(t, l.Allow(tenantB, ScopeLogin, "same-ip"), "same IP under a different tenant must have its own bucket")
}

func TestLimiter_SweepEvictsIdleBuckets(t *testing.T) {
	l := NewLimiter(map[Scope]Limit{ScopeLogin: {Capacity: 1, Window: time.Minute}})
	tenantID := uuid.New()

	l.Allow(tenantID, ScopeLogin, "idle-ip")
	require.Len(t, l.buckets, 1)

	evicted := l.Sweep(0)
	assert.Equal(t, 1, evicted)
	assert.Len(t, l.buckets, 0)
}
