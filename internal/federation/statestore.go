// Package federation implements the narrow per-protocol adapter
// contracts (C9): an OIDC relying-party client, a SAML service provider,
// and an OAuth 2.1 authorization server, each issuing/consuming tokens
// through the C4 token engine rather than minting their own.
package federation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StateStore is the tenant-scoped, short-lived key/value store the OIDC
// flow uses for authorization-request state/nonce and the SAML adapter
// uses for assertion-ID replay detection. Scoping every key by tenant ID
// keeps one tenant's federation traffic from colliding with another's.
type StateStore interface {
	// Put stores value under key for ttl, tenant-scoped.
	Put(ctx context.Context, tenantID uuid.UUID, key, value string, ttl time.Duration) error
	// GetDel atomically reads and deletes key, so a state/nonce value can
	// only ever be redeemed once.
	GetDel(ctx context.Context, tenantID uuid.UUID, key string) (value string, found bool, err error)
	// PutIfAbsent stores a marker under key only if absent, reporting
	// whether this call was the one that stored it. Used for replay
	// detection, where redemption must not delete the record (a SAML
	// assertion ID must never be accepted twice within its validity
	// window, not just once per read).
	PutIfAbsent(ctx context.Context, tenantID uuid.UUID, key string, ttl time.Duration) (stored bool, err error)
}

func namespacedKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + ":" + key
}

// MemoryStateStore is the in-process StateStore fallback used when no
// Redis connection is configured; it is also what every federation unit
// test runs against.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStateStore builds an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: map[string]memoryEntry{}}
}

func (m *MemoryStateStore) prune(now time.Time) {
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

func (m *MemoryStateStore) Put(_ context.Context, tenantID uuid.UUID, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.prune(now)
	m.entries[namespacedKey(tenantID, key)] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryStateStore) GetDel(_ context.Context, tenantID uuid.UUID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.prune(now)
	k := namespacedKey(tenantID, key)
	e, ok := m.entries[k]
	if !ok {
		return "", false, nil
	}
	delete(m.entries, k)
	return e.value, true, nil
}

func (m *MemoryStateStore) PutIfAbsent(_ context.Context, tenantID uuid.UUID, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.prune(now)
	k := namespacedKey(tenantID, key)
	if _, ok := m.entries[k]; ok {
		return false, nil
	}
	m.entries[k] = memoryEntry{value: "1", expiresAt: now.Add(ttl)}
	return true, nil
}

// RedisStateStore is the production StateStore, backed by Redis so
// state survives across API instances behind a load balancer.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore wraps an existing redis.Client.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (r *RedisStateStore) Put(ctx context.Context, tenantID uuid.UUID, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, namespacedKey(tenantID, key), value, ttl).Err()
}

func (r *RedisStateStore) GetDel(ctx context.Context, tenantID uuid.UUID, key string) (string, bool, error) {
	val, err := r.client.GetDel(ctx, namespacedKey(tenantID, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisStateStore) PutIfAbsent(ctx context.Context, tenantID uuid.UUID, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, namespacedKey(tenantID, key), "1", ttl).Result()
}
