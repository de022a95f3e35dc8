package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo"
)

type revocationCacheEntry struct {
	revoked   bool
	expiresAt time.Time
}

// RevocationIndex implements RevocationChecker against the persisted
// revoked-token table, fronted by a short-lived in-process cache so that
// every access-token validation doesn't hit the repository. Positive and
// negative lookups are both cached; a negative entry is invalidated the
// instant this process revokes the jti itself (see Revoke), so a
// revocation issued by this process is visible immediately. A revocation
// issued by another process becomes visible within cacheTTL.
type RevocationIndex struct {
	repo     repo.RevokedTokens
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]revocationCacheEntry
}

// NewRevocationIndex builds a RevocationIndex. cacheTTL bounds staleness
// for revocations issued by other processes; 5s is a reasonable default.
func NewRevocationIndex(r repo.RevokedTokens, cacheTTL time.Duration) *RevocationIndex {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &RevocationIndex{repo: r, cacheTTL: cacheTTL, cache: make(map[string]revocationCacheEntry)}
}

func cacheKey(tenantID uuid.UUID, jti string) string {
	return tenantID.String() + ":" + jti
}

// IsRevoked implements RevocationChecker.
func (idx *RevocationIndex) IsRevoked(ctx context.Context, tenantID uuid.UUID, jti string) (bool, error) {
	key := cacheKey(tenantID, jti)

	idx.mu.Lock()
	entry, ok := idx.cache[key]
	idx.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.revoked, nil
	}

	revoked, err := idx.repo.IsRevoked(ctx, tenantID, jti)
	if err != nil {
		return false, err
	}

	idx.mu.Lock()
	idx.cache[key] = revocationCacheEntry{revoked: revoked, expiresAt: time.Now().Add(idx.cacheTTL)}
	idx.mu.Unlock()

	return revoked, nil
}

// Revoke persists a single access-token jti as revoked and updates the
// local cache so this process sees the effect immediately, without
// waiting for cacheTTL.
func (idx *RevocationIndex) Revoke(ctx context.Context, tenantID, userID uuid.UUID, jti, reason string, expiresAt time.Time) error {
	if err := idx.repo.Insert(ctx, &domain.RevokedToken{
		ID:        uuid.New(),
		JTI:       jti,
		UserID:    userID,
		TenantID:  tenantID,
		Kind:      domain.RevokedKindAccess,
		RevokedAt: time.Now(),
		Reason:    reason,
		ExpiresAt: expiresAt,
	}); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.cache[cacheKey(tenantID, jti)] = revocationCacheEntry{revoked: true, expiresAt: time.Now().Add(idx.cacheTTL)}
	idx.mu.Unlock()
	return nil
}

// RevokeAllActiveForUser is the logout-all / breach-cascade hook: it
// calls the repository's InsertAllActiveForUser (a no-op in both the
// memory and postgres implementations) and drops this process's cached
// lookups for the tenant. Individual jtis are not enumerated, since the
// access-token engine is stateless between issuance and expiry, and
// IsRevoked consults only per-jti rows: an access token already issued
// to userID stays valid until it expires unless its own jti is revoked
// through Revoke.
func (idx *RevocationIndex) RevokeAllActiveForUser(ctx context.Context, tenantID, userID uuid.UUID, reason string) error {
	if err := idx.repo.InsertAllActiveForUser(ctx, tenantID, userID, reason, time.Now()); err != nil {
		return err
	}

	idx.mu.Lock()
	for key := range idx.cache {
		if len(key) > len(tenantID.String()) && key[:len(tenantID.String())] == tenantID.String() {
			delete(idx.cache, key)
		}
	}
	idx.mu.Unlock()
	return nil
}
