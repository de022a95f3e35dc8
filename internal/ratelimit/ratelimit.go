// Package ratelimit implements the per-key token-bucket backpressure
// the HTTP surface applies to authentication endpoints: a shared
// structure keyed by caller IP, refilled on read with no global tick
// thread.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limit is a token-bucket configuration: C requests per window W, per
// key.
type Limit struct {
	Capacity int
	Window   time.Duration
}

func (l Limit) toRate() rate.Limit {
	if l.Window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(l.Capacity) / l.Window.Seconds())
}

// DefaultLoginLimit caps login attempts at 5 per minute per key.
func DefaultLoginLimit() Limit { return Limit{Capacity: 5, Window: time.Minute} }

// DefaultRegisterLimit caps registrations at 3 per hour per key.
func DefaultRegisterLimit() Limit { return Limit{Capacity: 3, Window: time.Hour} }

// DefaultGlobalLimit bounds unauthenticated traffic to any endpoint
// before it reaches a more specific per-endpoint scope.
func DefaultGlobalLimit() Limit { return Limit{Capacity: 20, Window: 10 * time.Second} }

// Scope names an endpoint class a limit applies to (e.g. "login",
// "register"), so one Limiter can enforce distinct limits per scope
// over the same keyed bucket map.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeLogin    Scope = "login"
	ScopeRegister Scope = "register"
)

// Limiter holds one token bucket per (scope, key) pair, where key is
// typically a caller IP. Idle buckets are evicted only when a caller
// invokes Sweep; the Limiter starts no background sweep of its own.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	defaults map[Scope]Limit
	overrides map[overrideKey]Limit
}

type bucketKey struct {
	scope Scope
	key   string
}

type overrideKey struct {
	tenant uuid.UUID
	scope  Scope
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLimiter builds a Limiter with the given per-scope defaults.
func NewLimiter(defaults map[Scope]Limit) *Limiter {
	return &Limiter{
		buckets:   map[bucketKey]*bucket{},
		defaults:  defaults,
		overrides: map[overrideKey]Limit{},
	}
}

// SetTenantOverride replaces the limit a tenant sees for scope, letting
// a tenant configure stricter or looser login/register throttling than
// the platform default. An
// bucket already in flight keeps its original rate until it is evicted
// by Sweep and recreated.
func (l *Limiter) SetTenantOverride(tenantID uuid.UUID, scope Scope, limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[overrideKey{tenant: tenantID, scope: scope}] = limit
}

func (l *Limiter) resolve(tenantID uuid.UUID, scope Scope) Limit {
	if lim, ok := l.overrides[overrideKey{tenant: tenantID, scope: scope}]; ok {
		return lim
	}
	return l.defaults[scope]
}

// Allow reports whether a request from key against scope, within
// tenantID, may proceed. key is typically the caller's IP address;
// tenantID selects per-tenant override limits where configured.
func (l *Limiter) Allow(tenantID uuid.UUID, scope Scope, key string) bool {
	l.mu.Lock()
	limit := l.resolve(tenantID, scope)
	bk := bucketKey{scope: scope, key: tenantID.String() + ":" + key}
	b, exists := l.buckets[bk]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(limit.toRate(), limit.Capacity)}
		l.buckets[bk] = b
	}
	b.lastAccess = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Sweep evicts buckets idle for longer than idleAfter, bounding memory
// growth in a long-running process without a background goroutine of
// its own — callers drive this from a periodic job (e.g. the same
// janitor cron that prunes expired tokens).
func (l *Limiter) Sweep(idleAfter time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-idleAfter)
	evicted := 0
	for k, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, k)
			evicted++
		}
	}
	return evicted
}
