package credential

import (
	"time"

	"github.com/nullstack-id/identitycore/internal/config"
	"github.com/nullstack-id/identitycore/internal/domain"
)

// LockoutState is the per-user lockout state machine: attempts, locked
// until. It mutates the fields on domain.User in place; callers persist
// the user row after calling these.
type LockoutState struct {
	cfg config.SecurityConfig
}

// NewLockoutState builds a LockoutState from security config.
func NewLockoutState(cfg config.SecurityConfig) *LockoutState {
	return &LockoutState{cfg: cfg}
}

// CheckLocked reports whether u is currently locked as of now. A
// locked_until in the past is treated as unlocked without mutating state
// here — the caller's subsequent success/failure transition clears it.
func (l *LockoutState) CheckLocked(u *domain.User, now time.Time) bool {
	return u.IsLocked(now)
}

// OnFailure increments the attempt counter and locks the account once the
// configured threshold is reached. Returns true if this failure caused a
// fresh lock (the caller should emit account.locked).
func (l *LockoutState) OnFailure(u *domain.User, now time.Time) (justLocked bool) {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= l.cfg.LockoutMaxAttempts {
		until := now.Add(l.cfg.LockoutWindow)
		u.LockedUntil = &until
		return true
	}
	return false
}

// OnSuccess resets the lockout state after a successful authentication.
func (l *LockoutState) OnSuccess(u *domain.User) {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
}
