package credential

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/config"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testPolicyConfig() config.PasswordPolicy {
	return config.PasswordPolicy{
		MinLength: 12, MaxLength: 128,
		RequireUpper: true, RequireLower: true, RequireDigit: true, RequireSymbol: true,
		RejectCommonList: true, RejectPreviousHash: true,
	}
}

func TestPolicy_Validate_RejectsWeakPasswords(t *testing.T) {
	p := NewPolicy(testPolicyConfig())

	cases := []struct {
		name      string
		candidate string
		wantField string
	}{
		{"too short", "Ab1!", "min_length"},
		{"no upper", "alllowercase1!", "require_upper"},
		{"no digit", "AllLettersHere!", "require_digit"},
		{"no symbol", "AllLettersHere1", "require_symbol"},
		{"common password", "Password123!", "common_password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Validate(tc.candidate, nil)
			assert.Error(t, err)
		})
	}
}

func TestPolicy_Validate_AcceptsStrongPassword(t *testing.T) {
	p := NewPolicy(testPolicyConfig())
	err := p.Validate("Correct-Horse-Battery9", nil)
	assert.NoError(t, err)
}

func TestPolicy_Validate_RejectsSameAsPrevious(t *testing.T) {
	p := NewPolicy(testPolicyConfig())
	err := p.Validate("Correct-Horse-Battery9", func(candidate string) bool {
		return candidate == "Correct-Horse-Battery9"
	})
	assert.Error(t, err)
}

func TestLockoutState_LocksAfterThreshold(t *testing.T) {
	cfg := config.SecurityConfig{LockoutMaxAttempts: 5, LockoutWindow: 30 * time.Minute}
	l := NewLockoutState(cfg)
	u := &domain.User{ID: uuid.New()}
	now := time.Now()

	for i := 0; i < 4; i++ {
		locked := l.OnFailure(u, now)
		assert.False(t, locked)
		assert.False(t, u.IsLocked(now))
	}
	locked := l.OnFailure(u, now)
	assert.True(t, locked)
	assert.True(t, u.IsLocked(now))
}

func TestLockoutState_PastLockExpiryTreatedAsUnlocked(t *testing.T) {
	cfg := config.SecurityConfig{LockoutMaxAttempts: 1, LockoutWindow: time.Minute}
	l := NewLockoutState(cfg)
	u := &domain.User{ID: uuid.New()}
	now := time.Now()

	l.OnFailure(u, now)
	assert.True(t, u.IsLocked(now))
	assert.False(t, u.IsLocked(now.Add(2*time.Minute)))
}

func TestLockoutState_SuccessResetsAttempts(t *testing.T) {
	cfg := config.SecurityConfig{LockoutMaxAttempts: 5, LockoutWindow: 30 * time.Minute}
	l := NewLockoutState(cfg)
	u := &domain.User{ID: uuid.New(), FailedLoginAttempts: 3}

	l.OnSuccess(u)
	assert.Equal(t, 0, u.FailedLoginAttempts)
	assert.Nil(t, u.LockedUntil)
}
