package identity

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/authz"
	"github.com/nullstack-id/identitycore/internal/config"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/credential"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/notify"
	"github.com/nullstack-id/identitycore/internal/repo/memory"
	"github.com/nullstack-id/identitycore/internal/session"
	"github.com/nullstack-id/identitycore/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPasswordPolicy() config.PasswordPolicy {
	return config.PasswordPolicy{
		MinLength: 8, MaxLength: 128,
		RequireUpper: true, RequireLower: true, RequireDigit: true, RequireSymbol: true,
	}
}

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{LockoutMaxAttempts: 5, LockoutWindow: 30 * time.Minute}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKeyRing(t *testing.T) *appcrypto.KeyRing {
	t.Helper()
	rsaProvider, err := appcrypto.GenerateRSAKeyProvider("kid-1")
	require.NoError(t, err)
	return appcrypto.NewKeyRing(rsaProvider, 10*time.Minute)
}

type stubMFA struct{ valid string }

func (m stubMFA) Verify(secret, code string) bool { return code == m.valid }

func newTestService(t *testing.T) (*Service, *memory.Store, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	tenantID := uuid.New()

	revocation := token.NewRevocationIndex(store.RevokedTokens(), time.Second)
	provider := token.NewProvider(testKeyRing(t), "identitycore", "identitycore-api", 15*time.Minute, revocation)
	refreshEngine := token.NewRefreshEngine(store.RefreshTokens(), store.Sessions(), revocation, 30*24*time.Hour, 90*24*time.Hour)
	sessionEngine := session.NewEngine(store.Sessions(), store.RefreshTokens(), time.Hour, time.Minute, nil)
	roleDAG := authz.NewRoleGraph(time.Minute)

	svc := NewService(Deps{
		Users:         store.Users(),
		Roles:         store.Roles(),
		Assignments:   store.RoleAssignments(),
		Verifications: store.VerificationTokens(),
		Hasher:        &appcrypto.Argon2Hasher{Params: appcrypto.DefaultArgon2Params()},
		Policy:        credential.NewPolicy(testPasswordPolicy()),
		Lockout:       credential.NewLockoutState(testSecurityConfig()),
		Tokens:        provider,
		Revocation:    revocation,
		Refresh:       refreshEngine,
		Sessions:      sessionEngine,
		RoleDAG:       roleDAG,
		MFA:           stubMFA{valid: "123456"},
		Auditor:       audit.NewChainService(audit.NewChain(store.AuditEvents()), nil, testLogger()),
		Mailer:        &notify.DevMailer{Logger: testLogger()},
		AppURL:        "https://app.test",
	})
	return svc, store, tenantID
}

func TestService_Register_HappyPath(t *testing.T) {
	ctx := context.Background()
	svc, _, tenantID := newTestService(t)

	u, err := svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "CorrectHorse1!"})
	require.NoError(t, err)
	assert.Equal(t, domain.UserPendingVerification, u.Status)
	assert.NotEmpty(t, u.PasswordHash)
}

func TestService_Register_RejectsDuplicateIdentifier(t *testing.T) {
	ctx := context.Background()
	svc, _, tenantID := newTestService(t)

	_, err := svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "CorrectHorse1!"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "AnotherOne1!"})
	assert.Error(t, err)
}

func activateUser(ctx context.Context, store *memory.Store, tenantID uuid.UUID, email string) *domain.User {
	u, _ := store.Users().FindByIdentifier(ctx, tenantID, email)
	u.Status = domain.UserActive
	_ = store.Users().Update(ctx, u)
	return u
}

func TestService_Register_WithInviteToken_ActivatesAndAssignsRole(t *testing.T) {
	ctx := context.Background()
	svc, store, tenantID := newTestService(t)

	role := &domain.Role{ID: uuid.New(), TenantID: tenantID, Name: "member", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, store.Roles().Insert(ctx, role))

	raw, err := svc.CreateInvitation(ctx, tenantID, uuid.New(), "invitee@x.test", "member")
	require.NoError(t, err)

	u, err := svc.Register(ctx, RegisterParams{
		TenantID: tenantID, Email: "invitee@x.test", Password: "CorrectHorse1!", InviteToken: raw,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UserActive, u.Status)
	assert.True(t, u.EmailVerified)

	assignments, err := store.RoleAssignments().ListByUser(ctx, tenantID, u.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, role.ID, assignments[0].RoleID)
}

func TestService_Register_WithInviteToken_RejectsEmailMismatch(t *testing.T) {
	ctx := context.Background()
	svc, store, tenantID := newTestService(t)

	role := &domain.Role{ID: uuid.New(), TenantID: tenantID, Name: "member", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, store.Roles().Insert(ctx, role))

	raw, err := svc.CreateInvitation(ctx, tenantID, uuid.New(), "invitee@x.test", "member")
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterParams{
		TenantID: tenantID, Email: "someone-else@x.test", Password: "CorrectHorse1!", InviteToken: raw,
	})
	assert.Error(t, err)
}

func TestService_Login_HappyPath(t *testing.T) {
	ctx := context.Background()
	svc, store, tenantID := newTestService(t)

	_, err := svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "CorrectHorse1!"})
	require.NoError(t, err)
	activateUser(ctx, store, tenantID, "a@x.test")

	result, err := svc.Login(ctx, LoginParams{
		TenantID: tenantID, Identifier: "a@x.test", Password: "CorrectHorse1!",
		IP: net.ParseIP("203.0.113.5"), UserAgent: "test-agent",
	})
	require.NoError(t, err)
	assert.False(t, result.MFARequired)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.NotEmpty(t, result.SessionToken)

	claims, err := svc.tokens.ValidateToken(ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tenantID, claims.TenantID)
}

func TestService_Login_WrongPasswordLocksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	svc, store, tenantID := newTestService(t)

	_, err := svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "CorrectHorse1!"})
	require.NoError(t, err)
	activateUser(ctx, store, tenantID, "a@x.test")

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = svc.Login(ctx, LoginParams{
			TenantID: tenantID, Identifier: "a@x.test", Password: "wrong-password",
			IP: net.ParseIP("203.0.113.5"), UserAgent: "test-agent",
		})
		assert.Error(t, lastErr)
	}

	_, err = svc.Login(ctx, LoginParams{
		TenantID: tenantID, Identifier: "a@x.test", Password: "CorrectHorse1!",
		IP: net.ParseIP("203.0.113.5"), UserAgent: "test-agent",
	})
	assert.Error(t, err)
}

func TestService_Login_MFAEnabledRequiresVerification(t *testing.T) {
	ctx := context.Background()
	svc, store, tenantID := newTestService(t)

	_, err := svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "CorrectHorse1!"})
	require.NoError(t, err)
	u := activateUser(ctx, store, tenantID, "a@x.test")
	u.MFAEnabled = true
	u.MFASecret = "seed"
	require.NoError(t, store.Users().Update(ctx, u))

	result, err := svc.Login(ctx, LoginParams{
		TenantID: tenantID, Identifier: "a@x.test", Password: "CorrectHorse1!",
		IP: net.ParseIP("203.0.113.5"), UserAgent: "test-agent",
	})
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.NotEmpty(t, result.PreAuthToken)
	assert.Empty(t, result.AccessToken)

	verified, err := svc.VerifyMFA(ctx, tenantID, result.PreAuthToken, "123456", net.ParseIP("203.0.113.5"), "test-agent")
	require.NoError(t, err)
	assert.NotEmpty(t, verified.AccessToken)

	_, err = svc.VerifyMFA(ctx, tenantID, result.PreAuthToken, "000000", net.ParseIP("203.0.113.5"), "test-agent")
	assert.Error(t, err)
}

func TestService_Refresh_RotatesAndReissuesAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, store, tenantID := newTestService(t)

	_, err := svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "CorrectHorse1!"})
	require.NoError(t, err)
	activateUser(ctx, store, tenantID, "a@x.test")

	login, err := svc.Login(ctx, LoginParams{
		TenantID: tenantID, Identifier: "a@x.test", Password: "CorrectHorse1!",
		IP: net.ParseIP("203.0.113.5"), UserAgent: "test-agent",
	})
	require.NoError(t, err)

	access, newRefresh, err := svc.Refresh(ctx, tenantID, login.RefreshToken, "test-agent", net.ParseIP("203.0.113.5"))
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEqual(t, login.RefreshToken, newRefresh)

	_, _, err = svc.Refresh(ctx, tenantID, login.RefreshToken, "test-agent", net.ParseIP("203.0.113.5"))
	assert.Error(t, err)
}

func TestService_LogoutAll_RevokesEverything(t *testing.T) {
	ctx := context.Background()
	svc, store, tenantID := newTestService(t)

	_, err := svc.Register(ctx, RegisterParams{TenantID: tenantID, Email: "a@x.test", Password: "CorrectHorse1!"})
	require.NoError(t, err)
	u := activateUser(ctx, store, tenantID, "a@x.test")

	login, err := svc.Login(ctx, LoginParams{
		TenantID: tenantID, Identifier: "a@x.test", Password: "CorrectHorse1!",
		IP: net.ParseIP("203.0.113.5"), UserAgent: "test-agent",
	})
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(ctx, tenantID, u.ID))

	_, _, err = svc.Refresh(ctx, tenantID, login.RefreshToken, "test-agent", net.ParseIP("203.0.113.5"))
	assert.Error(t, err)
}
