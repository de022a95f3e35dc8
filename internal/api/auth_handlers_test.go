package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nullstack-id/identitycore/internal/api/middleware"
	"github.com/nullstack-id/identitycore/internal/audit"
	"github.com/nullstack-id/identitycore/internal/authz"
	"github.com/nullstack-id/identitycore/internal/config"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/credential"
	"github.com/nullstack-id/identitycore/internal/identity"
	"github.com/nullstack-id/identitycore/internal/repo/memory"
	"github.com/nullstack-id/identitycore/internal/session"
	"github.com/nullstack-id/identitycore/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthHandler(t *testing.T) (*AuthHandler, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	tenantID := uuid.New()

	keyRing := appcrypto.NewKeyRing(mustKeyProvider(t), 10*time.Minute)
	revocation := token.NewRevocationIndex(store.RevokedTokens(), time.Second)
	provider := token.NewProvider(keyRing, "identitycore", "identitycore-api", 15*time.Minute, revocation)
	refreshEngine := token.NewRefreshEngine(store.RefreshTokens(), store.Sessions(), revocation, 30*24*time.Hour, 90*24*time.Hour)
	sessionEngine := session.NewEngine(store.Sessions(), store.RefreshTokens(), time.Hour, time.Minute, nil)

	svc := identity.NewService(identity.Deps{
		Users: store.Users(), Roles: store.Roles(), Assignments: store.RoleAssignments(),
		Hasher:  &appcrypto.Argon2Hasher{Params: appcrypto.DefaultArgon2Params()},
		Policy:  credential.NewPolicy(config.PasswordPolicy{MinLength: 8, MaxLength: 128, RequireUpper: true, RequireLower: true, RequireDigit: true, RequireSymbol: true}),
		Lockout: credential.NewLockoutState(config.SecurityConfig{LockoutMaxAttempts: 5, LockoutWindow: 30 * time.Minute}),
		Tokens:  provider, Revocation: revocation, Refresh: refreshEngine, Sessions: sessionEngine,
		RoleDAG: authz.NewRoleGraph(time.Minute),
		Auditor: audit.NewChainService(audit.NewChain(store.AuditEvents()), nil, slog.New(slog.NewTextHandler(io.Discard, nil))),
	})

	return &AuthHandler{identity: svc, sessions: sessionEngine, tokens: provider}, tenantID
}

func mustKeyProvider(t *testing.T) *appcrypto.RSAKeyProvider {
	t.Helper()
	p, err := appcrypto.GenerateRSAKeyProvider("kid-1")
	require.NoError(t, err)
	return p
}

func withTenant(req *http.Request, tenantID uuid.UUID) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.TenantIDKey, tenantID)
	return req.WithContext(ctx)
}

func TestAuthHandler_Register_HappyPath(t *testing.T) {
	h, tenantID := testAuthHandler(t)
	body, _ := json.Marshal(RegisterRequest{Email: "user@example.test", Password: "CorrectHorse1!"})
	req := withTenant(httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body)), tenantID)
	rr := httptest.NewRecorder()

	h.Register(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestAuthHandler_Register_RejectsMissingTenant(t *testing.T) {
	h, _ := testAuthHandler(t)
	body, _ := json.Marshal(RegisterRequest{Email: "user@example.test", Password: "CorrectHorse1!"})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.Register(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthHandler_Login_HappyPath_SetsSessionCookies(t *testing.T) {
	h, tenantID := testAuthHandler(t)
	registerBody, _ := json.Marshal(RegisterRequest{Email: "user@example.test", Password: "CorrectHorse1!"})
	h.Register(httptest.NewRecorder(), withTenant(httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(registerBody)), tenantID))

	loginBody, _ := json.Marshal(LoginRequest{Identifier: "user@example.test", Password: "CorrectHorse1!"})
	req := withTenant(httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(loginBody)), tenantID)
	rr := httptest.NewRecorder()

	h.Login(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	var names []string
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "access_token")
	assert.Contains(t, names, "refresh_token")
	assert.Contains(t, names, "session_token")
}

func TestAuthHandler_Login_RejectsWrongPassword(t *testing.T) {
	h, tenantID := testAuthHandler(t)
	registerBody, _ := json.Marshal(RegisterRequest{Email: "user@example.test", Password: "CorrectHorse1!"})
	h.Register(httptest.NewRecorder(), withTenant(httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(registerBody)), tenantID))

	loginBody, _ := json.Marshal(LoginRequest{Identifier: "user@example.test", Password: "WrongPassword1!"})
	req := withTenant(httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(loginBody)), tenantID)
	rr := httptest.NewRecorder()

	h.Login(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
