package federation

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/domain"
	"github.com/nullstack-id/identitycore/internal/repo/memory"
	"github.com/nullstack-id/identitycore/internal/token"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateStore_GetDelSingleRedemption(t *testing.T) {
	store := NewMemoryStateStore()
	tenantID := uuid.New()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, tenantID, "k", "v", time.Minute))

	val, found, err := store.GetDel(ctx, tenantID, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", val)

	_, found, err = store.GetDel(ctx, tenantID, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStateStore_PutIfAbsentRejectsReplay(t *testing.T) {
	store := NewMemoryStateStore()
	tenantID := uuid.New()
	ctx := context.Background()

	stored, err := store.PutIfAbsent(ctx, tenantID, "assertion-1", time.Minute)
	require.NoError(t, err)
	require.True(t, stored)

	storedAgain, err := store.PutIfAbsent(ctx, tenantID, "assertion-1", time.Minute)
	require.NoError(t, err)
	require.False(t, storedAgain)
}

func TestMemoryStateStore_TenantIsolation(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()

	require.NoError(t, store.Put(ctx, tenantA, "k", "a-value", time.Minute))
	_, found, err := store.GetDel(ctx, tenantB, "k")
	require.NoError(t, err)
	require.False(t, found, "tenant B must not see tenant A's state")
}

func TestResolveOrCreateUser_LinksByVerifiedEmailOnly(t *testing.T) {
	store := memory.NewStore()
	users := store.Users()
	tenantID := uuid.New()
	ctx := context.Background()

	existing := &domain.User{
		ID: uuid.New(), TenantID: tenantID, Email: "person@example.com",
		EmailVerified: true, Status: domain.UserActive,
	}
	require.NoError(t, users.Insert(ctx, existing))

	linked, err := ResolveOrCreateUser(ctx, users, tenantID, &VerifiedIdentity{
		Subject: "idp-subject-1", Email: "person@example.com", EmailVerified: true,
	})
	require.NoError(t, err)
	require.Equal(t, existing.ID, linked.ID)
}

func TestResolveOrCreateUser_UnverifiedEmailNeverLinksExisting(t *testing.T) {
	store := memory.NewStore()
	users := store.Users()
	tenantID := uuid.New()
	ctx := context.Background()

	existing := &domain.User{
		ID: uuid.New(), TenantID: tenantID, Email: "person@example.com",
		EmailVerified: true, Status: domain.UserActive,
	}
	require.NoError(t, users.Insert(ctx, existing))

	created, err := ResolveOrCreateUser(ctx, users, tenantID, &VerifiedIdentity{
		Subject: "idp-subject-2", Email: "person@example.com", EmailVerified: false,
	})
	require.NoError(t, err)
	require.NotEqual(t, existing.ID, created.ID, "an unverified IdP email must never join an existing account")
}

func TestResolveOrCreateUser_CreatesNewUserOnFirstLogin(t *testing.T) {
	store := memory.NewStore()
	users := store.Users()
	tenantID := uuid.New()
	ctx := context.Background()

	created, err := ResolveOrCreateUser(ctx, users, tenantID, &VerifiedIdentity{
		Subject: "idp-subject-3", Email: "fresh@example.com", EmailVerified: true,
	})
	require.NoError(t, err)
	require.Equal(t, "fresh@example.com", created.Email)

	found, err := users.FindByID(ctx, tenantID, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.UserActive, found.Status)
}

func issueTestCertificate(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "test-idp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return key, certPEM
}

func signAssertion(t *testing.T, key *rsa.PrivateKey, assertionID string, notOnOrAfter time.Time, audience string) []byte {
	t.Helper()
	body := fmt.Sprintf(`<Assertion ID="%s"><Conditions NotBefore="%s" NotOnOrAfter="%s"><AudienceRestriction><Audience>%s</Audience></AudienceRestriction></Conditions><Subject><NameID>user@example.com</NameID></Subject><AttributeStatement><Attribute Name="department"><AttributeValue>engineering</AttributeValue></Attribute></AttributeStatement></Assertion>`,
		assertionID,
		time.Now().Add(-time.Hour).Format(time.RFC3339),
		notOnOrAfter.Format(time.RFC3339),
		audience,
	)
	digest := sha256.Sum256([]byte(body))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	sigB64 := base64.StdEncoding.EncodeToString(sig)
	full := body[:len(body)-len("</Assertion>")] + fmt.Sprintf(`<Signature><SignatureValue>%s</SignatureValue></Signature>`, sigB64) + "</Assertion>"
	return []byte(full)
}

func TestSAMLServiceProvider_ConsumeAssertion_HappyPath(t *testing.T) {
	key, certPEM := issueTestCertificate(t)
	sp, err := NewSAMLServiceProvider("https://sp.example.com", "https://sp.example.com/acs", certPEM, NewMemoryStateStore())
	require.NoError(t, err)

	raw := signAssertion(t, key, "assertion-1", time.Now().Add(time.Hour), "https://sp.example.com")

	attrs, err := sp.ConsumeAssertion(context.Background(), uuid.New(), raw)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", attrs.NameID)
	require.Equal(t, []string{"engineering"}, attrs.Attributes["department"])
}

func TestSAMLServiceProvider_ConsumeAssertion_RejectsReplay(t *testing.T) {
	key, certPEM := issueTestCertificate(t)
	replay := NewMemoryStateStore()
	sp, err := NewSAMLServiceProvider("https://sp.example.com", "https://sp.example.com/acs", certPEM, replay)
	require.NoError(t, err)
	tenantID := uuid.New()

	raw := signAssertion(t, key, "assertion-replay", time.Now().Add(time.Hour), "https://sp.example.com")

	_, err = sp.ConsumeAssertion(context.Background(), tenantID, raw)
	require.NoError(t, err)

	_, err = sp.ConsumeAssertion(context.Background(), tenantID, raw)
	require.ErrorIs(t, err, ErrSAMLReplay)
}

func TestSAMLServiceProvider_ConsumeAssertion_RejectsExpired(t *testing.T) {
	key, certPEM := issueTestCertificate(t)
	sp, err := NewSAMLServiceProvider("https://sp.example.com", "https://sp.example.com/acs", certPEM, NewMemoryStateStore())
	require.NoError(t, err)

	raw := signAssertion(t, key, "assertion-expired", time.Now().Add(-time.Minute), "https://sp.example.com")

	_, err = sp.ConsumeAssertion(context.Background(), uuid.New(), raw)
	require.ErrorIs(t, err, ErrSAMLConditionsFailed)
}

func TestSAMLServiceProvider_ConsumeAssertion_RejectsWrongAudience(t *testing.T) {
	key, certPEM := issueTestCertificate(t)
	sp, err := NewSAMLServiceProvider("https://sp.example.com", "https://sp.example.com/acs", certPEM, NewMemoryStateStore())
	require.NoError(t, err)

	raw := signAssertion(t, key, "assertion-wrong-aud", time.Now().Add(time.Hour), "https://someone-else.example.com")

	_, err = sp.ConsumeAssertion(context.Background(), uuid.New(), raw)
	require.ErrorIs(t, err, ErrSAMLConditionsFailed)
}

func TestSAMLServiceProvider_ConsumeAssertion_RejectsBadSignature(t *testing.T) {
	_, certPEM := issueTestCertificate(t)
	otherKey, _ := issueTestCertificate(t)
	sp, err := NewSAMLServiceProvider("https://sp.example.com", "https://sp.example.com/acs", certPEM, NewMemoryStateStore())
	require.NoError(t, err)

	raw := signAssertion(t, otherKey, "assertion-bad-sig", time.Now().Add(time.Hour), "https://sp.example.com")

	_, err = sp.ConsumeAssertion(context.Background(), uuid.New(), raw)
	require.ErrorIs(t, err, ErrSAMLSignatureInvalid)
}

func newTestAuthorizationServer(t *testing.T) (*AuthorizationServer, *MemoryClientStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	tenantID := uuid.New()

	store := memory.NewStore()
	revocation := token.NewRevocationIndex(store.RevokedTokens(), time.Second)
	rsaProvider, err := appcrypto.GenerateRSAKeyProvider("kid-1")
	require.NoError(t, err)
	ring := appcrypto.NewKeyRing(rsaProvider, 10*time.Minute)
	provider := token.NewProvider(ring, "identitycore", "identitycore-api", 15*time.Minute, revocation)
	refreshEngine := token.NewRefreshEngine(store.RefreshTokens(), store.Sessions(), revocation, 30*24*time.Hour, 90*24*time.Hour)

	hasher := appcrypto.NewArgon2Hasher(appcrypto.DefaultArgon2Params())
	secretHash, err := hasher.Hash("client-secret")
	require.NoError(t, err)

	clients := NewMemoryClientStore()
	clientID := uuid.New()
	clients.Register(&OAuthClient{
		ID: clientID, TenantID: tenantID, SecretHash: secretHash,
		RedirectURIs: []string{"https://app.example.com/callback"},
		Scopes:       []string{"api:read"},
		Confidential: true,
	})

	as := NewAuthorizationServer(clients, NewMemoryStateStore(), hasher, provider, refreshEngine)
	return as, clients, tenantID, clientID
}

func TestAuthorizationServer_AuthorizationCodeFlow(t *testing.T) {
	as, _, tenantID, clientID := newTestAuthorizationServer(t)
	userID := uuid.New()
	ctx := context.Background()

	verifier := "a-sufficiently-long-pkce-code-verifier-value"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code, err := as.Authorize(ctx, tenantID, clientID, userID, "https://app.example.com/callback", challenge, "S256", "api:read")
	require.NoError(t, err)

	access, refresh, err := as.ExchangeAuthorizationCode(ctx, tenantID, clientID, code, "https://app.example.com/callback", verifier)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
}

func TestAuthorizationServer_RejectsCodeReplay(t *testing.T) {
	as, _, tenantID, clientID := newTestAuthorizationServer(t)
	userID := uuid.New()
	ctx := context.Background()

	verifier := "a-sufficiently-long-pkce-code-verifier-value"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code, err := as.Authorize(ctx, tenantID, clientID, userID, "https://app.example.com/callback", challenge, "S256", "api:read")
	require.NoError(t, err)

	_, _, err = as.ExchangeAuthorizationCode(ctx, tenantID, clientID, code, "https://app.example.com/callback", verifier)
	require.NoError(t, err)

	_, _, err = as.ExchangeAuthorizationCode(ctx, tenantID, clientID, code, "https://app.example.com/callback", verifier)
	require.ErrorIs(t, err, ErrOAuthCodeInvalid)
}

func TestAuthorizationServer_RejectsWrongPKCEVerifier(t *testing.T) {
	as, _, tenantID, clientID := newTestAuthorizationServer(t)
	userID := uuid.New()
	ctx := context.Background()

	sum := sha256.Sum256([]byte("correct-verifier"))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code, err := as.Authorize(ctx, tenantID, clientID, userID, "https://app.example.com/callback", challenge, "S256", "api:read")
	require.NoError(t, err)

	_, _, err = as.ExchangeAuthorizationCode(ctx, tenantID, clientID, code, "https://app.example.com/callback", "wrong-verifier")
	require.ErrorIs(t, err, ErrOAuthPKCEVerificationFailed)
}

func TestAuthorizationServer_RejectsUnregisteredRedirect(t *testing.T) {
	as, _, tenantID, clientID := newTestAuthorizationServer(t)
	userID := uuid.New()
	ctx := context.Background()

	_, err := as.Authorize(ctx, tenantID, clientID, userID, "https://evil.example.com/callback", "irrelevant", "S256", "api:read")
	require.ErrorIs(t, err, ErrOAuthInvalidRedirect)
}

func TestAuthorizationServer_ClientCredentialsGrant(t *testing.T) {
	as, _, tenantID, clientID := newTestAuthorizationServer(t)

	access, err := as.ClientCredentials(context.Background(), tenantID, clientID, "client-secret")
	require.NoError(t, err)
	require.NotEmpty(t, access)
}

func TestAuthorizationServer_ClientCredentialsRejectsWrongSecret(t *testing.T) {
	as, _, tenantID, clientID := newTestAuthorizationServer(t)

	_, err := as.ClientCredentials(context.Background(), tenantID, clientID, "not-the-secret")
	require.ErrorIs(t, err, ErrOAuthInvalidClientSecret)
}

func TestAuthorizationServer_ClientCredentialsRejectsPublicClient(t *testing.T) {
	as, clients, tenantID, _ := newTestAuthorizationServer(t)
	publicClientID := uuid.New()
	clients.Register(&OAuthClient{
		ID: publicClientID, TenantID: tenantID,
		RedirectURIs: []string{"https://app.example.com/callback"},
		Confidential: false,
	})

	_, err := as.ClientCredentials(context.Background(), tenantID, publicClientID, "")
	require.ErrorIs(t, err, ErrOAuthClientNotConfidential)
}
