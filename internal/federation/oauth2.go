package federation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
	"github.com/nullstack-id/identitycore/internal/token"
)

var (
	// ErrOAuthClientNotFound is returned when clientID does not resolve
	// to a registered client within tenantID.
	ErrOAuthClientNotFound = errors.New("federation: oauth client not found")
	// ErrOAuthInvalidRedirect is returned when redirectURI does not
	// exactly match one of the client's registered URIs.
	ErrOAuthInvalidRedirect = errors.New("federation: redirect_uri not registered for client")
	// ErrOAuthUnsupportedPKCE is returned for any code_challenge_method
	// other than S256; plain is never accepted.
	ErrOAuthUnsupportedPKCE = errors.New("federation: only S256 PKCE is supported")
	// ErrOAuthCodeInvalid is returned when the authorization code is
	// unknown, expired, or already redeemed.
	ErrOAuthCodeInvalid = errors.New("federation: invalid or expired authorization code")
	// ErrOAuthPKCEVerificationFailed is returned when code_verifier does
	// not hash to the code_challenge recorded at the authorize step.
	ErrOAuthPKCEVerificationFailed = errors.New("federation: pkce verification failed")
	// ErrOAuthClientNotConfidential is returned when a public client
	// attempts the client_credentials grant.
	ErrOAuthClientNotConfidential = errors.New("federation: client_credentials requires a confidential client")
	// ErrOAuthInvalidClientSecret is returned when the presented secret
	// does not match the registered client's secret hash.
	ErrOAuthInvalidClientSecret = errors.New("federation: invalid client secret")
)

// OAuthClient is a registered OAuth 2.1 client within a tenant.
type OAuthClient struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	SecretHash   string // empty for public clients
	RedirectURIs []string
	Scopes       []string
	Confidential bool // eligible for client_credentials and confidential code exchange
}

// ClientStore resolves registered OAuth clients. It is deliberately kept
// local to this package rather than folded into the core repository
// contracts: client registration is an adapter-local concern, not a
// core aggregate every tenant deployment needs.
type ClientStore interface {
	FindByID(ctx context.Context, tenantID, clientID uuid.UUID) (*OAuthClient, error)
}

// MemoryClientStore is an in-process ClientStore, suitable for tests and
// for small deployments that register clients through configuration
// rather than a database table.
type MemoryClientStore struct {
	mu      sync.Mutex
	clients map[string]*OAuthClient
}

// NewMemoryClientStore builds an empty MemoryClientStore.
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: map[string]*OAuthClient{}}
}

// Register adds or replaces a client.
func (m *MemoryClientStore) Register(c *OAuthClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[namespacedKey(c.TenantID, c.ID.String())] = c
}

func (m *MemoryClientStore) FindByID(_ context.Context, tenantID, clientID uuid.UUID) (*OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[namespacedKey(tenantID, clientID.String())]
	if !ok {
		return nil, ErrOAuthClientNotFound
	}
	return c, nil
}

type authorizationCode struct {
	ClientID      uuid.UUID `json:"client_id"`
	UserID        uuid.UUID `json:"user_id"`
	RedirectURI   string    `json:"redirect_uri"`
	CodeChallenge string    `json:"code_challenge"`
	Scope         string    `json:"scope"`
}

// AuthorizationServer implements the authorization_code+PKCE (S256 only,
// per OAuth 2.1's removal of the implicit grant and bare "plain" PKCE)
// and client_credentials grants, issuing tokens through the same
// token.Provider and token.RefreshEngine every other login path uses —
// an OAuth client mints through that shared token engine, not through a
// separate token-minting path.
type AuthorizationServer struct {
	clients ClientStore
	codes   StateStore
	hasher  appcrypto.PasswordHasher
	tokens  *token.Provider
	refresh *token.RefreshEngine
	codeTTL time.Duration
}

// NewAuthorizationServer builds an AuthorizationServer.
func NewAuthorizationServer(clients ClientStore, codes StateStore, hasher appcrypto.PasswordHasher, tokens *token.Provider, refresh *token.RefreshEngine) *AuthorizationServer {
	return &AuthorizationServer{clients: clients, codes: codes, hasher: hasher, tokens: tokens, refresh: refresh, codeTTL: 2 * time.Minute}
}

// Authorize validates an authorization request and issues a single-use
// authorization code bound to userID (the already-authenticated
// resource owner), redirectURI, and the PKCE code challenge.
func (as *AuthorizationServer) Authorize(ctx context.Context, tenantID, clientID, userID uuid.UUID, redirectURI, codeChallenge, codeChallengeMethod, scope string) (string, error) {
	client, err := as.clients.FindByID(ctx, tenantID, clientID)
	if err != nil {
		return "", err
	}
	if !redirectURIRegistered(client.RedirectURIs, redirectURI) {
		return "", ErrOAuthInvalidRedirect
	}
	if codeChallengeMethod != "S256" {
		return "", ErrOAuthUnsupportedPKCE
	}
	if codeChallenge == "" {
		return "", ErrOAuthUnsupportedPKCE
	}

	code, err := randomToken()
	if err != nil {
		return "", err
	}
	payload := authorizationCode{ClientID: clientID, UserID: userID, RedirectURI: redirectURI, CodeChallenge: codeChallenge, Scope: scope}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if err := as.codes.Put(ctx, tenantID, "oauth_code:"+code, string(raw), as.codeTTL); err != nil {
		return "", err
	}
	return code, nil
}

// ExchangeAuthorizationCode redeems a code for an access/refresh token
// pair. The code is single-use: a concurrent or repeated exchange with
// the same code always fails, per PKCE's replay protection.
func (as *AuthorizationServer) ExchangeAuthorizationCode(ctx context.Context, tenantID, clientID uuid.UUID, code, redirectURI, codeVerifier string) (accessToken, refreshToken string, err error) {
	raw, found, err := as.codes.GetDel(ctx, tenantID, "oauth_code:"+code)
	if err != nil {
		return "", "", err
	}
	if !found {
		return "", "", ErrOAuthCodeInvalid
	}
	var payload authorizationCode
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", "", fmt.Errorf("federation: corrupt authorization code payload: %w", err)
	}
	if payload.ClientID != clientID || payload.RedirectURI != redirectURI {
		return "", "", ErrOAuthCodeInvalid
	}
	if !pkceVerifies(payload.CodeChallenge, codeVerifier) {
		return "", "", ErrOAuthPKCEVerificationFailed
	}

	accessToken, _, err = as.tokens.GenerateAccessToken(ctx, payload.UserID, tenantID, nil, nil)
	if err != nil {
		return "", "", err
	}
	refreshToken, _, err = as.refresh.IssueFamily(ctx, payload.UserID, tenantID, "", "oauth2-authorization-code", "")
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// ClientCredentials issues an access token scoped to a confidential
// client itself rather than a resource owner, for machine-to-machine
// callers. The token's subject is the client's own ID.
func (as *AuthorizationServer) ClientCredentials(ctx context.Context, tenantID, clientID uuid.UUID, clientSecret string) (accessToken string, err error) {
	client, err := as.clients.FindByID(ctx, tenantID, clientID)
	if err != nil {
		return "", err
	}
	if !client.Confidential {
		return "", ErrOAuthClientNotConfidential
	}
	if err := as.hasher.Compare(client.SecretHash, clientSecret); err != nil {
		return "", ErrOAuthInvalidClientSecret
	}
	accessToken, _, err = as.tokens.GenerateAccessToken(ctx, clientID, tenantID, nil, client.Scopes)
	if err != nil {
		return "", err
	}
	return accessToken, nil
}

func redirectURIRegistered(registered []string, candidate string) bool {
	for _, r := range registered {
		if r == candidate {
			return true
		}
	}
	return false
}

func pkceVerifies(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}
