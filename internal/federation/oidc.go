package federation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrOIDCStateInvalid is returned when CompleteAuthorization is called
// with a state value this adapter never issued, or one already redeemed.
var ErrOIDCStateInvalid = errors.New("federation: invalid or expired oidc state")

// VerifiedIdentity is what a federation adapter hands back to the core
// once it has fully verified an assertion: a subject the core maps to a
// user by create-or-link on verified email, exactly as a password login
// would hand back a verified user.
type VerifiedIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

type oidcClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// OIDCClient is a relying-party OIDC client scoped to one identity
// provider configuration. A deployment with multiple tenant IdPs builds
// one OIDCClient per tenant-provider pair.
type OIDCClient struct {
	verifier  *oidc.IDTokenVerifier
	oauth2Cfg *oauth2.Config
	states    StateStore
	stateTTL  time.Duration
}

// NewOIDCClient performs OIDC discovery against issuerURL and builds a
// client ready to drive the authorization_code flow for clientID.
func NewOIDCClient(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string, scopes []string, states StateStore) (*OIDCClient, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("federation: oidc discovery against %s: %w", issuerURL, err)
	}
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	return &OIDCClient{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		oauth2Cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		states:   states,
		stateTTL: 10 * time.Minute,
	}, nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// BeginAuthorization mints a state and nonce, records them against
// tenantID, and returns the URL the client should be redirected to.
func (c *OIDCClient) BeginAuthorization(ctx context.Context, tenantID uuid.UUID) (redirectURL, state string, err error) {
	state, err = randomToken()
	if err != nil {
		return "", "", err
	}
	nonce, err := randomToken()
	if err != nil {
		return "", "", err
	}
	if err := c.states.Put(ctx, tenantID, "oidc_state:"+state, nonce, c.stateTTL); err != nil {
		return "", "", err
	}
	return c.oauth2Cfg.AuthCodeURL(state, oidc.Nonce(nonce)), state, nil
}

// CompleteAuthorization redeems state, exchanges code for tokens, and
// verifies the returned id_token's signature, issuer, audience, nonce,
// and expiry (all handled by the verifier from discovery metadata).
func (c *OIDCClient) CompleteAuthorization(ctx context.Context, tenantID uuid.UUID, code, state string) (*VerifiedIdentity, error) {
	nonce, found, err := c.states.GetDel(ctx, tenantID, "oidc_state:"+state)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrOIDCStateInvalid
	}

	oauth2Token, err := c.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("federation: oidc code exchange failed: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("federation: token response missing id_token")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("federation: id_token verification failed: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("federation: id_token nonce mismatch")
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("federation: extracting id_token claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("federation: id_token missing sub claim")
	}

	return &VerifiedIdentity{Subject: claims.Subject, Email: claims.Email, EmailVerified: claims.EmailVerified}, nil
}
