package token

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
)

// Token-level error kinds, per the validation-order contract: decode
// header -> select key by kid -> verify signature -> check iss/aud ->
// check nbf/exp -> check jti not revoked. Every failure mode maps to one
// of these.
var (
	ErrTokenExpired              = errors.New("token: expired")
	ErrTokenInvalid              = errors.New("token: invalid")
	ErrTokenRevoked              = errors.New("token: revoked")
	ErrTokenMalformedSignature   = errors.New("token: malformed signature")
	ErrTokenUnsupportedAlgorithm = errors.New("token: unsupported signing algorithm")
)

// RevocationChecker reports whether a jti has been revoked for a tenant.
// Implemented by internal/token's own RevocationIndex and ultimately
// backed by internal/repo.RevokedTokens.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tenantID uuid.UUID, jti string) (bool, error)
}

type jwsHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

// Provider mints and validates access and pre-auth tokens as compact RS256
// JWS tokens, signed through a KeyProvider (software RSA or HSM/KMS) so
// rotation and HSM-backed signing are transparent to every caller.
// Signing and verification are implemented directly against KeyProvider
// rather than through golang-jwt's SigningMethod registry, since that
// registry is keyed by a global algorithm name and a *rsa.PublicKey
// assertion that an HSM-backed key cannot satisfy.
type Provider struct {
	ring       *appcrypto.KeyRing
	issuer     string
	audience   string
	accessTTL  time.Duration
	preAuthTTL time.Duration
	revocation RevocationChecker
}

// NewProvider constructs a Provider. accessTTL must not exceed 60 minutes;
// config.Config.Validate already enforces this upstream, but the
// provider re-clamps it defensively since a caller could construct one
// directly in a test.
func NewProvider(ring *appcrypto.KeyRing, issuer, audience string, accessTTL time.Duration, revocation RevocationChecker) *Provider {
	if accessTTL <= 0 || accessTTL > 60*time.Minute {
		accessTTL = 15 * time.Minute
	}
	return &Provider{
		ring:       ring,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		preAuthTTL: 2 * time.Minute,
		revocation: revocation,
	}
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func (p *Provider) sign(ctx context.Context, claims Claims) (string, error) {
	current := p.ring.Current()
	header := jwsHeader{Alg: "RS256", Kid: current.KeyID(), Typ: "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("token: marshal header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}
	signingInput := b64(headerJSON) + "." + b64(claimsJSON)
	sig, err := current.Sign(ctx, []byte(signingInput))
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signingInput + "." + b64(sig), nil
}

// GenerateAccessToken mints a signed access token carrying the user's
// roles and effective permissions for tenantID.
func (p *Provider) GenerateAccessToken(ctx context.Context, userID, tenantID uuid.UUID, roles, permissions []string) (string, string, error) {
	now := time.Now()
	jti := newJTI()
	claims := Claims{
		TenantID:         tenantID,
		Roles:            roles,
		Permissions:      permissions,
		Scope:            ScopeAccess,
		RegisteredClaims: newRegisteredClaims(p.issuer, p.audience, userID.String(), jti, now, p.accessTTL),
	}
	signed, err := p.sign(ctx, claims)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// GeneratePreAuthToken mints a short-lived token proving password
// verification succeeded, used only to complete an MFA challenge.
func (p *Provider) GeneratePreAuthToken(ctx context.Context, userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope:            ScopePreAuth,
		RegisteredClaims: newRegisteredClaims(p.issuer, p.audience, userID.String(), newJTI(), now, p.preAuthTTL),
	}
	return p.sign(ctx, claims)
}

// ValidateToken implements the full validation order from the token
// engine design: header decode -> key lookup by kid -> signature verify
// -> iss/aud -> nbf/exp -> jti revocation check.
func (p *Provider) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, ErrTokenInvalid
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	var header jwsHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, ErrTokenInvalid
	}
	if header.Alg != "RS256" {
		return nil, ErrTokenUnsupportedAlgorithm
	}

	provider, ok := p.ring.Find(header.Kid, time.Now())
	if !ok {
		return nil, ErrTokenInvalid
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	signingInput := parts[0] + "." + parts[1]
	valid, err := provider.Verify(ctx, []byte(signingInput), sig)
	if err != nil {
		return nil, fmt.Errorf("token: verify: %w", err)
	}
	if !valid {
		return nil, ErrTokenMalformedSignature
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrTokenInvalid
	}

	if claims.Issuer != p.issuer {
		return nil, ErrTokenInvalid
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, ErrTokenInvalid
	}

	now := time.Now()
	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return nil, ErrTokenInvalid
	}

	if claims.Scope == ScopeAccess && p.revocation != nil {
		revoked, err := p.revocation.IsRevoked(ctx, claims.TenantID, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("token: revocation check failed: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return &claims, nil
}

// GetJWKS returns every currently-advertised public key in the ring.
func (p *Provider) GetJWKS() ([]appcrypto.JWK, error) {
	return p.ring.GetJWKS(time.Now())
}

// LoadRSAPrivateKeyPEM is a helper for dev/file-based key sources: it
// parses a PEM-encoded RSA private key, used to construct an
// appcrypto.RSAKeyProvider before building a KeyRing.
func LoadRSAPrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("token: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}
	k2, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err2 != nil {
		return nil, fmt.Errorf("token: unparseable private key: pkcs1=%v pkcs8=%w", err, err2)
	}
	rsaKey, ok := k2.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("token: key is not RSA")
	}
	return rsaKey, nil
}
