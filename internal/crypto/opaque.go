package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// OpaqueTokenBytes is the entropy of a minted opaque token: 256 bits.
const OpaqueTokenBytes = 32

// NewOpaqueToken mints a cryptographically random opaque secret, base64url
// encoded with no padding, used for refresh tokens and session tokens.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: opaque token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashOpaqueToken returns the unsalted lookup hash stored alongside an
// opaque token: SHA-256 of the token itself. The token carries its own
// 256 bits of entropy, so a per-token random salt would add nothing; this
// matches the lookup-by-hash pattern used for refresh tokens.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SecureCompare performs a constant-time comparison of two token strings,
// for comparing a caller-supplied value against a stored secret outside
// of a hash lookup.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
