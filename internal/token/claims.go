// Package token implements the access-token engine (signing, validation,
// JWKS) and the refresh-token family rotation protocol with breach
// detection, per the token engine design.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ScopeAccess  = "access"
	ScopePreAuth = "pre_auth"
)

// Claims is the access/pre-auth token payload. Subject (sub) carries the
// user id; TenantID, Roles, and Permissions are core claims for an access
// token and are empty on a pre-auth token, which exists only to complete
// an MFA challenge.
type Claims struct {
	TenantID    uuid.UUID `json:"tid,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	Scope       string    `json:"scope"`
	jwt.RegisteredClaims
}

// UserID parses the standard "sub" claim as a UUID.
func (c Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

const accessTokenClockSkew = time.Minute

func newRegisteredClaims(issuer, audience, subject, jti string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now.Add(-accessTokenClockSkew)),
		NotBefore: jwt.NewNumericDate(now.Add(-accessTokenClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func newJTI() string {
	return fmt.Sprintf("jti_%s", uuid.NewString())
}
