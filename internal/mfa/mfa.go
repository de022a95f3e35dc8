// Package mfa implements TOTP second-factor enrollment and verification:
// secret/QR-code generation, code validation with clock-skew tolerance,
// and single-use recovery codes for the case a user loses their
// authenticator device.
package mfa

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"image/png"
	"math/big"

	"github.com/pquerna/otp/totp"

	appcrypto "github.com/nullstack-id/identitycore/internal/crypto"
)

// ErrInvalidCode is returned when a TOTP or recovery code fails
// verification.
var ErrInvalidCode = errors.New("mfa: invalid code")

// backupCodeAlphabet excludes I, O, 0, 1 so a printed code is never
// ambiguous at a glance.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Service generates and validates TOTP secrets and recovery codes for
// one issuer identity (the platform or tenant name shown in the
// authenticator app).
type Service struct {
	issuer string
}

// NewService builds a Service that brands generated QR codes as issuer.
func NewService(issuer string) *Service {
	return &Service{issuer: issuer}
}

// Enrollment is the material handed back when a user begins MFA setup:
// the secret to persist once confirmed, a QR code image for the
// authenticator app, and a set of recovery codes to display exactly
// once.
type Enrollment struct {
	Secret      string
	QRCodePNG   []byte
	BackupCodes []string
}

// BeginEnrollment generates a fresh TOTP secret and ten recovery codes
// for accountName (typically the user's email). Nothing is persisted
// until ConfirmEnrollment verifies the user actually has the secret
// loaded in an authenticator app.
func (s *Service) BeginEnrollment(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: accountName})
	if err != nil {
		return nil, fmt.Errorf("mfa: generating totp key: %w", err)
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return nil, fmt.Errorf("mfa: rendering qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("mfa: encoding qr code png: %w", err)
	}

	codes, err := GenerateBackupCodes(10)
	if err != nil {
		return nil, err
	}

	return &Enrollment{Secret: key.Secret(), QRCodePNG: buf.Bytes(), BackupCodes: codes}, nil
}

// Verify reports whether code is a currently-valid TOTP for secret,
// tolerating the default ±1 period clock skew. It satisfies the
// identity.MFAVerifier contract.
func (s *Service) Verify(secret, code string) bool {
	return totp.Validate(code, secret)
}

// GenerateBackupCodes mints count cryptographically random recovery
// codes in XXXX-XXXX form. Callers must hash each with HashBackupCode
// before persisting; the raw values are shown to the user exactly once.
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		raw := make([]byte, 8)
		for j := range raw {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
			if err != nil {
				return nil, fmt.Errorf("mfa: generating backup code: %w", err)
			}
			raw[j] = backupCodeAlphabet[n.Int64()]
		}
		codes[i] = string(raw[:4]) + "-" + string(raw[4:])
	}
	return codes, nil
}

// HashBackupCode returns the lookup hash stored in place of a raw
// recovery code, the same unsalted SHA-256 lookup hash used for refresh
// and session opaque tokens.
func HashBackupCode(code string) string {
	return appcrypto.HashOpaqueToken(code)
}
