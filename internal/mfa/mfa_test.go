package mfa

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_BeginEnrollment_ProducesUsableSecret(t *testing.T) {
	s := NewService("identitycore")

	enrollment, err := s.BeginEnrollment("person@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.NotEmpty(t, enrollment.QRCodePNG)
	require.Len(t, enrollment.BackupCodes, 10)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	assert.True(t, s.Verify(enrollment.Secret, code))
}

func TestService_Verify_RejectsWrongCode(t *testing.T) {
	s := NewService("identitycore")
	enrollment, err := s.BeginEnrollment("person@example.com")
	require.NoError(t, err)

	assert.False(t, s.Verify(enrollment.Secret, "000000"))
}

func TestGenerateBackupCodes_AreUniqueAndWellFormed(t *testing.T) {
	codes, err := GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := map[string]bool{}
	for _, c := range codes {
		require.Len(t, c, 9) // XXXX-XXXX
		require.Equal(t, byte('-'), c[4])
		assert.False(t, seen[c], "backup codes must not collide: %s", c)
		seen[c] = true
	}
}

func TestHashBackupCode_IsDeterministicAndOneWay(t *testing.T) {
	codes, err := GenerateBackupCodes(1)
	require.NoError(t, err)
	code := codes[0]

	h1 := HashBackupCode(code)
	h2 := HashBackupCode(code)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, code, h1)
}
