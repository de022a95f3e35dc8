package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords. Compare returns nil only on
// an exact, constant-time match.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Argon2Params are the Argon2id cost parameters baked into a PHC string so
// a stored hash is self-describing even after the running config changes.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params matches OWASP's current baseline recommendation.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 2, SaltLen: 16, KeyLen: 32}
}

// Argon2Hasher is the primary PasswordHasher. It encodes hashes as PHC
// strings carrying their own parameters, so NeedsRehash can detect a
// hash produced under weaker settings than the hasher's current Params.
type Argon2Hasher struct {
	Params Argon2Params
}

// NewArgon2Hasher constructs a hasher using the given cost parameters.
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{Params: params}
}

// Hash returns a self-describing PHC string:
// $argon2id$v=19$m=<kib>,t=<iter>,p=<par>$<salt>$<hash>
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.Params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: salt generation failed: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.Params.Iterations, h.Params.MemoryKiB, h.Params.Parallelism, h.Params.KeyLen)
	return encodePHC(h.Params, salt, key), nil
}

// Compare verifies password against a PHC-encoded hash in constant time,
// using the parameters embedded in the hash itself, not the hasher's
// current settings — so a login attempt against an older hash still
// verifies correctly; NeedsRehash flags it for upgrade afterward.
func (h *Argon2Hasher) Compare(hash, password string) error {
	params, salt, key, err := decodePHC(hash)
	if err != nil {
		return err
	}
	candidate := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(candidate, key) != 1 {
		return fmt.Errorf("crypto: password does not match")
	}
	return nil
}

// NeedsRehash reports whether hash was produced under weaker parameters
// than h.Params, meaning it should be replaced after the next successful
// verification.
func (h *Argon2Hasher) NeedsRehash(hash string) bool {
	params, _, _, err := decodePHC(hash)
	if err != nil {
		return true
	}
	return params.MemoryKiB < h.Params.MemoryKiB ||
		params.Iterations < h.Params.Iterations ||
		params.Parallelism < h.Params.Parallelism
}

func encodePHC(p Argon2Params, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.MemoryKiB, p.Iterations, p.Parallelism,
		b64RawStd(salt), b64RawStd(key))
}

func decodePHC(hash string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: not a recognized argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed version segment")
	}
	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Iterations, &params.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed params segment")
	}
	salt, err := b64RawStdDecode(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed salt segment")
	}
	key, err := b64RawStdDecode(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("crypto: malformed hash segment")
	}
	return params, salt, key, nil
}

// BcryptHasher verifies the legacy hash format the service shipped with
// before Argon2id. It is retained only for the verify-then-rehash path on
// login; new passwords are never hashed with it.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher constructs a legacy verifier at the given bcrypt cost.
func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("crypto: bcrypt hash failed: %w", err)
	}
	return string(bytes), nil
}

func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// IsBcryptHash reports whether hash uses the legacy $2a$/$2b$/$2y$ prefix,
// distinguishing it from a PHC-encoded Argon2id hash at the migration
// boundary.
func IsBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}
