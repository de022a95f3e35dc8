package crypto

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/go-jose/go-jose/v4"
)

// KeyProvider is the signing abstraction used by the token engine. It is
// implemented by a software RSA key (development) and by a hardware/HSM
// key custodian (production).
type KeyProvider interface {
	KeyID() string
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	Verify(ctx context.Context, digest, signature []byte) (bool, error)
	PublicKeyPEM() (string, error)
	JWK() (JWK, error)
}

// JWK is a JSON Web Key for a single RSA signing key, shaped for
// /.well-known/jwks.json. It is a thin alias over jose.JSONWebKey so the
// RSA-to-base64url field encoding (kty, n, e, ...) is handled by a
// standards-tracking library rather than hand-rolled here.
type JWK = jose.JSONWebKey

// RSAKeyProvider is a software KeyProvider over an RSA-2048 keypair,
// suitable for development and single-node deployments.
type RSAKeyProvider struct {
	kid        string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewRSAKeyProvider parses a PEM-encoded RSA private key (PKCS1 or PKCS8)
// and wraps it under the given key id.
func NewRSAKeyProvider(kid string, privateKeyPEM []byte) (*RSAKeyProvider, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in private key")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("crypto: failed to parse private key as PKCS1 (%v) or PKCS8 (%w)", err, err2)
		}
		var ok bool
		priv, ok = key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("crypto: PKCS8 key is not an RSA private key")
		}
	}
	return &RSAKeyProvider{kid: kid, privateKey: priv, publicKey: &priv.PublicKey}, nil
}

// GenerateRSAKeyProvider creates a fresh RSA-2048 keypair in memory, for
// local development bootstrapping.
func GenerateRSAKeyProvider(kid string) (*RSAKeyProvider, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("crypto: rsa key generation failed: %w", err)
	}
	return &RSAKeyProvider{kid: kid, privateKey: priv, publicKey: &priv.PublicKey}, nil
}

func (p *RSAKeyProvider) KeyID() string { return p.kid }

func (p *RSAKeyProvider) Sign(_ context.Context, digest []byte) ([]byte, error) {
	sum := sha256.Sum256(digest)
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.privateKey, crypto.SHA256, sum[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: rsa sign failed: %w", err)
	}
	return sig, nil
}

func (p *RSAKeyProvider) Verify(_ context.Context, digest, signature []byte) (bool, error) {
	sum := sha256.Sum256(digest)
	err := rsa.VerifyPKCS1v15(p.publicKey, crypto.SHA256, sum[:], signature)
	return err == nil, nil
}

func (p *RSAKeyProvider) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(p.publicKey)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal public key failed: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func (p *RSAKeyProvider) JWK() (JWK, error) {
	return JWK{
		Key:       p.publicKey,
		KeyID:     p.kid,
		Use:       "sig",
		Algorithm: "RS256",
	}, nil
}

// KMSClient is the subset of aws-sdk-go-v2's kms.Client this package
// depends on, so tests can substitute a fake.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSKeyProvider is a production KeyProvider backed by an asymmetric AWS
// KMS signing key; private key material never leaves the HSM boundary.
type KMSKeyProvider struct {
	client  KMSClient
	keyID   string
	kid     string
	pubOnce sync.Once
	pubKey  *rsa.PublicKey
	pubErr  error
}

// NewKMSKeyProvider wraps a KMS asymmetric RSA signing key identified by
// keyID, advertised under the JWKS key id kid.
func NewKMSKeyProvider(client KMSClient, keyID, kid string) *KMSKeyProvider {
	return &KMSKeyProvider{client: client, keyID: keyID, kid: kid}
}

func (p *KMSKeyProvider) KeyID() string { return p.kid }

func (p *KMSKeyProvider) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	sum := sha256.Sum256(digest)
	out, err := p.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(p.keyID),
		Message:          sum[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		return nil, fmt.Errorf("crypto: kms sign failed: %w", err)
	}
	return out.Signature, nil
}

func (p *KMSKeyProvider) Verify(ctx context.Context, digest, signature []byte) (bool, error) {
	pub, err := p.loadPublicKey(ctx)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(digest)
	err = rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], signature)
	return err == nil, nil
}

func (p *KMSKeyProvider) PublicKeyPEM() (string, error) {
	pub, err := p.loadPublicKey(context.Background())
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal kms public key failed: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (p *KMSKeyProvider) JWK() (JWK, error) {
	pub, err := p.loadPublicKey(context.Background())
	if err != nil {
		return JWK{}, err
	}
	return JWK{
		Key:       pub,
		KeyID:     p.kid,
		Use:       "sig",
		Algorithm: "RS256",
	}, nil
}

func (p *KMSKeyProvider) loadPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	p.pubOnce.Do(func() {
		out, err := p.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(p.keyID)})
		if err != nil {
			p.pubErr = fmt.Errorf("crypto: kms get-public-key failed: %w", err)
			return
		}
		key, err := x509.ParsePKIXPublicKey(out.PublicKey)
		if err != nil {
			p.pubErr = fmt.Errorf("crypto: kms returned unparseable public key: %w", err)
			return
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			p.pubErr = fmt.Errorf("crypto: kms key %s is not RSA", p.keyID)
			return
		}
		p.pubKey = rsaKey
	})
	return p.pubKey, p.pubErr
}

// retiredKey is a verification-only key kept alive through its rotation
// grace window.
type retiredKey struct {
	provider  KeyProvider
	expiresAt time.Time
}

// KeyRing holds one active signing key plus any recently-retired keys
// still within their grace window, so a token signed moments before a
// rotation still validates. GetJWKS advertises every key currently alive.
type KeyRing struct {
	mu          sync.RWMutex
	current     KeyProvider
	retired     []retiredKey
	graceWindow time.Duration
}

// NewKeyRing starts a ring with a single active key.
func NewKeyRing(current KeyProvider, graceWindow time.Duration) *KeyRing {
	return &KeyRing{current: current, graceWindow: graceWindow}
}

// Current returns the key used for new issuance.
func (r *KeyRing) Current() KeyProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Rotate installs next as the active signing key, retaining the previous
// key for verification until the grace window expires.
func (r *KeyRing) Rotate(next KeyProvider, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired = append(r.retired, retiredKey{provider: r.current, expiresAt: now.Add(r.graceWindow)})
	r.current = next
}

// Find returns the provider for kid, whether current or within its grace
// window, or false if unknown or expired.
func (r *KeyRing) Find(kid string, now time.Time) (KeyProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current.KeyID() == kid {
		return r.current, true
	}
	for _, rk := range r.retired {
		if rk.provider.KeyID() == kid && now.Before(rk.expiresAt) {
			return rk.provider, true
		}
	}
	return nil, false
}

// PruneExpired drops retired keys whose grace window has elapsed.
func (r *KeyRing) PruneExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.retired[:0]
	for _, rk := range r.retired {
		if now.Before(rk.expiresAt) {
			live = append(live, rk)
		}
	}
	r.retired = live
}

// GetJWKS returns every key alive right now: current plus unexpired retired.
func (r *KeyRing) GetJWKS(now time.Time) ([]JWK, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jwks := make([]JWK, 0, 1+len(r.retired))
	cur, err := r.current.JWK()
	if err != nil {
		return nil, err
	}
	jwks = append(jwks, cur)
	for _, rk := range r.retired {
		if now.Before(rk.expiresAt) {
			jwk, err := rk.provider.JWK()
			if err != nil {
				continue
			}
			jwks = append(jwks, jwk)
		}
	}
	return jwks, nil
}
