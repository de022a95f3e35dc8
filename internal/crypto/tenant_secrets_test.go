package crypto

import "testing"

func testBox(t *testing.T) *SecretBox {
	t.Helper()
	box, err := NewSecretBox(map[int]string{
		1: "749ba03de00f8b0c4c794303989a0f8493600a9ce411e717aad497b3a9a9f96b",
		2: "ff9d356c25340c0847db6dd01d8b125e909426115d8dfad758006c32f8b8561e",
	}, 2)
	if err != nil {
		t.Fatalf("NewSecretBox failed: %v", err)
	}
	return box
}

func TestSecretBoxRoundTrip(t *testing.T) {
	box := testBox(t)
	plaintext := "MySuperSecretPassword123!"

	sealed, err := box.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(sealed) < 5 || sealed[:4] != "enc:" {
		t.Errorf("sealed output missing enc: prefix: %s", sealed)
	}

	decrypted, err := box.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestSecretBoxDecrypt_InvalidFormat(t *testing.T) {
	box := testBox(t)
	if _, err := box.Decrypt("plaintext password"); err == nil {
		t.Error("expected error for unsealed input, got nil")
	}
}

func TestSecretBoxDecrypt_TamperedData(t *testing.T) {
	box := testBox(t)
	sealed, err := box.Encrypt("test")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	tampered := sealed[:len(sealed)-5] + "XXXXX"
	if _, err := box.Decrypt(tampered); err == nil {
		t.Error("expected error for tampered ciphertext, got nil")
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(key) != 64 {
		t.Errorf("got key length %d, want 64", len(key))
	}
	for _, c := range key {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("generated key contains non-hex character: %c", c)
			break
		}
	}
}

func TestSecretBoxRotation_OldVersionStillDecryptable(t *testing.T) {
	box, err := NewSecretBox(map[int]string{
		1: "749ba03de00f8b0c4c794303989a0f8493600a9ce411e717aad497b3a9a9f96b",
	}, 1)
	if err != nil {
		t.Fatalf("NewSecretBox failed: %v", err)
	}
	sealed, err := box.Encrypt("sealed under v1")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	rotated, err := NewSecretBox(map[int]string{
		1: "749ba03de00f8b0c4c794303989a0f8493600a9ce411e717aad497b3a9a9f96b",
		2: "ff9d356c25340c0847db6dd01d8b125e909426115d8dfad758006c32f8b8561e",
	}, 2)
	if err != nil {
		t.Fatalf("NewSecretBox failed: %v", err)
	}
	decrypted, err := rotated.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt of v1 value after rotation failed: %v", err)
	}
	if decrypted != "sealed under v1" {
		t.Errorf("got %q, want %q", decrypted, "sealed under v1")
	}
}
