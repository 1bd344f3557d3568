package vault

import (
	"encoding/hex"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestEncryptDecryptRoundtrip(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	token := "ya29.a0AfH6SMB-example-access-token"
	sealed, err := v.Encrypt(token)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if sealed == token {
		t.Fatal("ciphertext must differ from plaintext")
	}

	plain, err := v.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plain != token {
		t.Fatalf("roundtrip mismatch: got %q", plain)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	a, _ := v.Encrypt("same-token")
	b, _ := v.Encrypt("same-token")
	if a == b {
		t.Fatal("two encryptions of one plaintext must not match")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	sealed, _ := v.Encrypt("secret")

	// Flip a character in the body of the base64 payload.
	tampered := []byte(sealed)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}
	if _, err := v.Decrypt(string(tampered)); err == nil {
		t.Fatal("expected tampered ciphertext to fail")
	}

	if _, err := v.Decrypt(sealed[:10]); err == nil {
		t.Fatal("expected truncated ciphertext to fail")
	}
	if _, err := v.Decrypt("not base64 !!!"); err == nil {
		t.Fatal("expected malformed input to fail")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	v1, _ := New(testKey)
	otherKey := hex.EncodeToString([]byte(strings.Repeat("k", 32)))
	v2, _ := New(otherKey)

	sealed, _ := v1.Encrypt("secret")
	if _, err := v2.Decrypt(sealed); err == nil {
		t.Fatal("expected decryption under a different key to fail")
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "short", "deadbeef"} {
		if _, err := New(key); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}
