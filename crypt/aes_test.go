package crypt

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	plaintext := []byte(`{"userId":"u1","sessionId":"s1"}`)
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestSealProducesDistinctCiphertexts(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	a, err := c.Seal([]byte("same payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, err := c.Seal([]byte("same payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct ciphertexts for identical plaintexts")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	sealed, err := c.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 'x'
	if _, err := c.Open(string(tampered)); !errors.Is(err, ErrCiphertextInvalid) {
		t.Fatalf("expected ErrCiphertextInvalid, got %v", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	for _, input := range []string{"", "!", "AAAA", "not base64 at all %%"} {
		if _, err := c.Open(input); !errors.Is(err, ErrCiphertextInvalid) {
			t.Fatalf("input %q: expected ErrCiphertextInvalid, got %v", input, err)
		}
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	c1, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	c2, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	sealed, err := c1.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := c2.Open(sealed); !errors.Is(err, ErrCiphertextInvalid) {
		t.Fatalf("expected ErrCiphertextInvalid, got %v", err)
	}
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	if _, err := NewCipher([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
