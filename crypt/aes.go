// Package crypt provides the symmetric encryption primitive used to
// opaque-wrap refresh tokens and other sensitive payloads.
//
// Payloads are sealed with AES-256-GCM using a fresh random nonce per
// message and encoded as base64url: base64url(nonce || ciphertext+tag).
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

const keySize = 32

// ErrInvalidKey is returned when the configured key is not 32 bytes.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes")

// ErrCiphertextInvalid is returned for malformed or tampered ciphertext.
var ErrCiphertextInvalid = errors.New("invalid ciphertext")

// Cipher seals and opens payloads with AES-256-GCM.
//
// Cipher is safe for concurrent use after construction.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64url(nonce || ciphertext).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Authentication failure,
// truncation, and encoding errors all surface as ErrCiphertextInvalid.
func (c *Cipher) Open(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, ErrCiphertextInvalid
	}

	nonce := raw[:c.aead.NonceSize()]
	plaintext, err := c.aead.Open(nil, nonce, raw[c.aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}

	return plaintext, nil
}
