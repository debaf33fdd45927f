// Package vault encrypts and decrypts per-tenant access tokens at rest using
// AES-256-GCM. Ciphertexts are self-contained (random nonce prefix) and
// base64-encoded for storage in text columns.
//
// Invariant: no code path in this package logs or returns plaintext or key
// material on failure. Callers receive ErrCrypto and nothing else.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCrypto is returned when a stored ciphertext cannot be decrypted with the
// configured key, typically after a key rotation without re-encryption or a
// corrupted row. It deliberately carries no detail about the input.
var ErrCrypto = errors.New("vault: ciphertext incompatible with configured key")

// Vault seals and opens access tokens with a single process-wide key.
// It is stateless and safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a base64-encoded 32-byte key.
func New(encodedKey string) (*Vault, error) {
	if encodedKey == "" {
		return nil, errors.New("vault: encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("vault: encryption key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed or
// wrong-key input yields ErrCrypto.
func (v *Vault) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCrypto
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCrypto
	}
	plain, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrCrypto
	}
	return string(plain), nil
}
