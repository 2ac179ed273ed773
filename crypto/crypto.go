// Package crypto seals sensitive values before they hit the database,
// primarily OAuth access and refresh tokens. It uses AES-256-GCM so the
// stored blob is both confidential and tamper-evident.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Version tags rows written with the current sealing scheme. Bump it when
// the key or cipher changes so old rows can be re-sealed lazily.
const Version = 1

// Cipher seals and opens byte slices with a single 256-bit key.
// The zero value is unusable; construct with New.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a base64-encoded 32-byte key, typically taken
// from TOKEN_ENC_KEY. Generate one with:
//
//	openssl rand -base64 32
func New(base64Key string) (*Cipher, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("sealing key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("sealing key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("sealing key: want 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealing key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag. A fresh
// random nonce is drawn per call, so sealing the same value twice yields
// different output.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open verifies and decrypts a blob produced by Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, fmt.Errorf("sealed value is empty")
	}
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("sealed value too short: want at least %d bytes, got %d", ns, len(sealed))
	}
	plaintext, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		// Keep the error opaque; the caller only needs to know the value is bad.
		return nil, fmt.Errorf("open failed: integrity check did not pass")
	}
	return plaintext, nil
}

// SealString seals a string and base64-encodes the result for text columns.
// An empty string passes through unchanged so nullable columns stay empty.
func (c *Cipher) SealString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := c.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func (c *Cipher) OpenString(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	plaintext, err := c.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
