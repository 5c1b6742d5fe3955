// Package credcrypt seals provider credentials at rest with AES-256-GCM.
// Every value gets its own random IV and authentication tag; the key is
// derived from a single server-held secret with HKDF-SHA256.
package credcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"formpilot/pkg/domain"
)

const (
	keySize      = 32
	minSecretLen = 16
	hkdfInfo     = "formpilot/provider-credentials/v1"
)

var (
	// ErrSecretTooShort is returned when the configured secret cannot key the cipher.
	ErrSecretTooShort = errors.New("encryption secret must be at least 16 characters")
	// ErrMalformed indicates a stored value is missing parts or is not hex.
	ErrMalformed = errors.New("malformed sealed value")
	// ErrDecrypt indicates authentication failed (wrong key or tampered data).
	ErrDecrypt = errors.New("decrypt sealed value")
)

// Cipher seals and opens credential strings.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the AES key from secret and builds the GCM cipher.
func New(secret string) (*Cipher, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh IV. Empty plaintext seals to the zero value.
func (c *Cipher) Seal(plaintext string) (domain.SealedValue, error) {
	if plaintext == "" {
		return domain.SealedValue{}, nil
	}
	iv := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return domain.SealedValue{}, fmt.Errorf("generate iv: %w", err)
	}
	out := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(out) - c.aead.Overhead()
	return domain.SealedValue{
		Ciphertext: hex.EncodeToString(out[:tagStart]),
		IV:         hex.EncodeToString(iv),
		Tag:        hex.EncodeToString(out[tagStart:]),
	}, nil
}

// Open authenticates and decrypts v. The zero value opens to "".
func (c *Cipher) Open(v domain.SealedValue) (string, error) {
	if v.IsZero() {
		return "", nil
	}
	ciphertext, err1 := hex.DecodeString(v.Ciphertext)
	iv, err2 := hex.DecodeString(v.IV)
	tag, err3 := hex.DecodeString(v.Tag)
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(iv) != c.aead.NonceSize() || len(tag) != c.aead.Overhead() {
		return "", ErrMalformed
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plain, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
