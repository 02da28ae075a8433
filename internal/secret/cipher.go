// Package secret encrypts sensitive fields before they reach storage.
//
// Ciphertexts are bound to the key they were produced with. Replacing the
// configured key makes earlier values permanently undecryptable; use the
// rekey command to migrate instead.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Prefix marks an encrypted field value and its format version.
const Prefix = "enc:v1:"

var (
	// ErrInvalidKey is returned when the supplied key is not base64 of 32 bytes.
	ErrInvalidKey = errors.New("secret: key must be base64 encoded 32 bytes")
	// ErrUndecryptable is returned when a ciphertext fails authentication,
	// typically because it was written under a different key.
	ErrUndecryptable = errors.New("secret: value cannot be decrypted with the configured key")
	// ErrNotEncrypted is returned when DecryptField receives a value without Prefix.
	ErrNotEncrypted = errors.New("secret: value is not encrypted")
)

// nonceSource is overridable for tests.
var nonceSource io.Reader = rand.Reader

// Cipher encrypts and decrypts individual string fields.
type Cipher struct {
	aead cipher.AEAD
}

// New constructs a Cipher from a base64 (standard or URL alphabet) key.
func New(encodedKey string) (*Cipher, error) {
	key, err := DecodeKey(encodedKey)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// DecodeKey parses a base64 key and checks its length.
func DecodeKey(encodedKey string) ([]byte, error) {
	trimmed := strings.TrimSpace(encodedKey)
	if trimmed == "" {
		return nil, ErrInvalidKey
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		key, err := enc.DecodeString(trimmed)
		if err == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}

	return nil, ErrInvalidKey
}

// GenerateKey returns a fresh random key in the format New accepts.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// EncryptField returns the ciphertext form of plaintext. Empty input stays
// empty so optional fields do not grow.
func (c *Cipher) EncryptField(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(nonceSource, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField.
func (c *Cipher) DecryptField(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if !IsEncrypted(ciphertext) {
		return "", ErrNotEncrypted
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ciphertext, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrUndecryptable
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrUndecryptable
	}

	return string(plain), nil
}

// IsEncrypted reports whether value carries the ciphertext prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}
