// Package tokencrypt seals provider access tokens for storage and mints the
// random values used to bind an authorization request to its callback.
//
// Sealed values have the form
//
//	base64(nonce) "." base64(ciphertext || tag)
//
// using AES-256-GCM with a fresh 96 bit nonce for every call. The standard
// base64 alphabet never produces ".", so splitting is unambiguous.
package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// KeySize is the required key length in bytes.
const KeySize = 32

const separator = "."

// Text codes carried by the sentinel errors.
const (
	TextCodeInvalidKey    = "tokencrypt_invalid_key"
	TextCodeInvalidFormat = "tokencrypt_invalid_format"
	TextCodeDecryption    = "tokencrypt_decryption_failed"
)

var (
	// ErrInvalidKey is returned when the key is not exactly KeySize bytes.
	ErrInvalidKey = goerrors.New("tokencrypt: encryption key must be 32 bytes", goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidKey).
		WithCode(goerrors.CodeInternal)

	// ErrInvalidFormat is returned when a sealed value is not two base64
	// components joined by ".".
	ErrInvalidFormat = goerrors.New("tokencrypt: invalid ciphertext format", goerrors.CategoryInternal).
		WithTextCode(TextCodeInvalidFormat).
		WithCode(goerrors.CodeInternal)

	// ErrDecryption is returned when a sealed value does not authenticate,
	// usually because it was sealed under a different key or was tampered with.
	ErrDecryption = goerrors.New("tokencrypt: decryption failed", goerrors.CategoryInternal).
		WithTextCode(TextCodeDecryption).
		WithCode(goerrors.CodeInternal)
)

// Cipher seals and opens token material under a single AES-256 key.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithRandom overrides the nonce source.
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) {
		if r != nil {
			c.rand = r
		}
	}
}

// NewCipher builds a Cipher from a raw 32 byte key.
func NewCipher(key []byte, opts ...Option) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tokencrypt: new cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tokencrypt: new gcm: %w", err)
	}

	c := &Cipher{aead: aead, rand: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// NewCipherFromBase64 decodes a standard base64 key and builds a Cipher.
func NewCipherFromBase64(encoded string, opts ...Option) (*Cipher, error) {
	key, err := ParseKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewCipher(key, opts...)
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", goerrors.New("tokencrypt: cipher is not configured", goerrors.CategoryInternal)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("tokencrypt: read nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(nonce) +
		separator +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. It never returns partial or
// unauthenticated plaintext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if c == nil || c.aead == nil {
		return "", goerrors.New("tokencrypt: cipher is not configured", goerrors.CategoryInternal)
	}

	parts := strings.Split(encoded, separator)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: expected 2 parts, got %d", ErrInvalidFormat, len(parts))
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrInvalidFormat, err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidFormat, c.aead.NonceSize())
	}

	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrInvalidFormat, err)
	}
	if len(sealed) < c.aead.Overhead() {
		return "", ErrDecryption
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}
