package tokencrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// StateSize is the number of random bytes in a CSRF state value.
const StateSize = 32

// GenerateState returns 256 random bits encoded with the URL safe base64
// alphabet and no padding.
func GenerateState() (string, error) {
	buf := make([]byte, StateSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("tokencrypt: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateKey returns a new random key encoded with standard base64, suitable
// for ENCRYPTION_KEY_BASE64.
func GenerateKey() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("tokencrypt: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// ParseKey decodes a base64 key and checks its length.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrInvalidKey)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	return key, nil
}

// DeriveKey expands master into a 32 byte sub-key bound to info using
// HKDF-SHA256. Distinct info labels yield independent keys.
func DeriveKey(master []byte, info string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("%w: master key is empty", ErrInvalidKey)
	}

	out := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("tokencrypt: derive key: %w", err)
	}
	return out, nil
}
