// Package sealer implements at-rest encryption of OAuth tokens with key
// rotation: an ordered list of AEAD keys, the first of which encrypts new
// values while every configured key is tried in turn to decrypt existing
// ones, so a key can be rotated without invalidating tokens sealed under
// the previous one.
package sealer

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidToken is returned when a sealed value cannot be opened by any
// configured key. Callers must treat this as fatal for the affected user's
// token — the value cannot be recovered.
var ErrInvalidToken = errors.New("sealer: invalid token")

// Sealer seals and opens token values. With no keys configured it operates
// in development mode: values pass through as plaintext, wrapped with a
// recognizable prefix so Open and Seal remain symmetric.
type Sealer struct {
	aeads []aeadEntry
}

type aeadEntry struct {
	aead chacha20poly1305.AEAD
}

const plaintextPrefix = "plain:"

// New builds a Sealer from an ordered list of base64-encoded 32-byte keys.
// keys[0] is used to encrypt; all keys are tried, in order, to decrypt. An
// empty list puts the Sealer into development (plaintext) mode.
func New(keys []string) (*Sealer, error) {
	s := &Sealer{}
	for i, k := range keys {
		raw, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("sealer: key %d: %w", i, err)
		}
		aead, err := chacha20poly1305.New(raw)
		if err != nil {
			return nil, fmt.Errorf("sealer: key %d: %w", i, err)
		}
		s.aeads = append(s.aeads, aeadEntry{aead: aead})
	}
	return s, nil
}

// DevelopmentMode reports whether no encryption key is configured.
func (s *Sealer) DevelopmentMode() bool {
	return len(s.aeads) == 0
}

// Seal encrypts plaintext with the first configured key, returning a
// base64 string encoding nonce||ciphertext. With no keys configured it
// returns plaintext prefixed to mark it as such.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s.DevelopmentMode() {
		return plaintextPrefix + plaintext, nil
	}
	aead := s.aeads[0].aead
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal, trying every configured key in
// order until one succeeds. ErrInvalidToken is returned if none do.
func (s *Sealer) Open(sealed string) (string, error) {
	if len(sealed) >= len(plaintextPrefix) && sealed[:len(plaintextPrefix)] == plaintextPrefix {
		return sealed[len(plaintextPrefix):], nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidToken
	}
	for _, e := range s.aeads {
		ns := e.aead.NonceSize()
		if len(raw) < ns {
			continue
		}
		nonce, ciphertext := raw[:ns], raw[ns:]
		plain, err := e.aead.Open(nil, nonce, ciphertext, nil)
		if err == nil {
			return string(plain), nil
		}
	}
	return "", ErrInvalidToken
}
