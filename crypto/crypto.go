// Package crypto seals secrets at rest, currently the OAuth tokens used for
// Helix status updates and the relay. Values are sealed with AES-256-GCM and
// stored as base64 text tagged with the id of the key that sealed them, so a
// rotated key can still open rows written under the previous one.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKey is returned by Keyring.Open when no key matches the stored key id.
var ErrUnknownKey = errors.New("crypto: no key for sealed value")

// Box seals and opens strings with a single 32-byte key.
type Box struct {
	id   string
	aead cipher.AEAD
}

// NewBox builds a Box from a base64-encoded 32-byte key (openssl rand -base64 32).
func NewBox(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Key))
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &Box{id: hex.EncodeToString(sum[:4]), aead: aead}, nil
}

// KeyID is a short fingerprint of the key, safe to store next to sealed values.
func (b *Box) KeyID() string { return b.id }

// Seal encrypts s and returns base64(nonce || ciphertext || tag). Empty input stays empty.
func (b *Box) Seal(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(s), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		// don't leak aead internals
		return "", fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

// Keyring seals with its current key and opens with any key it holds.
type Keyring struct {
	current *Box
	byID    map[string]*Box
}

// NewKeyring builds a keyring from the current key and any retired keys.
func NewKeyring(current string, retired ...string) (*Keyring, error) {
	cur, err := NewBox(current)
	if err != nil {
		return nil, err
	}
	kr := &Keyring{current: cur, byID: map[string]*Box{cur.id: cur}}
	for i, k := range retired {
		if strings.TrimSpace(k) == "" {
			continue
		}
		b, err := NewBox(k)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i, err)
		}
		kr.byID[b.id] = b
	}
	return kr, nil
}

// Seal encrypts with the current key and reports which key was used.
func (k *Keyring) Seal(s string) (sealed, keyID string, err error) {
	sealed, err = k.current.Seal(s)
	return sealed, k.current.id, err
}

// Open decrypts a value sealed under keyID. An empty keyID means the current key.
func (k *Keyring) Open(sealed, keyID string) (string, error) {
	b := k.current
	if keyID != "" {
		var ok bool
		if b, ok = k.byID[keyID]; !ok {
			return "", fmt.Errorf("%w: key id %q", ErrUnknownKey, keyID)
		}
	}
	return b.Open(sealed)
}

// CurrentKeyID reports the id new values are sealed under.
func (k *Keyring) CurrentKeyID() string { return k.current.id }
