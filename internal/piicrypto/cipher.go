// Package piicrypto provides authenticated field-level encryption for
// personally identifying claim data. Individual string fields are
// encrypted, not whole records, so the rest of a claim stays queryable.
package piicrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the required key length (AES-256).
const KeySize = 32

const tagSize = 16

// ErrDecrypt marks an authentication failure or a malformed/foreign
// ciphertext. Call sites on display paths may choose to fall back to the
// original value; the error itself is always distinguishable.
var ErrDecrypt = errors.New("piicrypto: decrypt failed")

// Cipher is the process-wide key holder. Construct once at startup and
// pass by reference to every component that needs encryption.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("piicrypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("piicrypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("piicrypto: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt encrypts a single field with a fresh random nonce. The result
// is base64(nonce || tag || encrypted-bytes).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		panic("piicrypto: cipher used before initialization")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("piicrypto: nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal returns ciphertext||tag; the stored layout is nonce||tag||ciphertext.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	out := make([]byte, 0, len(nonce)+len(tag)+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt verifies and decrypts a field produced by Encrypt. Tampered,
// truncated or foreign input fails with ErrDecrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if c == nil || c.aead == nil {
		panic("piicrypto: cipher used before initialization")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// DecryptField decrypts best-effort for display and prompt paths. A value
// that fails to decrypt is passed through unchanged, keeping claims stored
// before encryption was enabled readable. passedThrough lets call sites
// log the degraded case instead of masking it.
func (c *Cipher) DecryptField(s string) (value string, passedThrough bool) {
	if s == "" {
		return "", false
	}
	plain, err := c.Decrypt(s)
	if err != nil {
		return s, true
	}
	return plain, false
}
