package piicrypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	plaintexts := []string{
		"Jane Fraser",
		"jane@example.com",
		"",
		"1HGBH41JXMN109186",
		"Márta Kovács",
		"山田太郎",
		"Renée O'Connor, Zürich — naïve ✓",
	}
	for _, plaintext := range plaintexts {
		enc, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plaintext, dec)
	}
}

func TestNewCipherRejectsBadKeyLength(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
	_, err = NewCipher(bytes.Repeat([]byte{1}, 16))
	assert.Error(t, err)
}

func TestFreshNoncePerCall(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	a, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCiphertextLayout(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	plaintext := "layout check"
	enc, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	// nonce (12) + tag (16) + ciphertext
	assert.Len(t, raw, 12+16+len(plaintext))
}

func TestTamperDetection(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	enc, err := c.Encrypt("sensitive value")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)

	raw[len(raw)-1] ^= 0x01
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptMalformedInput(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	for _, in := range []string{"not base64 at all!!!", base64.StdEncoding.EncodeToString([]byte("tiny"))} {
		_, err := c.Decrypt(in)
		assert.ErrorIs(t, err, ErrDecrypt)
	}
}

func TestDecryptField(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	enc, err := c.Encrypt("Jane Fraser")
	require.NoError(t, err)

	value, passedThrough := c.DecryptField(enc)
	assert.Equal(t, "Jane Fraser", value)
	assert.False(t, passedThrough)

	value, passedThrough = c.DecryptField("legacy plaintext value")
	assert.Equal(t, "legacy plaintext value", value)
	assert.True(t, passedThrough)
}
