package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("attack at dawn")

	blob, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmAESGCM, blob.Algorithm)
	assert.NotEmpty(t, blob.IV)
	assert.NotEmpty(t, blob.EncryptedData)
	assert.NotEmpty(t, blob.AuthTag)

	recovered, err := Decrypt(blob, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestEncryptUsesFreshIV(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("same message")

	blob1, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	blob2, err := Encrypt(plaintext, key)
	require.NoError(t, err)

	assert.NotEqual(t, blob1.IV, blob2.IV)
	assert.NotEqual(t, blob1.EncryptedData, blob2.EncryptedData)
}

func TestEncryptRejectsShortKey(t *testing.T) {
	_, err := Encrypt([]byte("data"), []byte("short"))
	require.Error(t, err)
}

func TestDecryptFailureModes(t *testing.T) {
	key := randomKey(t)
	blob, err := Encrypt([]byte("secret payload"), key)
	require.NoError(t, err)

	flipFirstByte := func(b64 string) string {
		raw, err := base64.StdEncoding.DecodeString(b64)
		require.NoError(t, err)
		raw[0] ^= 0xff
		return base64.StdEncoding.EncodeToString(raw)
	}

	tests := []struct {
		name   string
		mutate func(b *types.EncryptedBlob) []byte // returns key to use
	}{
		{
			name: "wrong key",
			mutate: func(b *types.EncryptedBlob) []byte {
				return randomKey(t)
			},
		},
		{
			name: "tampered ciphertext",
			mutate: func(b *types.EncryptedBlob) []byte {
				b.EncryptedData = flipFirstByte(b.EncryptedData)
				return key
			},
		},
		{
			name: "tampered auth tag",
			mutate: func(b *types.EncryptedBlob) []byte {
				b.AuthTag = flipFirstByte(b.AuthTag)
				return key
			},
		},
		{
			name: "tampered iv",
			mutate: func(b *types.EncryptedBlob) []byte {
				b.IV = flipFirstByte(b.IV)
				return key
			},
		},
		{
			name: "wrong algorithm tag",
			mutate: func(b *types.EncryptedBlob) []byte {
				b.Algorithm = "aes-128-cbc"
				return key
			},
		},
		{
			name: "invalid base64",
			mutate: func(b *types.EncryptedBlob) []byte {
				b.EncryptedData = "not base64!!!"
				return key
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := *blob
			useKey := tt.mutate(&mutated)

			plaintext, err := Decrypt(&mutated, useKey)
			require.Error(t, err)
			assert.Nil(t, plaintext, "no partial plaintext on failure")

			// Same opaque error for every failure mode.
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeDecryption, appErr.Code)
		})
	}
}

func TestDecryptNilBlob(t *testing.T) {
	_, err := Decrypt(nil, randomKey(t))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDecryption))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	password := []byte("correct horse battery staple")

	key1, salt, err := DeriveKey(password, nil)
	require.NoError(t, err)
	require.Len(t, key1, 32)
	require.Len(t, salt, 32)

	key2, salt2, err := DeriveKey(password, salt)
	require.NoError(t, err)
	assert.Equal(t, salt, salt2)
	assert.True(t, bytes.Equal(key1, key2), "same password and salt must derive the same key")
}

func TestDeriveKeyDifferentSalts(t *testing.T) {
	password := []byte("hunter2")

	key1, salt1, err := DeriveKey(password, nil)
	require.NoError(t, err)
	key2, salt2, err := DeriveKey(password, nil)
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, key1, key2)
}

func TestDeriveKeyEmptyPassword(t *testing.T) {
	_, _, err := DeriveKey(nil, nil)
	require.Error(t, err)
}
