// Package crypto implements the key-material primitives: authenticated
// symmetric encryption, password-based key derivation, threshold secret
// sharing, and secp256k1 key pair generation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
	"golang.org/x/crypto/scrypt"
)

// AlgorithmAESGCM is the algorithm tag written into every EncryptedBlob.
const AlgorithmAESGCM = "aes-256-gcm"

const (
	// scrypt parameters: N=2^15 keeps derivation under ~100ms on server
	// hardware while staying memory-hard (~32MB per derivation)
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	keyLen  = 32
	ivLen   = 12
	authLen = 16
	saltLen = 32
)

// Encrypt seals plaintext under key with AES-256-GCM. A fresh random IV is
// generated per call; the GCM auth tag is stored alongside the ciphertext.
func Encrypt(plaintext, key []byte) (*types.EncryptedBlob, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyLen, len(key))
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Seal appends the auth tag to the ciphertext; split it out so the
	// blob format stays stable across implementations.
	sealed := aesGCM.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-authLen]
	authTag := sealed[len(sealed)-authLen:]

	return &types.EncryptedBlob{
		Algorithm:     AlgorithmAESGCM,
		IV:            base64.StdEncoding.EncodeToString(iv),
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		AuthTag:       base64.StdEncoding.EncodeToString(authTag),
	}, nil
}

// Decrypt opens a blob sealed by Encrypt. Every failure mode, including
// tampered ciphertext, a wrong key, and a malformed blob, returns the same
// generic decryption error so callers cannot be used as a padding or
// password oracle. Partial plaintext is never returned.
func Decrypt(blob *types.EncryptedBlob, key []byte) ([]byte, error) {
	if blob == nil || blob.Algorithm != AlgorithmAESGCM || len(key) != keyLen {
		return nil, apperrors.ErrDecryption
	}

	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil || len(iv) != ivLen {
		return nil, apperrors.ErrDecryption
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.EncryptedData)
	if err != nil {
		return nil, apperrors.ErrDecryption
	}
	authTag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	if err != nil || len(authTag) != authLen {
		return nil, apperrors.ErrDecryption
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.ErrDecryption
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.ErrDecryption
	}

	plaintext, err := aesGCM.Open(nil, iv, append(ciphertext, authTag...), nil)
	if err != nil {
		return nil, apperrors.ErrDecryption
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte encryption key from a password with scrypt.
// If salt is nil a fresh random salt is generated and returned; the same
// (password, salt) pair always reproduces the same key.
func DeriveKey(password, salt []byte) (key, outSalt []byte, err error) {
	if len(password) == 0 {
		return nil, nil, fmt.Errorf("password cannot be empty")
	}

	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	key, err = scrypt.Key(password, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, salt, nil
}
