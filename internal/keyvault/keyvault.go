// Package keyvault owns the wallet key material lifecycle: generation,
// password-sealed storage, unsealing for signing, and threshold sharding of
// mnemonics for recovery.
package keyvault

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"

	"github.com/wallet-relay/wallet-relay/internal/crypto"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// GeneratedWallet is a freshly generated key pair plus its mnemonic. It
// exists only in memory; callers seal it immediately.
type GeneratedWallet struct {
	Address    string
	PrivateKey *ecdsa.PrivateKey
	Mnemonic   string
}

// SealedWallet carries the encrypted-at-rest form of a wallet's key
// material. The derivation salt is stored inside each blob so the key can
// be re-derived from the password alone.
type SealedWallet struct {
	Address             string
	EncryptedPrivateKey types.EncryptedBlob
	EncryptedMnemonic   types.EncryptedBlob
}

// GenerateWallet produces a fresh secp256k1 key pair and the BIP-39
// mnemonic it is derivable from.
func GenerateWallet() (*GeneratedWallet, error) {
	key, mnemonic, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallet key: %w", err)
	}
	return &GeneratedWallet{
		Address:    crypto.Address(key).Hex(),
		PrivateKey: key,
		Mnemonic:   mnemonic,
	}, nil
}

// SealWallet derives an encryption key from password and encrypts both the
// private key and the mnemonic. Both blobs share one derivation salt.
func SealWallet(privateKey *ecdsa.PrivateKey, mnemonic string, password []byte) (*SealedWallet, error) {
	key, salt, err := crypto.DeriveKey(password, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	defer clear(key)

	keyBytes := crypto.PrivateKeyToBytes(privateKey)
	defer clear(keyBytes)

	encKey, err := crypto.Encrypt(keyBytes, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	encMnemonic, err := crypto.Encrypt([]byte(mnemonic), key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt mnemonic: %w", err)
	}

	saltB64 := base64.StdEncoding.EncodeToString(salt)
	encKey.Salt = saltB64
	encMnemonic.Salt = saltB64

	return &SealedWallet{
		Address:             crypto.Address(privateKey).Hex(),
		EncryptedPrivateKey: *encKey,
		EncryptedMnemonic:   *encMnemonic,
	}, nil
}

// UnsealForSigning re-derives the sealing key from the password and the
// stored salt and decrypts the private key. The returned key is scoped to
// the immediate signing call; callers must not persist or log it. A wrong
// password and a corrupted blob are indistinguishable to the caller.
func UnsealForSigning(wallet *types.Wallet, password []byte) (*ecdsa.PrivateKey, error) {
	keyBytes, err := unsealBlob(&wallet.EncryptedPrivateKey, password)
	if err != nil {
		return nil, err
	}
	defer clear(keyBytes)

	privateKey, err := crypto.BytesToPrivateKey(keyBytes)
	if err != nil {
		return nil, apperrors.ErrDecryption
	}
	return privateKey, nil
}

// UnsealMnemonic decrypts the wallet's mnemonic for backup or sharding.
func UnsealMnemonic(wallet *types.Wallet, password []byte) (string, error) {
	plaintext, err := unsealBlob(&wallet.EncryptedMnemonic, password)
	if err != nil {
		return "", err
	}
	mnemonic := string(plaintext)
	clear(plaintext)
	return mnemonic, nil
}

func unsealBlob(blob *types.EncryptedBlob, password []byte) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil || len(salt) == 0 {
		return nil, apperrors.ErrDecryption
	}

	key, _, err := crypto.DeriveKey(password, salt)
	if err != nil {
		return nil, apperrors.ErrDecryption
	}
	defer clear(key)

	return crypto.Decrypt(blob, key)
}

// ShardMnemonic splits a mnemonic into totalShards fragments with the given
// recovery threshold. Used for backup, independent of the password path.
func ShardMnemonic(mnemonic string, totalShards, threshold int) ([][]byte, error) {
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic cannot be empty")
	}
	return crypto.Split([]byte(mnemonic), totalShards, threshold)
}

// RecoverMnemonic reconstructs a mnemonic from a threshold of its shards.
func RecoverMnemonic(shards [][]byte) (string, error) {
	secret, err := crypto.Recover(shards)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// RecoverKey derives the wallet's private key directly from a recovered
// mnemonic.
func RecoverKey(mnemonic string) (*ecdsa.PrivateKey, error) {
	return crypto.KeyFromMnemonic(mnemonic)
}
