package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// mnemonicEntropyBits yields a standard 12-word mnemonic.
const mnemonicEntropyBits = 128

// GenerateKey produces a fresh secp256k1 key pair together with the BIP-39
// mnemonic from which the same key is deterministically derivable via
// KeyFromMnemonic.
func GenerateKey() (*ecdsa.PrivateKey, string, error) {
	// A seed prefix can land outside the curve order; retry with fresh
	// entropy when it does.
	for attempts := 0; attempts < 10; attempts++ {
		entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate entropy: %w", err)
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate mnemonic: %w", err)
		}

		key, err := KeyFromMnemonic(mnemonic)
		if err != nil {
			continue
		}
		return key, mnemonic, nil
	}
	return nil, "", fmt.Errorf("failed to generate a valid key pair")
}

// KeyFromMnemonic deterministically derives the wallet's private key from
// its mnemonic. Used by the shard-based recovery flow.
func KeyFromMnemonic(mnemonic string) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	key, err := ethcrypto.ToECDSA(seed[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from seed: %w", err)
	}
	return key, nil
}

// Address derives the Ethereum address from a private key.
func Address(privateKey *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(privateKey.PublicKey)
}

// PrivateKeyToBytes converts a private key to its 32-byte form.
func PrivateKeyToBytes(privateKey *ecdsa.PrivateKey) []byte {
	return ethcrypto.FromECDSA(privateKey)
}

// BytesToPrivateKey converts 32 bytes back into a private key.
func BytesToPrivateKey(b []byte) (*ecdsa.PrivateKey, error) {
	return ethcrypto.ToECDSA(b)
}
