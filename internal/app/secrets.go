package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SecretProvider supplies the custody password for a user's wallet. The
// platform holds wallet passwords on the user's behalf; users never see a
// seed phrase or password. The seam exists so a deployment that lets users
// choose their own password can swap the implementation.
type SecretProvider interface {
	WalletPassword(ctx context.Context, userID string) ([]byte, error)
}

// hmacSecretProvider derives per-user passwords from one master secret, so
// no password table needs to exist. The derivation is deterministic: the
// same master secret and user always yield the same password, which the
// scrypt re-derivation path depends on.
type hmacSecretProvider struct {
	master []byte
}

// NewHMACSecretProvider creates a SecretProvider keyed by masterSecret.
func NewHMACSecretProvider(masterSecret string) SecretProvider {
	return &hmacSecretProvider{master: []byte(masterSecret)}
}

func (p *hmacSecretProvider) WalletPassword(_ context.Context, userID string) ([]byte, error) {
	mac := hmac.New(sha256.New, p.master)
	mac.Write([]byte("wallet-password:" + userID))
	digest := mac.Sum(nil)

	password := make([]byte, hex.EncodedLen(len(digest)))
	hex.Encode(password, digest)
	return password, nil
}
