// Package app contains the application services: wallet custody, relay
// connection management, the relay transaction protocol, and the expiry
// sweeper.
package app

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/google/uuid"
	"github.com/wallet-relay/wallet-relay/internal/keyvault"
	"github.com/wallet-relay/wallet-relay/internal/logger"
	"github.com/wallet-relay/wallet-relay/internal/metrics"
	"github.com/wallet-relay/wallet-relay/internal/storage"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// CustodyService maps each platform user to exactly one managed wallet and
// performs signing on their behalf. Key material is re-derived from the
// custody password on every signing call; nothing decrypted outlives the
// call.
type CustodyService struct {
	wallets storage.WalletStore
	audit   storage.AuditStore
	secrets SecretProvider

	idgen func() uuid.UUID
	now   func() time.Time
}

// NewCustodyService creates a CustodyService over the given store.
func NewCustodyService(store *storage.Store, secrets SecretProvider) *CustodyService {
	return &CustodyService{
		wallets: store.Wallets,
		audit:   store.Audit,
		secrets: secrets,
		idgen:   uuid.New,
		now:     time.Now,
	}
}

// CreateWalletForUser creates the user's custodial wallet, or returns the
// existing one unchanged. Safe under concurrent calls for the same user:
// the storage layer's create-if-absent decides the single winner and every
// other caller observes the winner's wallet.
func (s *CustodyService) CreateWalletForUser(ctx context.Context, userID string) (*types.Wallet, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}

	if existing, err := s.wallets.GetActiveByOwner(ctx, userID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	generated, err := keyvault.GenerateWallet()
	if err != nil {
		return nil, err
	}
	defer zeroKey(generated.PrivateKey)

	password, err := s.secrets.WalletPassword(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer clear(password)

	sealed, err := keyvault.SealWallet(generated.PrivateKey, generated.Mnemonic, password)
	if err != nil {
		return nil, err
	}

	wallet := &types.Wallet{
		ID:                  s.idgen(),
		OwnerID:             userID,
		Address:             sealed.Address,
		EncryptedPrivateKey: sealed.EncryptedPrivateKey,
		EncryptedMnemonic:   sealed.EncryptedMnemonic,
		Status:              types.WalletStatusActive,
		CreatedAt:           s.now(),
	}

	stored, created, err := s.wallets.CreateIfAbsent(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if created {
		s.appendAudit(ctx, userID, "wallet.create", stored.ID.String(), "ok")
		logger.Info(ctx, "wallet created", "wallet_id", stored.ID, "address", stored.Address)
	}
	return stored, nil
}

// GetWalletForUser returns the user's active wallet, or (nil, nil).
func (s *CustodyService) GetWalletForUser(ctx context.Context, userID string) (*types.Wallet, error) {
	return s.wallets.GetActiveByOwner(ctx, userID)
}

// FreezeWallet disables signing on a wallet. Only the owner may freeze.
func (s *CustodyService) FreezeWallet(ctx context.Context, userID string, walletID uuid.UUID) error {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return err
	}
	if wallet == nil {
		return apperrors.WalletNotFound(walletID.String())
	}
	if wallet.OwnerID != userID {
		return apperrors.ErrOwnership
	}

	if err := s.wallets.SetStatus(ctx, walletID, types.WalletStatusFrozen); err != nil {
		return err
	}
	s.appendAudit(ctx, userID, "wallet.freeze", walletID.String(), "ok")
	return nil
}

// Sign resolves the user's wallet, unseals its key, signs the payload for
// the given request type, and discards the plaintext key. The audit trail
// records that a signing occurred, never what was signed.
func (s *CustodyService) Sign(ctx context.Context, userID, requestType string, data types.RequestData) (string, error) {
	wallet, err := s.wallets.GetActiveByOwner(ctx, userID)
	if err != nil {
		return "", err
	}
	if wallet == nil {
		return "", apperrors.New(apperrors.ErrCodeNotFound, "No active wallet for user", 404)
	}

	password, err := s.secrets.WalletPassword(ctx, userID)
	if err != nil {
		return "", err
	}
	defer clear(password)

	privateKey, err := keyvault.UnsealForSigning(wallet, password)
	if err != nil {
		s.appendAudit(ctx, userID, "wallet.sign", wallet.ID.String(), "unseal_failed")
		return "", err
	}
	defer zeroKey(privateKey)

	signature, err := signPayload(privateKey, requestType, data)
	if err != nil {
		s.appendAudit(ctx, userID, "wallet.sign", wallet.ID.String(), "failed")
		if _, ok := apperrors.IsAppError(err); ok {
			return "", err
		}
		return "", apperrors.SigningFailed(requestType)
	}

	metrics.Signings.WithLabelValues(requestType).Inc()
	s.appendAudit(ctx, userID, "wallet.sign", wallet.ID.String(), requestType)
	logger.Info(ctx, "signing completed",
		"wallet_id", wallet.ID, "request_type", requestType)
	return signature, nil
}

// ShardWalletMnemonic decrypts the wallet's mnemonic and splits it into a
// recovery shard set. The plaintext mnemonic is discarded before return.
func (s *CustodyService) ShardWalletMnemonic(ctx context.Context, userID string, totalShards, threshold int) ([][]byte, error) {
	wallet, err := s.wallets.GetActiveByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "No active wallet for user", 404)
	}

	password, err := s.secrets.WalletPassword(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer clear(password)

	mnemonic, err := keyvault.UnsealMnemonic(wallet, password)
	if err != nil {
		return nil, err
	}

	shards, err := keyvault.ShardMnemonic(mnemonic, totalShards, threshold)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, userID, "wallet.shard_mnemonic", wallet.ID.String(), "ok")
	return shards, nil
}

func (s *CustodyService) appendAudit(ctx context.Context, actor, action, resourceID, result string) {
	entry := &types.AuditLog{
		ID:           s.idgen(),
		Actor:        actor,
		Action:       action,
		ResourceType: "wallet",
		ResourceID:   resourceID,
		Result:       result,
		CreatedAt:    s.now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		logger.Warn(ctx, "failed to append audit log", "action", action, "error", err)
	}
}

// zeroKey wipes the scalar of a decrypted private key.
func zeroKey(k *ecdsa.PrivateKey) {
	if k != nil && k.D != nil {
		k.D.SetInt64(0)
	}
}
