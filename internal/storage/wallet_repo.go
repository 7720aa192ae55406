package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// pgWalletRepo is the PostgreSQL WalletStore. The one-wallet-per-owner
// invariant is enforced by a partial unique index on (owner_id) WHERE
// status = 'active', so concurrent creates race on the database, not in
// application code.
type pgWalletRepo struct {
	db DBTX
}

const walletColumns = `id, owner_id, address, encrypted_private_key, encrypted_mnemonic, status, created_at`

func (r *pgWalletRepo) CreateIfAbsent(ctx context.Context, wallet *types.Wallet) (*types.Wallet, bool, error) {
	encKey, err := json.Marshal(wallet.EncryptedPrivateKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal private key blob: %w", err)
	}
	encMnemonic, err := json.Marshal(wallet.EncryptedMnemonic)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal mnemonic blob: %w", err)
	}

	query := `
		INSERT INTO wallets (id, owner_id, address, encrypted_private_key, encrypted_mnemonic, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id) WHERE status = 'active' DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query,
		wallet.ID,
		wallet.OwnerID,
		wallet.Address,
		encKey,
		encMnemonic,
		wallet.Status,
		wallet.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create wallet: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return wallet, true, nil
	}

	// Lost the race or the wallet already existed; hand back the winner.
	existing, err := r.GetActiveByOwner(ctx, wallet.OwnerID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("wallet insert conflicted but no active wallet found for owner")
	}
	return existing, false, nil
}

func (r *pgWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return r.scanWallet(r.db.QueryRow(ctx, query, id))
}

func (r *pgWalletRepo) GetActiveByOwner(ctx context.Context, ownerID string) (*types.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND status = 'active'`
	return r.scanWallet(r.db.QueryRow(ctx, query, ownerID))
}

func (r *pgWalletRepo) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE wallets SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update wallet status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found")
	}
	return nil
}

func (r *pgWalletRepo) scanWallet(row pgx.Row) (*types.Wallet, error) {
	var wallet types.Wallet
	var encKey, encMnemonic []byte

	err := row.Scan(
		&wallet.ID,
		&wallet.OwnerID,
		&wallet.Address,
		&encKey,
		&encMnemonic,
		&wallet.Status,
		&wallet.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	if err := json.Unmarshal(encKey, &wallet.EncryptedPrivateKey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key blob: %w", err)
	}
	if err := json.Unmarshal(encMnemonic, &wallet.EncryptedMnemonic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mnemonic blob: %w", err)
	}

	return &wallet, nil
}
