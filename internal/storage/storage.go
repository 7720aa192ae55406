// Package storage provides the persistence layer: repository interfaces,
// their PostgreSQL implementations, and an in-memory implementation used by
// tests and single-node deployments. All state-machine transitions are
// expressed as atomic conditional updates here so that concurrent callers,
// including separate service instances sharing one database, serialize on a
// single winner.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// WalletStore persists custodial wallets. Lookups return (nil, nil) when no
// row matches.
type WalletStore interface {
	// CreateIfAbsent inserts the wallet unless the owner already has an
	// active one, in which case the existing wallet is returned and the
	// second return value is false. The check-and-insert is atomic.
	CreateIfAbsent(ctx context.Context, wallet *types.Wallet) (*types.Wallet, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Wallet, error)
	// GetActiveByOwner returns the owner's non-frozen wallet.
	GetActiveByOwner(ctx context.Context, ownerID string) (*types.Wallet, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

// ConnectionStore persists relay connections.
type ConnectionStore interface {
	Create(ctx context.Context, conn *types.RelayConnection) error
	Update(ctx context.Context, conn *types.RelayConnection) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.RelayConnection, error)
	GetByKey(ctx context.Context, connectionKey string) (*types.RelayConnection, error)
	GetActiveByUserAndDomain(ctx context.Context, userID, domain string) (*types.RelayConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*types.RelayConnection, error)
	// SetRevoked marks the connection revoked; revoking twice is a no-op.
	SetRevoked(ctx context.Context, id uuid.UUID, at time.Time) error
}

// RelayTransactionStore persists relay transactions. The Mark* methods are
// compare-and-swap transitions: they apply only when the row is still in
// the required source state and report whether the swap won.
type RelayTransactionStore interface {
	Create(ctx context.Context, tx *types.RelayTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.RelayTransaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*types.RelayTransaction, error)

	// MarkResponded moves pending -> approved|rejected.
	MarkResponded(ctx context.Context, id uuid.UUID, to types.TransactionStatus, signature, errMsg string, autoApproved bool, at time.Time) (*types.RelayTransaction, bool, error)
	// MarkExpired moves pending -> expired.
	MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// MarkCompleted moves approved -> completed and records the chain ref.
	MarkCompleted(ctx context.Context, id uuid.UUID, txHash string, blockNumber int64, at time.Time) (*types.RelayTransaction, bool, error)
	// MarkFailed moves pending|approved -> failed and clears the signature;
	// signatures belong only to approved and completed transactions. txHash
	// may be empty when the failure happened before broadcast.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg, txHash string, at time.Time) (*types.RelayTransaction, bool, error)

	// ExpireStale transitions every pending transaction whose deadline has
	// passed and returns how many were expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	// RejectPendingByConnection cascades a connection revoke onto its
	// outstanding pending requests.
	RejectPendingByConnection(ctx context.Context, connectionID uuid.UUID, reason string, at time.Time) (int64, error)

	// AverageTransactionValue and DestinationSeen back the risk assessor.
	AverageTransactionValue(ctx context.Context, userID string) (float64, error)
	DestinationSeen(ctx context.Context, userID, address string) (bool, error)
}

// AuditStore appends redacted audit records.
type AuditStore interface {
	Append(ctx context.Context, entry *types.AuditLog) error
}

// Store bundles the repositories behind one handle.
type Store struct {
	Wallets     WalletStore
	Connections ConnectionStore
	Relay       RelayTransactionStore
	Audit       AuditStore

	closer func()
}

// Close releases the underlying resources, if any.
func (s *Store) Close() {
	if s.closer != nil {
		s.closer()
	}
}
