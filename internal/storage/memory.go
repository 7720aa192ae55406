package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// memoryState is the shared in-process state behind the in-memory
// repositories, protected by a single mutex. Transitions hold the lock for
// the whole check-and-set, preserving the at-most-one-terminal-transition
// guarantee the PostgreSQL implementation gets from conditional UPDATEs.
type memoryState struct {
	mu sync.Mutex

	wallets map[uuid.UUID]*types.Wallet
	conns   map[uuid.UUID]*types.RelayConnection
	txs     map[uuid.UUID]*types.RelayTransaction
	audit   []*types.AuditLog
}

// NewMemory returns a Store backed entirely by process memory. Used by
// tests and single-node deployments without Postgres.
func NewMemory() *Store {
	state := &memoryState{
		wallets: make(map[uuid.UUID]*types.Wallet),
		conns:   make(map[uuid.UUID]*types.RelayConnection),
		txs:     make(map[uuid.UUID]*types.RelayTransaction),
	}
	return &Store{
		Wallets:     &memWalletRepo{state},
		Connections: &memConnectionRepo{state},
		Relay:       &memRelayTransactionRepo{state},
		Audit:       &memAuditRepo{state},
	}
}

func copyWallet(w *types.Wallet) *types.Wallet {
	c := *w
	return &c
}

func copyConnection(c *types.RelayConnection) *types.RelayConnection {
	cc := *c
	return &cc
}

func copyTx(t *types.RelayTransaction) *types.RelayTransaction {
	c := *t
	if t.RespondedAt != nil {
		at := *t.RespondedAt
		c.RespondedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	c.RiskFactors = append([]types.RiskFactor(nil), t.RiskFactors...)
	return &c
}

type memWalletRepo struct {
	s *memoryState
}

func (r *memWalletRepo) CreateIfAbsent(_ context.Context, wallet *types.Wallet) (*types.Wallet, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.wallets {
		if existing.OwnerID == wallet.OwnerID && existing.Status == types.WalletStatusActive {
			return copyWallet(existing), false, nil
		}
	}

	r.s.wallets[wallet.ID] = copyWallet(wallet)
	return copyWallet(wallet), true, nil
}

func (r *memWalletRepo) GetByID(_ context.Context, id uuid.UUID) (*types.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if w, ok := r.s.wallets[id]; ok {
		return copyWallet(w), nil
	}
	return nil, nil
}

func (r *memWalletRepo) GetActiveByOwner(_ context.Context, ownerID string) (*types.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, w := range r.s.wallets {
		if w.OwnerID == ownerID && w.Status == types.WalletStatusActive {
			return copyWallet(w), nil
		}
	}
	return nil, nil
}

func (r *memWalletRepo) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[id]
	if !ok {
		return errNotFound("wallet")
	}
	w.Status = status
	return nil
}

type memConnectionRepo struct {
	s *memoryState
}

func (r *memConnectionRepo) Create(_ context.Context, conn *types.RelayConnection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.conns[conn.ID] = copyConnection(conn)
	return nil
}

func (r *memConnectionRepo) Update(_ context.Context, conn *types.RelayConnection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.conns[conn.ID]; !ok {
		return errNotFound("connection")
	}
	r.s.conns[conn.ID] = copyConnection(conn)
	return nil
}

func (r *memConnectionRepo) GetByID(_ context.Context, id uuid.UUID) (*types.RelayConnection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c, ok := r.s.conns[id]; ok {
		return copyConnection(c), nil
	}
	return nil, nil
}

func (r *memConnectionRepo) GetByKey(_ context.Context, connectionKey string) (*types.RelayConnection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.conns {
		if c.ConnectionKey == connectionKey {
			return copyConnection(c), nil
		}
	}
	return nil, nil
}

func (r *memConnectionRepo) GetActiveByUserAndDomain(_ context.Context, userID, domain string) (*types.RelayConnection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.conns {
		if c.UserID == userID && c.DApp.Domain == domain && c.Status == types.ConnectionStatusActive {
			return copyConnection(c), nil
		}
	}
	return nil, nil
}

func (r *memConnectionRepo) ListByUser(_ context.Context, userID string) ([]*types.RelayConnection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var conns []*types.RelayConnection
	for _, c := range r.s.conns {
		if c.UserID == userID {
			conns = append(conns, copyConnection(c))
		}
	}
	return conns, nil
}

func (r *memConnectionRepo) SetRevoked(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c, ok := r.s.conns[id]; ok && c.Status != types.ConnectionStatusRevoked {
		c.Status = types.ConnectionStatusRevoked
		c.UpdatedAt = at
	}
	return nil
}

type memRelayTransactionRepo struct {
	s *memoryState
}

func (r *memRelayTransactionRepo) Create(_ context.Context, tx *types.RelayTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.txs[tx.ID] = copyTx(tx)
	return nil
}

func (r *memRelayTransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*types.RelayTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t, ok := r.s.txs[id]; ok {
		return copyTx(t), nil
	}
	return nil, nil
}

func (r *memRelayTransactionRepo) ListByUser(_ context.Context, userID string, limit int) ([]*types.RelayTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var txs []*types.RelayTransaction
	for _, t := range r.s.txs {
		if t.UserID == userID {
			txs = append(txs, copyTx(t))
		}
	}

	// Newest first, matching the SQL backend's requested_at DESC ordering.
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].RequestedAt.After(txs[j].RequestedAt)
	})
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (r *memRelayTransactionRepo) MarkResponded(_ context.Context, id uuid.UUID, to types.TransactionStatus, signature, errMsg string, autoApproved bool, at time.Time) (*types.RelayTransaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok || t.Status != types.StatusPending {
		return nil, false, nil
	}

	t.Status = to
	t.Signature = signature
	t.Error = errMsg
	t.AutoApproved = autoApproved
	respondedAt := at
	t.RespondedAt = &respondedAt
	return copyTx(t), true, nil
}

func (r *memRelayTransactionRepo) MarkExpired(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok || t.Status != types.StatusPending {
		return false, nil
	}

	t.Status = types.StatusExpired
	respondedAt := at
	t.RespondedAt = &respondedAt
	return true, nil
}

func (r *memRelayTransactionRepo) MarkCompleted(_ context.Context, id uuid.UUID, txHash string, blockNumber int64, at time.Time) (*types.RelayTransaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok || t.Status != types.StatusApproved {
		return nil, false, nil
	}

	t.Status = types.StatusCompleted
	t.Blockchain.TxHash = txHash
	t.Blockchain.BlockNumber = blockNumber
	t.Blockchain.Confirmations = 1
	completedAt := at
	t.CompletedAt = &completedAt
	return copyTx(t), true, nil
}

func (r *memRelayTransactionRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg, txHash string, at time.Time) (*types.RelayTransaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.txs[id]
	if !ok || t.Status.Terminal() {
		return nil, false, nil
	}

	t.Status = types.StatusFailed
	t.Error = errMsg
	t.Signature = ""
	t.Blockchain.TxHash = txHash
	completedAt := at
	t.CompletedAt = &completedAt
	return copyTx(t), true, nil
}

func (r *memRelayTransactionRepo) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, t := range r.s.txs {
		if t.Status == types.StatusPending && !t.ExpiresAt.After(now) {
			t.Status = types.StatusExpired
			respondedAt := now
			t.RespondedAt = &respondedAt
			n++
		}
	}
	return n, nil
}

func (r *memRelayTransactionRepo) RejectPendingByConnection(_ context.Context, connectionID uuid.UUID, reason string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, t := range r.s.txs {
		if t.ConnectionID == connectionID && t.Status == types.StatusPending {
			t.Status = types.StatusRejected
			t.Error = reason
			respondedAt := at
			t.RespondedAt = &respondedAt
			n++
		}
	}
	return n, nil
}

func (r *memRelayTransactionRepo) AverageTransactionValue(_ context.Context, userID string) (float64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var sum float64
	var count int
	for _, t := range r.s.txs {
		if t.UserID == userID && (t.Status == types.StatusApproved || t.Status == types.StatusCompleted) && t.RequestData.Value > 0 {
			sum += t.RequestData.Value
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

func (r *memRelayTransactionRepo) DestinationSeen(_ context.Context, userID, address string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	target := strings.ToLower(address)
	for _, t := range r.s.txs {
		if t.UserID == userID &&
			(t.Status == types.StatusApproved || t.Status == types.StatusCompleted) &&
			strings.ToLower(t.RequestData.To) == target {
			return true, nil
		}
	}
	return false, nil
}

type memAuditRepo struct {
	s *memoryState
}

func (r *memAuditRepo) Append(_ context.Context, entry *types.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *entry
	r.s.audit = append(r.s.audit, &c)
	return nil
}

type errNotFound string

func (e errNotFound) Error() string { return string(e) + " not found" }
