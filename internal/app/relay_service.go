package app

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wallet-relay/wallet-relay/internal/logger"
	"github.com/wallet-relay/wallet-relay/internal/metrics"
	"github.com/wallet-relay/wallet-relay/internal/risk"
	"github.com/wallet-relay/wallet-relay/internal/storage"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// RelayService drives the relay transaction state machine: DApps submit
// signing requests against a connection, users (or the auto-approval
// policy) respond, and DApps report the on-chain outcome.
type RelayService struct {
	connections *ConnectionService
	custody     *CustodyService
	relay       storage.RelayTransactionStore
	audit       storage.AuditStore
	assessor    *risk.Assessor

	ttl         time.Duration
	riskCeiling int

	idgen func() uuid.UUID
	now   func() time.Time
}

// NewRelayService creates a RelayService. ttl bounds how long a request
// stays pending; riskCeiling is the exclusive upper bound for auto-approval.
func NewRelayService(store *storage.Store, connections *ConnectionService, custody *CustodyService, assessor *risk.Assessor, ttl time.Duration, riskCeiling int) *RelayService {
	return &RelayService{
		connections: connections,
		custody:     custody,
		relay:       store.Relay,
		audit:       store.Audit,
		assessor:    assessor,
		ttl:         ttl,
		riskCeiling: riskCeiling,
		idgen:       uuid.New,
		now:         time.Now,
	}
}

// CreateRequestInput is the DApp-side input to CreateRequest.
type CreateRequestInput struct {
	ConnectionKey string
	Origin        string
	RequestType   string
	RequestData   types.RequestData
	Gasless       bool
}

// CreateRequest accepts a signing request from a DApp. The connection key
// and origin are resolved first; permission checks and risk scoring follow;
// the request may be auto-approved under the connection's grant.
func (s *RelayService) CreateRequest(ctx context.Context, in *CreateRequestInput) (*types.RelayTransaction, error) {
	if !types.ValidRequestType(in.RequestType) {
		metrics.RelayRequests.WithLabelValues(in.RequestType, "invalid").Inc()
		return nil, apperrors.Validation("unsupported requestType: " + in.RequestType)
	}
	if in.RequestData.Value < 0 {
		metrics.RelayRequests.WithLabelValues(in.RequestType, "invalid").Inc()
		return nil, apperrors.Validation("requestData.value must not be negative")
	}

	conn, err := s.connections.Resolve(ctx, in.ConnectionKey, in.Origin)
	if err != nil {
		metrics.RelayRequests.WithLabelValues(in.RequestType, "denied").Inc()
		return nil, err
	}
	if !conn.Permissions.RequestSignature {
		metrics.RelayRequests.WithLabelValues(in.RequestType, "denied").Inc()
		return nil, apperrors.New(apperrors.ErrCodeOwnership, "connection does not permit signature requests", http.StatusForbidden)
	}
	if in.Gasless && !conn.Permissions.UseGasless {
		metrics.RelayRequests.WithLabelValues(in.RequestType, "denied").Inc()
		return nil, apperrors.New(apperrors.ErrCodeOwnership, "connection does not permit gasless transactions", http.StatusForbidden)
	}

	score, factors, err := s.assessor.Score(ctx, conn.UserID, in.RequestType, in.RequestData)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tx := &types.RelayTransaction{
		ID:           s.idgen(),
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		WalletID:     conn.WalletID,
		RequestType:  in.RequestType,
		RequestData:  in.RequestData,
		Status:       types.StatusPending,
		RiskScore:    score,
		RiskFactors:  factors,
		Gasless:      in.Gasless,
		RequestedAt:  now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.relay.Create(ctx, tx); err != nil {
		return nil, err
	}
	metrics.RelayRequests.WithLabelValues(in.RequestType, "created").Inc()

	s.appendAudit(ctx, conn.DApp.Domain, "relay.request", tx.ID.String(), string(tx.Status))

	if s.eligibleForAutoApproval(conn, tx) {
		if auto := s.autoApprove(ctx, tx); auto != nil {
			return auto, nil
		}
	}
	return tx, nil
}

// eligibleForAutoApproval applies the connection's autoSign grant: only
// message and transaction signatures, only under the per-transaction amount
// limit, and only when the risk score sits below the service ceiling.
func (s *RelayService) eligibleForAutoApproval(conn *types.RelayConnection, tx *types.RelayTransaction) bool {
	if !conn.Permissions.AutoSign {
		return false
	}
	if tx.RequestType != types.RequestTypeSignTransaction && tx.RequestType != types.RequestTypeSignMessage {
		return false
	}
	if tx.RequestData.Value > conn.Permissions.AutoSignMaxAmount {
		return false
	}
	return tx.RiskScore < s.riskCeiling
}

// autoApprove signs and transitions the freshly created request. A signing
// failure leaves the request pending for the user to act on; it never fails
// the submission.
func (s *RelayService) autoApprove(ctx context.Context, tx *types.RelayTransaction) *types.RelayTransaction {
	signature, err := s.custody.Sign(ctx, tx.UserID, tx.RequestType, tx.RequestData)
	if err != nil {
		logger.Warn(ctx, "auto-approval signing failed, leaving request pending",
			"transaction_id", tx.ID, "error", err)
		return nil
	}

	updated, won, err := s.relay.MarkResponded(ctx, tx.ID, types.StatusApproved, signature, "", true, s.now())
	if err != nil || !won {
		logger.Warn(ctx, "auto-approval transition lost", "transaction_id", tx.ID, "error", err)
		return nil
	}

	metrics.RelayRequests.WithLabelValues(tx.RequestType, "auto_approved").Inc()
	s.appendAudit(ctx, tx.UserID, "relay.auto_approve", tx.ID.String(), string(updated.Status))
	logger.Info(ctx, "relay request auto-approved",
		"transaction_id", tx.ID, "risk_score", tx.RiskScore)
	return updated
}

// Approve signs the request with the owner's wallet and moves it
// pending -> approved. Terminal states are returned as-is; an expired
// deadline is materialized before the error is returned.
func (s *RelayService) Approve(ctx context.Context, txID uuid.UUID, userID string) (*types.RelayTransaction, error) {
	tx, err := s.getOwned(ctx, txID, userID)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() || tx.Status == types.StatusApproved {
		return tx, nil
	}
	if expired, etx, err := s.expireIfPast(ctx, tx); err != nil {
		return nil, err
	} else if expired {
		return etx, apperrors.ErrExpired
	}

	signature, err := s.custody.Sign(ctx, userID, tx.RequestType, tx.RequestData)
	if err != nil {
		return nil, err
	}

	updated, won, err := s.relay.MarkResponded(ctx, txID, types.StatusApproved, signature, "", false, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race to the sweeper or a concurrent response.
		return s.relay.GetByID(ctx, txID)
	}

	metrics.RelayRequests.WithLabelValues(tx.RequestType, "approved").Inc()
	s.appendAudit(ctx, userID, "relay.approve", txID.String(), string(updated.Status))
	logger.Info(ctx, "relay request approved", "transaction_id", txID)
	return updated, nil
}

// Reject moves the request pending -> rejected and records the reason.
// Rejecting a terminal request is a no-op returning the current state.
func (s *RelayService) Reject(ctx context.Context, txID uuid.UUID, userID, reason string) (*types.RelayTransaction, error) {
	tx, err := s.getOwned(ctx, txID, userID)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}
	if expired, etx, err := s.expireIfPast(ctx, tx); err != nil {
		return nil, err
	} else if expired {
		return etx, apperrors.ErrExpired
	}
	if reason == "" {
		reason = "rejected by user"
	}

	updated, won, err := s.relay.MarkResponded(ctx, txID, types.StatusRejected, "", reason, false, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return s.relay.GetByID(ctx, txID)
	}

	metrics.RelayRequests.WithLabelValues(tx.RequestType, "rejected").Inc()
	s.appendAudit(ctx, userID, "relay.reject", txID.String(), string(updated.Status))
	return updated, nil
}

// CheckStatus is the DApp-facing poll: it requires the connection key, not
// user auth, and lazily expires past-deadline pending requests so pollers
// never observe a stale pending.
func (s *RelayService) CheckStatus(ctx context.Context, txID uuid.UUID, connectionKey, origin string) (*types.RelayTransaction, error) {
	conn, err := s.connections.Resolve(ctx, connectionKey, origin)
	if err != nil {
		return nil, err
	}

	tx, err := s.relay.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.ConnectionID != conn.ID {
		return nil, apperrors.ErrNotFound
	}

	if expired, etx, err := s.expireIfPast(ctx, tx); err != nil {
		return nil, err
	} else if expired {
		return etx, nil
	}
	return tx, nil
}

// Get returns the owner's view of a transaction.
func (s *RelayService) Get(ctx context.Context, txID uuid.UUID, userID string) (*types.RelayTransaction, error) {
	tx, err := s.getOwned(ctx, txID, userID)
	if err != nil {
		return nil, err
	}
	if expired, etx, err := s.expireIfPast(ctx, tx); err != nil {
		return nil, err
	} else if expired {
		return etx, nil
	}
	return tx, nil
}

// List returns the user's recent transactions.
func (s *RelayService) List(ctx context.Context, userID string, limit int) ([]*types.RelayTransaction, error) {
	return s.relay.ListByUser(ctx, userID, limit)
}

// Complete records the on-chain outcome reported by the DApp and moves the
// request approved -> completed. Completing twice is a no-op.
func (s *RelayService) Complete(ctx context.Context, txID uuid.UUID, connectionKey, origin, txHash string, blockNumber int64) (*types.RelayTransaction, error) {
	conn, err := s.connections.Resolve(ctx, connectionKey, origin)
	if err != nil {
		return nil, err
	}
	if txHash == "" {
		return nil, apperrors.Validation("txHash is required")
	}

	tx, err := s.relay.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.ConnectionID != conn.ID {
		return nil, apperrors.ErrNotFound
	}
	if tx.Status == types.StatusCompleted {
		return tx, nil
	}

	updated, won, err := s.relay.MarkCompleted(ctx, txID, txHash, blockNumber, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.relay.GetByID(ctx, txID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == types.StatusCompleted {
			return current, nil
		}
		return nil, apperrors.Validation("transaction is not approved")
	}

	metrics.RelayRequests.WithLabelValues(updated.RequestType, "completed").Inc()
	s.appendAudit(ctx, conn.DApp.Domain, "relay.complete", txID.String(), string(updated.Status))
	return updated, nil
}

// Fail records a broadcast failure and moves the request
// pending|approved -> failed. Failing a terminal request is a no-op.
func (s *RelayService) Fail(ctx context.Context, txID uuid.UUID, connectionKey, origin, errMsg, txHash string) (*types.RelayTransaction, error) {
	conn, err := s.connections.Resolve(ctx, connectionKey, origin)
	if err != nil {
		return nil, err
	}

	tx, err := s.relay.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.ConnectionID != conn.ID {
		return nil, apperrors.ErrNotFound
	}
	if tx.Status.Terminal() {
		return tx, nil
	}
	if errMsg == "" {
		errMsg = "transaction failed"
	}

	updated, won, err := s.relay.MarkFailed(ctx, txID, errMsg, txHash, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return s.relay.GetByID(ctx, txID)
	}

	metrics.RelayRequests.WithLabelValues(updated.RequestType, "failed").Inc()
	s.appendAudit(ctx, conn.DApp.Domain, "relay.fail", txID.String(), string(updated.Status))
	return updated, nil
}

// ExpireStale transitions every past-deadline pending request. Called by
// the background sweeper.
func (s *RelayService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.relay.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ExpiredSwept.Add(float64(n))
		logger.Info(ctx, "expired stale relay requests", "count", n)
	}
	return n, nil
}

func (s *RelayService) getOwned(ctx context.Context, txID uuid.UUID, userID string) (*types.RelayTransaction, error) {
	tx, err := s.relay.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apperrors.ErrNotFound
	}
	if tx.UserID != userID {
		return nil, apperrors.ErrOwnership
	}
	return tx, nil
}

// expireIfPast lazily materializes expiry on read: a pending request past
// its deadline is swapped to expired before the caller sees it.
func (s *RelayService) expireIfPast(ctx context.Context, tx *types.RelayTransaction) (bool, *types.RelayTransaction, error) {
	if tx.Status != types.StatusPending || !s.now().After(tx.ExpiresAt) {
		return false, nil, nil
	}
	if _, err := s.relay.MarkExpired(ctx, tx.ID, s.now()); err != nil {
		return false, nil, err
	}
	current, err := s.relay.GetByID(ctx, tx.ID)
	if err != nil {
		return false, nil, err
	}
	metrics.RelayRequests.WithLabelValues(tx.RequestType, "expired").Inc()
	return true, current, nil
}

func (s *RelayService) appendAudit(ctx context.Context, actor, action, resourceID, result string) {
	entry := &types.AuditLog{
		ID:           s.idgen(),
		Actor:        actor,
		Action:       action,
		ResourceType: "relay_transaction",
		ResourceID:   resourceID,
		Result:       result,
		CreatedAt:    s.now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		logger.Warn(ctx, "failed to append audit log", "action", action, "error", err)
	}
}
