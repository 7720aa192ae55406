package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// pgRelayTransactionRepo is the PostgreSQL RelayTransactionStore. Status
// transitions are conditional UPDATEs keyed on the source status, so at
// most one concurrent caller can move a transaction out of pending.
type pgRelayTransactionRepo struct {
	db DBTX
}

const relayTxColumns = `id, connection_id, user_id, wallet_id, request_type, request_data,
	status, signature, error_message, risk_score, risk_factors, auto_approved, gasless,
	requested_at, expires_at, responded_at, completed_at, tx_hash, block_number, confirmations`

func (r *pgRelayTransactionRepo) Create(ctx context.Context, tx *types.RelayTransaction) error {
	requestData, err := json.Marshal(tx.RequestData)
	if err != nil {
		return fmt.Errorf("failed to marshal request data: %w", err)
	}
	riskFactors, err := json.Marshal(tx.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}

	query := `
		INSERT INTO relay_transactions (` + relayTxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err = r.db.Exec(ctx, query,
		tx.ID,
		tx.ConnectionID,
		tx.UserID,
		tx.WalletID,
		tx.RequestType,
		requestData,
		tx.Status,
		tx.Signature,
		tx.Error,
		tx.RiskScore,
		riskFactors,
		tx.AutoApproved,
		tx.Gasless,
		tx.RequestedAt,
		tx.ExpiresAt,
		tx.RespondedAt,
		tx.CompletedAt,
		tx.Blockchain.TxHash,
		tx.Blockchain.BlockNumber,
		tx.Blockchain.Confirmations,
	)
	if err != nil {
		return fmt.Errorf("failed to create relay transaction: %w", err)
	}
	return nil
}

func (r *pgRelayTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.RelayTransaction, error) {
	query := `SELECT ` + relayTxColumns + ` FROM relay_transactions WHERE id = $1`
	return r.scanRelayTx(r.db.QueryRow(ctx, query, id))
}

func (r *pgRelayTransactionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*types.RelayTransaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + relayTxColumns + `
		FROM relay_transactions
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list relay transactions: %w", err)
	}
	defer rows.Close()

	var txs []*types.RelayTransaction
	for rows.Next() {
		tx, err := r.scanRelayTx(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (r *pgRelayTransactionRepo) MarkResponded(ctx context.Context, id uuid.UUID, to types.TransactionStatus, signature, errMsg string, autoApproved bool, at time.Time) (*types.RelayTransaction, bool, error) {
	if to != types.StatusApproved && to != types.StatusRejected {
		return nil, false, fmt.Errorf("invalid responded status: %s", to)
	}

	query := `
		UPDATE relay_transactions
		SET status = $2, signature = $3, error_message = $4, auto_approved = $5, responded_at = $6
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + relayTxColumns

	tx, err := r.scanRelayTx(r.db.QueryRow(ctx, query, id, to, signature, errMsg, autoApproved, at))
	if err != nil {
		return nil, false, err
	}
	if tx == nil {
		return nil, false, nil
	}
	return tx, true, nil
}

func (r *pgRelayTransactionRepo) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE relay_transactions
		SET status = 'expired', responded_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to expire relay transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRelayTransactionRepo) MarkCompleted(ctx context.Context, id uuid.UUID, txHash string, blockNumber int64, at time.Time) (*types.RelayTransaction, bool, error) {
	query := `
		UPDATE relay_transactions
		SET status = 'completed', tx_hash = $2, block_number = $3, confirmations = 1, completed_at = $4
		WHERE id = $1 AND status = 'approved'
		RETURNING ` + relayTxColumns

	tx, err := r.scanRelayTx(r.db.QueryRow(ctx, query, id, txHash, blockNumber, at))
	if err != nil {
		return nil, false, err
	}
	if tx == nil {
		return nil, false, nil
	}
	return tx, true, nil
}

func (r *pgRelayTransactionRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg, txHash string, at time.Time) (*types.RelayTransaction, bool, error) {
	query := `
		UPDATE relay_transactions
		SET status = 'failed', error_message = $2, tx_hash = $3, signature = '', completed_at = $4
		WHERE id = $1 AND status IN ('pending', 'approved')
		RETURNING ` + relayTxColumns

	tx, err := r.scanRelayTx(r.db.QueryRow(ctx, query, id, errMsg, txHash, at))
	if err != nil {
		return nil, false, err
	}
	if tx == nil {
		return nil, false, nil
	}
	return tx, true, nil
}

func (r *pgRelayTransactionRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE relay_transactions
		SET status = 'expired', responded_at = $1
		WHERE status = 'pending' AND expires_at <= $1
	`

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgRelayTransactionRepo) RejectPendingByConnection(ctx context.Context, connectionID uuid.UUID, reason string, at time.Time) (int64, error) {
	query := `
		UPDATE relay_transactions
		SET status = 'rejected', error_message = $2, responded_at = $3
		WHERE connection_id = $1 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, connectionID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("failed to reject pending transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgRelayTransactionRepo) AverageTransactionValue(ctx context.Context, userID string) (float64, error) {
	query := `
		SELECT COALESCE(AVG((request_data->>'value')::float8), 0)
		FROM relay_transactions
		WHERE user_id = $1
		  AND status IN ('approved', 'completed')
		  AND request_data->>'value' IS NOT NULL
	`

	var avg float64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to compute average transaction value: %w", err)
	}
	return avg, nil
}

func (r *pgRelayTransactionRepo) DestinationSeen(ctx context.Context, userID, address string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM relay_transactions
			WHERE user_id = $1
			  AND LOWER(request_data->>'to') = $2
			  AND status IN ('approved', 'completed')
		)
	`

	var seen bool
	if err := r.db.QueryRow(ctx, query, userID, strings.ToLower(address)).Scan(&seen); err != nil {
		return false, fmt.Errorf("failed to check destination history: %w", err)
	}
	return seen, nil
}

func (r *pgRelayTransactionRepo) scanRelayTx(row pgx.Row) (*types.RelayTransaction, error) {
	var tx types.RelayTransaction
	var requestData, riskFactors []byte

	err := row.Scan(
		&tx.ID,
		&tx.ConnectionID,
		&tx.UserID,
		&tx.WalletID,
		&tx.RequestType,
		&requestData,
		&tx.Status,
		&tx.Signature,
		&tx.Error,
		&tx.RiskScore,
		&riskFactors,
		&tx.AutoApproved,
		&tx.Gasless,
		&tx.RequestedAt,
		&tx.ExpiresAt,
		&tx.RespondedAt,
		&tx.CompletedAt,
		&tx.Blockchain.TxHash,
		&tx.Blockchain.BlockNumber,
		&tx.Blockchain.Confirmations,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relay transaction: %w", err)
	}

	if err := json.Unmarshal(requestData, &tx.RequestData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request data: %w", err)
	}
	if err := json.Unmarshal(riskFactors, &tx.RiskFactors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk factors: %w", err)
	}

	return &tx, nil
}
