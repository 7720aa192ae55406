package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// pgConnectionRepo is the PostgreSQL ConnectionStore.
type pgConnectionRepo struct {
	db DBTX
}

const connectionColumns = `id, connection_key, user_id, wallet_id, dapp, permissions, status, created_at, updated_at`

func (r *pgConnectionRepo) Create(ctx context.Context, conn *types.RelayConnection) error {
	dapp, err := json.Marshal(conn.DApp)
	if err != nil {
		return fmt.Errorf("failed to marshal dapp info: %w", err)
	}
	permissions, err := json.Marshal(conn.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO relay_connections (id, connection_key, user_id, wallet_id, dapp, permissions, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.Exec(ctx, query,
		conn.ID,
		conn.ConnectionKey,
		conn.UserID,
		conn.WalletID,
		dapp,
		permissions,
		conn.Status,
		conn.CreatedAt,
		conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

func (r *pgConnectionRepo) Update(ctx context.Context, conn *types.RelayConnection) error {
	dapp, err := json.Marshal(conn.DApp)
	if err != nil {
		return fmt.Errorf("failed to marshal dapp info: %w", err)
	}
	permissions, err := json.Marshal(conn.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		UPDATE relay_connections
		SET dapp = $2, permissions = $3, updated_at = $4
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, conn.ID, dapp, permissions, conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection not found")
	}
	return nil
}

func (r *pgConnectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.RelayConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM relay_connections WHERE id = $1`
	return r.scanConnection(r.db.QueryRow(ctx, query, id))
}

func (r *pgConnectionRepo) GetByKey(ctx context.Context, connectionKey string) (*types.RelayConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM relay_connections WHERE connection_key = $1`
	return r.scanConnection(r.db.QueryRow(ctx, query, connectionKey))
}

func (r *pgConnectionRepo) GetActiveByUserAndDomain(ctx context.Context, userID, domain string) (*types.RelayConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM relay_connections
		WHERE user_id = $1 AND dapp->>'domain' = $2 AND status = 'active'
	`
	return r.scanConnection(r.db.QueryRow(ctx, query, userID, domain))
}

func (r *pgConnectionRepo) ListByUser(ctx context.Context, userID string) ([]*types.RelayConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM relay_connections
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*types.RelayConnection
	for rows.Next() {
		conn, err := r.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func (r *pgConnectionRepo) SetRevoked(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE relay_connections
		SET status = 'revoked', updated_at = $2
		WHERE id = $1 AND status != 'revoked'
	`

	// Zero rows affected means already revoked or missing; both are fine
	// for an idempotent revoke.
	if _, err := r.db.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to revoke connection: %w", err)
	}
	return nil
}

func (r *pgConnectionRepo) scanConnection(row pgx.Row) (*types.RelayConnection, error) {
	var conn types.RelayConnection
	var dapp, permissions []byte

	err := row.Scan(
		&conn.ID,
		&conn.ConnectionKey,
		&conn.UserID,
		&conn.WalletID,
		&dapp,
		&permissions,
		&conn.Status,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	if err := json.Unmarshal(dapp, &conn.DApp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dapp info: %w", err)
	}
	if err := json.Unmarshal(permissions, &conn.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	return &conn, nil
}
