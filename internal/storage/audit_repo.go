package storage

import (
	"context"
	"fmt"

	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// pgAuditRepo is the PostgreSQL AuditStore. Append-only.
type pgAuditRepo struct {
	db DBTX
}

func (r *pgAuditRepo) Append(ctx context.Context, entry *types.AuditLog) error {
	query := `
		INSERT INTO audit_log (id, actor, action, resource_type, resource_id, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.Actor,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.Result,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}
