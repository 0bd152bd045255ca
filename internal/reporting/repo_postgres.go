package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agent-platform/internal/convo"
	"agent-platform/internal/wallet"
)

// PostgresRepo reads directly from the immutable wallet ledger and the
// conversations table. Reporting never joins through mutable projections.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListWalletLedger(ctx context.Context, tenantID string, from, to time.Time) ([]wallet.Entry, error) {
	const q = `
SELECT id, tenant_id, wallet_id, category, operation, quantity, amount_minor,
       currency, description, external_ref, idempotency_key, COALESCE(reverses_key, ''), created_at
FROM wallet_ledger
WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.Entry
	for rows.Next() {
		var e wallet.Entry
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.WalletID,
			&e.Category,
			&e.Operation,
			&e.Quantity,
			&e.AmountMinor,
			&e.Currency,
			&e.Description,
			&e.ExternalRef,
			&e.IdempotencyKey,
			&e.ReversesKey,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListConversations(ctx context.Context, tenantID string, from, to time.Time) ([]convo.Conversation, error) {
	const q = `
SELECT id, tenant_id, mode, state, created_at, updated_at
FROM conversations
WHERE tenant_id = $1 AND updated_at >= $2 AND updated_at < $3
ORDER BY updated_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []convo.Conversation
	for rows.Next() {
		var (
			c         convo.Conversation
			stateJSON []byte
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Mode, &stateJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stateJSON, &c.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
