package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to the audit_events table. The table is INSERT-only;
// there is deliberately no update or delete path here.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events
  (id, tenant_id, type, actor_user_id, actor_role, ip_address,
   wallet_id, conversation_id, ticket_id, ledger_key, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.TenantID, e.Type, e.ActorUserID, e.ActorRole, e.IPAddress,
		e.WalletID, e.ConversationID, e.TicketID, e.LedgerKey, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}

// ListByTenant returns events for operator review, newest first.
func (r *PostgresRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, tenant_id, type, actor_user_id, actor_role, ip_address,
       wallet_id, conversation_id, ticket_id, ledger_key, message, metadata, created_at
FROM audit_events
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`

	rows, err := r.db.QueryContext(ctx, q, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.Type, &e.ActorUserID, &e.ActorRole, &e.IPAddress,
			&e.WalletID, &e.ConversationID, &e.TicketID, &e.LedgerKey, &e.Message, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
