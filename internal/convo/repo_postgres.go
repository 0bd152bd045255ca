package convo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agent-platform/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist:
// - conversations (state stored as JSONB)
// - conversation_messages (immutable append-only, UNIQUE (conversation_id, seq))

// PostgresRepo is the durable Repository.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetOrCreate(ctx context.Context, tenantID, convID string, mode Mode) (Conversation, error) {
	if !mode.Valid() {
		return Conversation{}, ErrInvalidMode
	}
	c, err := r.Get(ctx, tenantID, convID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	now := time.Now().UTC()
	stateJSON, err := json.Marshal(NewState())
	if err != nil {
		return Conversation{}, fmt.Errorf("marshal state: %w", err)
	}
	const q = `
INSERT INTO conversations (id, tenant_id, mode, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (tenant_id, id) DO NOTHING
`
	if _, err := r.db.ExecContext(ctx, q, convID, tenantID, mode, stateJSON, now); err != nil {
		return Conversation{}, err
	}
	// A concurrent first turn may have won the insert; read back either way.
	return r.Get(ctx, tenantID, convID)
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, convID string) (Conversation, error) {
	const q = `
SELECT id, tenant_id, mode, state, created_at, updated_at
FROM conversations
WHERE tenant_id = $1 AND id = $2
`
	var (
		c         Conversation
		stateJSON []byte
	)
	if err := r.db.QueryRowContext(ctx, q, tenantID, convID).Scan(
		&c.ID,
		&c.TenantID,
		&c.Mode,
		&stateJSON,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	if err := json.Unmarshal(stateJSON, &c.State); err != nil {
		return Conversation{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) AppendMessage(ctx context.Context, tenantID, convID string, role Role, content string) (Message, error) {
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		TenantID:       tenantID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the conversation row to serialize seq assignment per conversation.
		const lockQ = `
SELECT id FROM conversations
WHERE tenant_id = $1 AND id = $2
FOR UPDATE
`
		var id string
		if err := tx.QueryRowContext(ctx, lockQ, tenantID, convID).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		const insQ = `
INSERT INTO conversation_messages (id, conversation_id, tenant_id, role, content, seq, created_at)
VALUES ($1, $2, $3, $4, $5,
        (SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_messages WHERE tenant_id = $3 AND conversation_id = $2),
        $6)
RETURNING seq
`
		if err := tx.QueryRowContext(ctx, insQ, m.ID, convID, tenantID, m.Role, m.Content, m.CreatedAt).Scan(&m.Seq); err != nil {
			return err
		}

		const touchQ = `UPDATE conversations SET updated_at = $3 WHERE tenant_id = $1 AND id = $2`
		_, err := tx.ExecContext(ctx, touchQ, tenantID, convID, m.CreatedAt)
		return err
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (r *PostgresRepo) History(ctx context.Context, tenantID, convID string, limit int) ([]Message, error) {
	const q = `
SELECT id, conversation_id, tenant_id, role, content, seq, created_at
FROM (
    SELECT id, conversation_id, tenant_id, role, content, seq, created_at
    FROM conversation_messages
    WHERE tenant_id = $1 AND conversation_id = $2
    ORDER BY seq DESC
    LIMIT CASE WHEN $3 > 0 THEN $3 ELSE NULL END
) t
ORDER BY seq ASC
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Role, &m.Content, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SaveState(ctx context.Context, tenantID, convID string, st DialogueState) error {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	const q = `
UPDATE conversations
SET state = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, tenantID, convID, stateJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
