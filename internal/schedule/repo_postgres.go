package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"agent-platform/internal/convo"
)

// Postgres persistence for appointments and tickets. Save is an upsert so the
// service can write the pending row and later flip it to confirmed or failed
// with the same call.

type PostgresAppointmentRepo struct {
	db *sql.DB
}

func NewPostgresAppointmentRepo(db *sql.DB) *PostgresAppointmentRepo {
	return &PostgresAppointmentRepo{db: db}
}

func (r *PostgresAppointmentRepo) Save(ctx context.Context, a Appointment) error {
	slots, err := json.Marshal(a.Slots)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO appointments
  (id, tenant_id, conversation_id, provider_id, slots, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id, id) DO UPDATE SET
  provider_id = EXCLUDED.provider_id,
  slots       = EXCLUDED.slots,
  status      = EXCLUDED.status,
  updated_at  = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, q,
		a.ID, a.TenantID, a.ConversationID, a.ProviderID, slots, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (r *PostgresAppointmentRepo) Get(ctx context.Context, tenantID, id string) (Appointment, error) {
	const q = `
SELECT id, tenant_id, conversation_id, provider_id, slots, status, created_at, updated_at
FROM appointments
WHERE tenant_id = $1 AND id = $2`

	return scanAppointment(r.db.QueryRowContext(ctx, q, tenantID, id))
}

func (r *PostgresAppointmentRepo) ListByTenant(ctx context.Context, tenantID string) ([]Appointment, error) {
	const q = `
SELECT id, tenant_id, conversation_id, provider_id, slots, status, created_at, updated_at
FROM appointments
WHERE tenant_id = $1
ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (Appointment, error) {
	var a Appointment
	var slots []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.ConversationID, &a.ProviderID, &slots, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Appointment{}, ErrNotFound
	}
	if err != nil {
		return Appointment{}, err
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &a.Slots); err != nil {
			return Appointment{}, err
		}
	} else {
		a.Slots = convo.Slots{}
	}
	return a, nil
}

type PostgresTicketRepo struct {
	db *sql.DB
}

func NewPostgresTicketRepo(db *sql.DB) *PostgresTicketRepo {
	return &PostgresTicketRepo{db: db}
}

func (r *PostgresTicketRepo) Save(ctx context.Context, tk Ticket) error {
	const q = `
INSERT INTO tickets
  (id, tenant_id, conversation_id, reason, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, id) DO UPDATE SET
  status     = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, q,
		tk.ID, tk.TenantID, tk.ConversationID, tk.Reason, tk.Status, tk.CreatedAt, tk.UpdatedAt,
	)
	return err
}

func (r *PostgresTicketRepo) Get(ctx context.Context, tenantID, id string) (Ticket, error) {
	const q = `
SELECT id, tenant_id, conversation_id, reason, status, created_at, updated_at
FROM tickets
WHERE tenant_id = $1 AND id = $2`

	var tk Ticket
	err := r.db.QueryRowContext(ctx, q, tenantID, id).
		Scan(&tk.ID, &tk.TenantID, &tk.ConversationID, &tk.Reason, &tk.Status, &tk.CreatedAt, &tk.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Ticket{}, ErrNotFound
	}
	return tk, err
}

func (r *PostgresTicketRepo) ListByTenant(ctx context.Context, tenantID string) ([]Ticket, error) {
	const q = `
SELECT id, tenant_id, conversation_id, reason, status, created_at, updated_at
FROM tickets
WHERE tenant_id = $1
ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		var tk Ticket
		if err := rows.Scan(&tk.ID, &tk.TenantID, &tk.ConversationID, &tk.Reason, &tk.Status, &tk.CreatedAt, &tk.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tk)
	}
	return out, rows.Err()
}
