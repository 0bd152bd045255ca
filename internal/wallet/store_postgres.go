package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"agent-platform/pkg/utils"
)

// PostgresStore persists wallets in Postgres.
//
// Assumed tables:
// - wallets
// - wallet_ledger (immutable append-only)
// - wallet_balances (projection)
//
// Assumed constraints:
// - UNIQUE (wallet_id, idempotency_key) on wallet_ledger
// - UNIQUE (wallet_id, reverses_key) on wallet_ledger where reverses_key <> ''
//
// Per-wallet serialization comes from SELECT ... FOR UPDATE on the wallet row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetWallet(ctx context.Context, tenantID string) (Wallet, error) {
	const q = `
SELECT id, tenant_id, currency, status, created_at, updated_at
FROM wallets
WHERE tenant_id = $1
`
	var w Wallet
	if err := s.db.QueryRowContext(ctx, q, tenantID).Scan(
		&w.ID,
		&w.TenantID,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, tenantID string) (Balance, error) {
	const q = `
SELECT tenant_id, wallet_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE tenant_id = $1
`
	var b Balance
	if err := s.db.QueryRowContext(ctx, q, tenantID).Scan(
		&b.TenantID,
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (s *PostgresStore) ListLedger(ctx context.Context, tenantID string, from, to time.Time) ([]Entry, error) {
	const q = `
SELECT id, tenant_id, wallet_id, category, operation, quantity, amount_minor, currency,
       description, external_ref, idempotency_key, reverses_key, created_at
FROM wallet_ledger
WHERE tenant_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at ASC
`
	rows, err := s.db.QueryContext(ctx, q, tenantID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
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

func (s *PostgresStore) Mutate(ctx context.Context, tenantID string, fn func(tx Tx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWallet(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		return fn(&pgTx{ctx: ctx, tx: tx, wallet: w})
	})
}

func lockWallet(ctx context.Context, tx *sql.Tx, tenantID string) (Wallet, error) {
	// Lock the wallet row to serialize concurrent money operations per wallet.
	const q = `
SELECT id, tenant_id, currency, status, created_at, updated_at
FROM wallets
WHERE tenant_id = $1
FOR UPDATE
`
	var w Wallet
	if err := tx.QueryRowContext(ctx, q, tenantID).Scan(
		&w.ID,
		&w.TenantID,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

type pgTx struct {
	ctx    context.Context
	tx     *sql.Tx
	wallet Wallet
}

func (t *pgTx) Wallet() Wallet { return t.wallet }

func (t *pgTx) Balance() (Balance, error) {
	const q = `
SELECT tenant_id, wallet_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE tenant_id = $1 AND wallet_id = $2
`
	var b Balance
	if err := t.tx.QueryRowContext(t.ctx, q, t.wallet.TenantID, t.wallet.ID).Scan(
		&b.TenantID,
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (t *pgTx) FindEntry(key string) (Entry, bool, error) {
	const q = `
SELECT id, tenant_id, wallet_id, category, operation, quantity, amount_minor, currency,
       description, external_ref, idempotency_key, reverses_key, created_at
FROM wallet_ledger
WHERE wallet_id = $1 AND idempotency_key = $2
LIMIT 1
`
	return t.scanEntry(t.tx.QueryRowContext(t.ctx, q, t.wallet.ID, key))
}

func (t *pgTx) FindReversal(originalKey string) (Entry, bool, error) {
	const q = `
SELECT id, tenant_id, wallet_id, category, operation, quantity, amount_minor, currency,
       description, external_ref, idempotency_key, reverses_key, created_at
FROM wallet_ledger
WHERE wallet_id = $1 AND reverses_key = $2
LIMIT 1
`
	return t.scanEntry(t.tx.QueryRowContext(t.ctx, q, t.wallet.ID, originalKey))
}

func (t *pgTx) scanEntry(row *sql.Row) (Entry, bool, error) {
	var e Entry
	err := row.Scan(
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
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func (t *pgTx) Append(e Entry) error {
	const q = `
INSERT INTO wallet_ledger (
  id, tenant_id, wallet_id, category, operation, quantity, amount_minor, currency,
  description, external_ref, idempotency_key, reverses_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		e.ID,
		e.TenantID,
		e.WalletID,
		e.Category,
		e.Operation,
		e.Quantity,
		e.AmountMinor,
		e.Currency,
		e.Description,
		e.ExternalRef,
		e.IdempotencyKey,
		e.ReversesKey,
		e.CreatedAt,
	)
	return err
}

func (t *pgTx) ApplyDelta(deltaMinor int64, now time.Time) (Balance, error) {
	const q = `
INSERT INTO wallet_balances (tenant_id, wallet_id, currency, balance_minor, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, wallet_id)
DO UPDATE SET balance_minor = wallet_balances.balance_minor + EXCLUDED.balance_minor,
              updated_at = EXCLUDED.updated_at
RETURNING tenant_id, wallet_id, currency, balance_minor, updated_at
`
	var b Balance
	if err := t.tx.QueryRowContext(t.ctx, q, t.wallet.TenantID, t.wallet.ID, t.wallet.Currency, deltaMinor, now).Scan(
		&b.TenantID,
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (t *pgTx) SetStatus(st WalletStatus, now time.Time) error {
	const q = `
UPDATE wallets SET status = $1, updated_at = $2
WHERE tenant_id = $3 AND id = $4
`
	_, err := t.tx.ExecContext(t.ctx, q, st, now, t.wallet.TenantID, t.wallet.ID)
	if err == nil {
		t.wallet.Status = st
		t.wallet.UpdatedAt = now
	}
	return err
}

func nullTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v
}
