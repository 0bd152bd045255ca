package wallet

import (
	"time"

	"agent-platform/internal/rates"
)

// Wallet represents a tenant's prepaid balance account. One wallet per tenant.
//
// Invariant: available balance must be derived from immutable ledger entries.
// No code should ever mutate a balance without writing a corresponding entry.
type Wallet struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Currency string `json:"currency" db:"currency"`

	// Status active/locked. Locked suspends debits but never credits.
	Status WalletStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusLocked WalletStatus = "locked"
)

// Entry is an immutable append-only ledger record.
//
// Multi-tenant invariant: tenant_id required.
// Money invariant: any balance change MUST have a corresponding entry, and the
// cached balance must always equal the running sum of entries.
type Entry struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	WalletID string `json:"wallet_id" db:"wallet_id"`

	// Category classifies the entry. Keep stable.
	Category Category `json:"category" db:"category"`

	// Operation is set for usage charges and their rollbacks.
	Operation rates.Operation `json:"operation,omitempty" db:"operation"`

	// Quantity is the number of metered units behind a usage charge.
	Quantity int64 `json:"quantity,omitempty" db:"quantity"`

	// AmountMinor is the signed amount in minor units (e.g., cents).
	// Credits are positive, debits are negative.
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	Description string `json:"description,omitempty" db:"description"`

	// ExternalRef is optional: conversation_id, ticket_id, invoice_id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey ties the entry to exactly one logical unit of work.
	// UNIQUE (wallet_id, idempotency_key) guarantees single billing on replay.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// ReversesKey, set on rollback entries, is the idempotency key of the
	// charge being reversed. At most one reversal per charge.
	ReversesKey string `json:"reverses_key,omitempty" db:"reverses_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Category string

const (
	CategoryUsageCharge       Category = "usage_charge"
	CategoryRollback          Category = "rollback"
	CategoryTopUp             Category = "top_up"
	CategoryManualRollback    Category = "manual_rollback"
	CategoryDisputeResolution Category = "dispute_resolution"
)

// Balance is the cached projection of the running ledger sum.
type Balance struct {
	TenantID     string    `json:"tenant_id"`
	WalletID     string    `json:"wallet_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}
