package wallet

import (
	"context"
	"time"
)

// Store abstracts wallet persistence.
//
// Mutate runs fn with the tenant's wallet exclusively held: two concurrent
// mutations of one wallet never interleave, so a debit can safely check the
// balance it is about to change. Different wallets proceed in parallel.
//
// If fn returns an error no staged change may be visible afterwards.
type Store interface {
	GetWallet(ctx context.Context, tenantID string) (Wallet, error)
	GetBalance(ctx context.Context, tenantID string) (Balance, error)
	ListLedger(ctx context.Context, tenantID string, from, to time.Time) ([]Entry, error)
	Mutate(ctx context.Context, tenantID string, fn func(tx Tx) error) error
}

// Tx is the single-wallet mutation scope handed to Mutate callbacks.
type Tx interface {
	// Wallet returns the locked wallet row.
	Wallet() Wallet

	Balance() (Balance, error)

	// FindEntry looks up a ledger entry by idempotency key.
	FindEntry(key string) (Entry, bool, error)

	// FindReversal looks up the rollback entry reversing the charge with the
	// given idempotency key.
	FindReversal(originalKey string) (Entry, bool, error)

	Append(e Entry) error

	// ApplyDelta moves the cached balance and returns the new projection.
	ApplyDelta(deltaMinor int64, now time.Time) (Balance, error)

	SetStatus(st WalletStatus, now time.Time) error
}
