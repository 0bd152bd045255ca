package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory wallet store for tests and early development.
// It provides the same per-wallet mutual exclusion as the Postgres store
// (a per-wallet mutex instead of SELECT ... FOR UPDATE).
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*memWallet
}

type memWallet struct {
	mu      sync.Mutex
	wallet  Wallet
	balance Balance
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: map[string]*memWallet{}}
}

// CreateWallet provisions a wallet with an opening balance. The opening
// credit is itself a ledger entry so the cache-equals-sum invariant holds
// from the first row.
func (s *MemoryStore) CreateWallet(tenantID, currency string, openingMinor int64) Wallet {
	now := time.Now().UTC()
	w := Wallet{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Currency:  currency,
		Status:    WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mw := &memWallet{
		wallet: w,
		balance: Balance{
			TenantID:  tenantID,
			WalletID:  w.ID,
			Currency:  currency,
			UpdatedAt: now,
		},
	}
	if openingMinor > 0 {
		mw.entries = append(mw.entries, Entry{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			WalletID:       w.ID,
			Category:       CategoryTopUp,
			AmountMinor:    openingMinor,
			Currency:       currency,
			Description:    "opening balance",
			IdempotencyKey: "opening:" + tenantID,
			CreatedAt:      now,
		})
		mw.balance.BalanceMinor = openingMinor
	}

	s.mu.Lock()
	s.wallets[tenantID] = mw
	s.mu.Unlock()
	return w
}

func (s *MemoryStore) get(tenantID string) (*memWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mw, ok := s.wallets[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return mw, nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, tenantID string) (Wallet, error) {
	mw, err := s.get(tenantID)
	if err != nil {
		return Wallet{}, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.wallet, nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, tenantID string) (Balance, error) {
	mw, err := s.get(tenantID)
	if err != nil {
		return Balance{}, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.balance, nil
}

func (s *MemoryStore) ListLedger(ctx context.Context, tenantID string, from, to time.Time) ([]Entry, error) {
	mw, err := s.get(tenantID)
	if err != nil {
		return nil, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	out := make([]Entry, 0, len(mw.entries))
	for _, e := range mw.entries {
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, tenantID string, fn func(tx Tx) error) error {
	mw, err := s.get(tenantID)
	if err != nil {
		return err
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	tx := &memTx{
		wallet:  mw.wallet,
		balance: mw.balance,
		base:    mw.entries,
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit the staged state only on success.
	mw.wallet = tx.wallet
	mw.balance = tx.balance
	mw.entries = append(mw.entries, tx.pending...)
	return nil
}

// memTx stages changes against copies so a failed callback leaves nothing
// behind.
type memTx struct {
	wallet  Wallet
	balance Balance
	base    []Entry
	pending []Entry
}

func (t *memTx) Wallet() Wallet { return t.wallet }

func (t *memTx) Balance() (Balance, error) { return t.balance, nil }

func (t *memTx) all() []Entry {
	out := make([]Entry, 0, len(t.base)+len(t.pending))
	out = append(out, t.base...)
	out = append(out, t.pending...)
	return out
}

func (t *memTx) FindEntry(key string) (Entry, bool, error) {
	for _, e := range t.all() {
		if e.IdempotencyKey == key {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (t *memTx) FindReversal(originalKey string) (Entry, bool, error) {
	for _, e := range t.all() {
		if e.ReversesKey != "" && e.ReversesKey == originalKey {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (t *memTx) Append(e Entry) error {
	t.pending = append(t.pending, e)
	return nil
}

func (t *memTx) ApplyDelta(deltaMinor int64, now time.Time) (Balance, error) {
	t.balance.BalanceMinor += deltaMinor
	t.balance.UpdatedAt = now
	return t.balance, nil
}

func (t *memTx) SetStatus(st WalletStatus, now time.Time) error {
	t.wallet.Status = st
	t.wallet.UpdatedAt = now
	return nil
}
