package wallet

import (
	"context"
	"errors"
	"time"

	"agent-platform/internal/rates"

	"github.com/google/uuid"
)

// Service is the Usage Ledger: it owns every balance mutation.
//
// Money invariants:
// - balance never goes below zero; a debit that would overdraw is rejected
// - no balance update without a ledger entry; the ledger is append-only
// - one ledger entry per idempotency key, no matter how often an event is
//   redelivered
// - a rolled-back charge nets to exactly zero; a second rollback of the same
//   charge is a no-op
//
// Lock semantics: a locked wallet rejects debits only. Credits (rollbacks and
// administrative categories) always post.
type Service struct {
	store Store
	// rateSrc resolves the unit price for a charge. The rate is fixed before
	// the wallet is locked and never re-read mid-mutation.
	rateSrc RateSource
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// RateSource is the minimal rate contract the ledger needs.
// *rates.Service satisfies it.
type RateSource interface {
	QuoteCharge(ctx context.Context, tenantID string, op rates.Operation, quantity int64, at time.Time) (rates.Quote, error)
}

func NewService(store Store, rateSrc RateSource) *Service {
	return &Service{store: store, rateSrc: rateSrc, clock: time.Now}
}

var (
	ErrNotFound          = errors.New("wallet: not found")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrWalletLocked      = errors.New("wallet: locked")
	ErrAlreadyRolledBack = errors.New("wallet: charge already rolled back")
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
)

// ChargeRequest debits one metered unit of work.
type ChargeRequest struct {
	Operation rates.Operation `json:"operation"`
	Quantity  int64           `json:"quantity"`

	// ConversationID links the charge back to the dialogue that caused it.
	ConversationID string `json:"conversation_id,omitempty"`

	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description,omitempty"`
}

// CreditRequest is an administrative credit (top-up, manual rollback,
// dispute resolution).
type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	ExternalRef    string `json:"external_ref,omitempty"`
}

func (s *Service) GetBalance(ctx context.Context, tenantID string) (Balance, error) {
	if tenantID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return s.store.GetBalance(ctx, tenantID)
}

func (s *Service) GetWallet(ctx context.Context, tenantID string) (Wallet, error) {
	if tenantID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	return s.store.GetWallet(ctx, tenantID)
}

func (s *Service) ListLedger(ctx context.Context, tenantID string, from, to time.Time) ([]Entry, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListLedger(ctx, tenantID, from, to)
}

// Charge debits quantity x unitRate(operation) against the tenant's wallet.
//
// Redelivered events (same idempotency key) return the original entry and the
// current balance without posting a second debit. The ledger never grants
// partial credit: the full amount posts or the charge is rejected.
func (s *Service) Charge(ctx context.Context, tenantID string, req ChargeRequest) (Entry, Balance, error) {
	if tenantID == "" || req.IdempotencyKey == "" {
		return Entry{}, Balance{}, ErrInvalidArgument
	}
	if !req.Operation.Valid() || req.Quantity <= 0 {
		return Entry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()

	// Rate is fixed here, before the wallet lock, for the whole charge.
	quote, err := s.rateSrc.QuoteCharge(ctx, tenantID, req.Operation, req.Quantity, now)
	if err != nil {
		return Entry{}, Balance{}, err
	}

	var outEntry Entry
	var outBal Balance

	err = s.store.Mutate(ctx, tenantID, func(tx Tx) error {
		w := tx.Wallet()
		if w.Currency != quote.Currency {
			return ErrInvalidArgument
		}

		// Idempotency wins over everything else: a replayed event for an
		// already-posted charge succeeds even if the wallet has since locked.
		if existing, ok, err := tx.FindEntry(req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outEntry = existing
			b, err := tx.Balance()
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		if w.Status == WalletStatusLocked {
			return ErrWalletLocked
		}

		b, err := tx.Balance()
		if err != nil {
			return err
		}
		if b.BalanceMinor < quote.TotalMinor {
			return ErrInsufficientFunds
		}

		entry := Entry{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			WalletID:       w.ID,
			Category:       CategoryUsageCharge,
			Operation:      req.Operation,
			Quantity:       req.Quantity,
			AmountMinor:    -quote.TotalMinor,
			Currency:       quote.Currency,
			Description:    req.Description,
			ExternalRef:    req.ConversationID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := tx.Append(entry); err != nil {
			return err
		}

		out, err := tx.ApplyDelta(-quote.TotalMinor, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = out
		return nil
	})

	return outEntry, outBal, err
}

// Rollback credits back exactly the amount of a prior charge referenced by
// its idempotency key. Retried rollbacks of an already-reversed charge are
// no-ops (ErrAlreadyRolledBack), never double-credits. Rollbacks post even
// when the wallet is locked.
func (s *Service) Rollback(ctx context.Context, tenantID, originalKey string) (Entry, Balance, error) {
	if tenantID == "" || originalKey == "" {
		return Entry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()

	var outEntry Entry
	var outBal Balance

	err := s.store.Mutate(ctx, tenantID, func(tx Tx) error {
		w := tx.Wallet()

		orig, ok, err := tx.FindEntry(originalKey)
		if err != nil {
			return err
		}
		if !ok || orig.Category != CategoryUsageCharge {
			return ErrNotFound
		}

		if _, ok, err := tx.FindReversal(originalKey); err != nil {
			return err
		} else if ok {
			return ErrAlreadyRolledBack
		}

		// orig.AmountMinor is negative; the reversal is its exact mirror.
		entry := Entry{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			WalletID:       w.ID,
			Category:       CategoryRollback,
			Operation:      orig.Operation,
			Quantity:       orig.Quantity,
			AmountMinor:    -orig.AmountMinor,
			Currency:       orig.Currency,
			Description:    "rollback of failed unit of work",
			ExternalRef:    orig.ExternalRef,
			IdempotencyKey: "rb:" + originalKey,
			ReversesKey:    originalKey,
			CreatedAt:      now,
		}
		if err := tx.Append(entry); err != nil {
			return err
		}

		out, err := tx.ApplyDelta(-orig.AmountMinor, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = out
		return nil
	})

	return outEntry, outBal, err
}

// TopUp posts a prepaid balance credit.
func (s *Service) TopUp(ctx context.Context, tenantID string, req CreditRequest) (Entry, Balance, error) {
	return s.adminCredit(ctx, tenantID, CategoryTopUp, req, false)
}

// ManualRollback posts an operator-initiated corrective credit.
func (s *Service) ManualRollback(ctx context.Context, tenantID string, req CreditRequest) (Entry, Balance, error) {
	return s.adminCredit(ctx, tenantID, CategoryManualRollback, req, true)
}

// DisputeResolution posts a credit settling a billing dispute.
func (s *Service) DisputeResolution(ctx context.Context, tenantID string, req CreditRequest) (Entry, Balance, error) {
	return s.adminCredit(ctx, tenantID, CategoryDisputeResolution, req, true)
}

// adminCredit posts an administrative credit. Always allowed regardless of
// lock state, always categorized.
func (s *Service) adminCredit(ctx context.Context, tenantID string, cat Category, req CreditRequest, reasonRequired bool) (Entry, Balance, error) {
	if tenantID == "" || req.IdempotencyKey == "" {
		return Entry{}, Balance{}, ErrInvalidArgument
	}
	if req.AmountMinor <= 0 {
		return Entry{}, Balance{}, ErrInvalidArgument
	}
	if reasonRequired && req.Reason == "" {
		return Entry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()

	var outEntry Entry
	var outBal Balance

	err := s.store.Mutate(ctx, tenantID, func(tx Tx) error {
		w := tx.Wallet()

		if existing, ok, err := tx.FindEntry(req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outEntry = existing
			b, err := tx.Balance()
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := Entry{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			WalletID:       w.ID,
			Category:       cat,
			AmountMinor:    req.AmountMinor,
			Currency:       w.Currency,
			Description:    req.Reason,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := tx.Append(entry); err != nil {
			return err
		}

		out, err := tx.ApplyDelta(req.AmountMinor, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = out
		return nil
	})

	return outEntry, outBal, err
}

// SetLocked flips the wallet lock. Locked suspends further debits; pending
// credits and rollbacks still post.
func (s *Service) SetLocked(ctx context.Context, tenantID string, locked bool) (Wallet, error) {
	if tenantID == "" {
		return Wallet{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	st := WalletStatusActive
	if locked {
		st = WalletStatusLocked
	}

	var out Wallet
	err := s.store.Mutate(ctx, tenantID, func(tx Tx) error {
		if err := tx.SetStatus(st, now); err != nil {
			return err
		}
		out = tx.Wallet()
		out.Status = st
		out.UpdatedAt = now
		return nil
	})
	return out, err
}
