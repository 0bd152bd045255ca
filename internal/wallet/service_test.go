package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agent-platform/internal/rates"
)

func newTestService(t *testing.T, openingMinor int64, unitPrices map[rates.Operation]int64) (*Service, *MemoryStore) {
	t.Helper()

	var rows []rates.OperationRate
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for op, price := range unitPrices {
		rows = append(rows, rates.OperationRate{
			ID:             "rate-" + string(op),
			TenantID:       "tn-1",
			Operation:      op,
			Currency:       "USD",
			UnitPriceMinor: price,
			EffectiveFrom:  from,
			Status:         rates.RateStatusActive,
		})
	}

	store := NewMemoryStore()
	store.CreateWallet("tn-1", "USD", openingMinor)

	svc := NewService(store, rates.NewService(&rates.MemoryRepo{Rates: rows}))
	return svc, store
}

func chargeReq(op rates.Operation, qty int64, key string) ChargeRequest {
	return ChargeRequest{Operation: op, Quantity: qty, ConversationID: "conv-1", IdempotencyKey: key}
}

func TestCharge_FiveTurnsThenInsufficient(t *testing.T) {
	// Spec scenario: balance 100, unit cost 10; five turns leave 50, a sixth
	// request for 6 units (60) fails and leaves 50.
	svc, _ := newTestService(t, 100, map[rates.Operation]int64{rates.OpChatCompletion: 10})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, bal, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 1, fmt.Sprintf("turn-%d", i)))
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if want := int64(100 - 10*i); bal.BalanceMinor != want {
			t.Fatalf("turn %d: expected balance %d, got %d", i, want, bal.BalanceMinor)
		}
	}

	_, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 6, "turn-6"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	bal, err := svc.GetBalance(ctx, "tn-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.BalanceMinor != 50 {
		t.Fatalf("expected balance 50 after rejected charge, got %d", bal.BalanceMinor)
	}
}

func TestCharge_IdempotentReplay(t *testing.T) {
	svc, store := newTestService(t, 100, map[rates.Operation]int64{rates.OpChatCompletion: 10})
	ctx := context.Background()

	e1, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 1, "turn-1"))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	e2, bal, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 1, "turn-1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if e1.ID != e2.ID {
		t.Fatalf("expected same ledger entry on replay")
	}
	if bal.BalanceMinor != 90 {
		t.Fatalf("expected one deduction, balance 90, got %d", bal.BalanceMinor)
	}

	entries, _ := store.ListLedger(ctx, "tn-1", time.Time{}, time.Time{})
	charges := 0
	for _, e := range entries {
		if e.Category == CategoryUsageCharge {
			charges++
		}
	}
	if charges != 1 {
		t.Fatalf("expected exactly one charge entry, got %d", charges)
	}
}

func TestRollback_NetZeroAndIdempotent(t *testing.T) {
	svc, _ := newTestService(t, 100, map[rates.Operation]int64{rates.OpKBRead: 7})
	ctx := context.Background()

	before, _ := svc.GetBalance(ctx, "tn-1")

	_, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpKBRead, 3, "kb-1"))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}

	_, after, err := svc.Rollback(ctx, "tn-1", "kb-1")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if after.BalanceMinor != before.BalanceMinor {
		t.Fatalf("expected net zero, before %d after %d", before.BalanceMinor, after.BalanceMinor)
	}

	_, _, err = svc.Rollback(ctx, "tn-1", "kb-1")
	if !errors.Is(err, ErrAlreadyRolledBack) {
		t.Fatalf("expected ErrAlreadyRolledBack, got %v", err)
	}
	final, _ := svc.GetBalance(ctx, "tn-1")
	if final.BalanceMinor != before.BalanceMinor {
		t.Fatalf("second rollback must not credit again, got %d", final.BalanceMinor)
	}
}

func TestRollback_UnknownKey(t *testing.T) {
	svc, _ := newTestService(t, 100, map[rates.Operation]int64{rates.OpKBRead: 7})

	_, _, err := svc.Rollback(context.Background(), "tn-1", "never-charged")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLockedWallet_BlocksDebitsNotCredits(t *testing.T) {
	svc, _ := newTestService(t, 100, map[rates.Operation]int64{rates.OpChatCompletion: 10, rates.OpKBRead: 5})
	ctx := context.Background()

	_, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpKBRead, 1, "kb-1"))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}

	if _, err := svc.SetLocked(ctx, "tn-1", true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, _, err = svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 1, "turn-1"))
	if !errors.Is(err, ErrWalletLocked) {
		t.Fatalf("expected ErrWalletLocked, got %v", err)
	}

	// Rollback of the earlier charge still posts.
	if _, _, err := svc.Rollback(ctx, "tn-1", "kb-1"); err != nil {
		t.Fatalf("rollback while locked: %v", err)
	}

	// Administrative credits always post.
	_, bal, err := svc.TopUp(ctx, "tn-1", CreditRequest{AmountMinor: 50, IdempotencyKey: "top-1"})
	if err != nil {
		t.Fatalf("top-up while locked: %v", err)
	}
	if bal.BalanceMinor != 150 {
		t.Fatalf("expected 150, got %d", bal.BalanceMinor)
	}
}

func TestAdminCredits_RequireReasonWhereApplicable(t *testing.T) {
	svc, _ := newTestService(t, 0, nil)
	ctx := context.Background()

	if _, _, err := svc.ManualRollback(ctx, "tn-1", CreditRequest{AmountMinor: 10, IdempotencyKey: "m-1"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing reason, got %v", err)
	}
	if _, _, err := svc.DisputeResolution(ctx, "tn-1", CreditRequest{AmountMinor: 10, IdempotencyKey: "d-1"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing reason, got %v", err)
	}
	if _, _, err := svc.TopUp(ctx, "tn-1", CreditRequest{AmountMinor: 10, IdempotencyKey: "t-1"}); err != nil {
		t.Fatalf("top-up without reason should post: %v", err)
	}
}

func TestConcurrentCharges_NeverOverdraw(t *testing.T) {
	// Balance 100, unit 10: at most 10 of 25 racing charges may be accepted,
	// and the final balance must equal the sum of accepted amounts.
	svc, store := newTestService(t, 100, map[rates.Operation]int64{rates.OpChatCompletion: 10})
	ctx := context.Background()

	const attempts = 25
	var wg sync.WaitGroup
	accepted := make(chan int64, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 1, fmt.Sprintf("c-%d", i)))
			if err == nil {
				accepted <- 10
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(accepted)

	var total int64
	for amt := range accepted {
		total += amt
	}

	bal, _ := svc.GetBalance(ctx, "tn-1")
	if bal.BalanceMinor < 0 {
		t.Fatalf("balance went negative: %d", bal.BalanceMinor)
	}
	if bal.BalanceMinor != 100-total {
		t.Fatalf("balance %d does not equal 100 - accepted %d", bal.BalanceMinor, total)
	}

	// Cache and ledger must agree.
	entries, _ := store.ListLedger(ctx, "tn-1", time.Time{}, time.Time{})
	var sum int64
	for _, e := range entries {
		sum += e.AmountMinor
	}
	if sum != bal.BalanceMinor {
		t.Fatalf("ledger sum %d disagrees with cached balance %d", sum, bal.BalanceMinor)
	}
}

func TestCharge_RejectsInvalidArgs(t *testing.T) {
	svc, _ := newTestService(t, 100, map[rates.Operation]int64{rates.OpChatCompletion: 10})
	ctx := context.Background()

	if _, _, err := svc.Charge(ctx, "", chargeReq(rates.OpChatCompletion, 1, "k")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 0, "k")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.OpChatCompletion, 1, "")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := svc.Charge(ctx, "tn-1", chargeReq(rates.Operation("bogus"), 1, "k")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
