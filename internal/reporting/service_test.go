package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"agent-platform/internal/convo"
	"agent-platform/internal/rates"
	"agent-platform/internal/wallet"
)

var (
	repFrom = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repTo   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repAt   = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
)

func TestSpendSummary_BreaksDownByOperation(t *testing.T) {
	repo := &MemoryRepo{Ledger: []wallet.Entry{
		{TenantID: "tn", Category: wallet.CategoryTopUp, AmountMinor: 500, Currency: "USD", CreatedAt: repAt},
		{TenantID: "tn", Category: wallet.CategoryUsageCharge, Operation: rates.OpChatCompletion, AmountMinor: -30, Currency: "USD", CreatedAt: repAt},
		{TenantID: "tn", Category: wallet.CategoryUsageCharge, Operation: rates.OpKBRead, AmountMinor: -10, Currency: "USD", CreatedAt: repAt},
		{TenantID: "tn", Category: wallet.CategoryRollback, Operation: rates.OpKBRead, AmountMinor: 10, Currency: "USD", CreatedAt: repAt},
		// Outside the range and outside the tenant: both ignored.
		{TenantID: "tn", Category: wallet.CategoryUsageCharge, Operation: rates.OpChatCompletion, AmountMinor: -99, Currency: "USD", CreatedAt: repAt.AddDate(0, 2, 0)},
		{TenantID: "other", Category: wallet.CategoryUsageCharge, Operation: rates.OpChatCompletion, AmountMinor: -99, Currency: "USD", CreatedAt: repAt},
	}}
	svc := NewService(repo)

	sum, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{
		TenantID: "tn",
		Range:    TimeRange{From: repFrom, To: repTo},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalDebitMinor != 40 || sum.TotalCreditMinor != 510 {
		t.Fatalf("bad totals %+v", sum)
	}
	if sum.UsageDebitMinor != 30 {
		t.Fatalf("rollback must cancel usage spend, got %d", sum.UsageDebitMinor)
	}
	if sum.ByOperation[string(rates.OpChatCompletion)] != 30 {
		t.Fatalf("bad chat_completion spend %d", sum.ByOperation[string(rates.OpChatCompletion)])
	}
	if sum.ByOperation[string(rates.OpKBRead)] != 0 {
		t.Fatalf("rolled-back kb_read should net to zero, got %d", sum.ByOperation[string(rates.OpKBRead)])
	}
	if sum.AdminAdjustMinor != 500 {
		t.Fatalf("bad admin adjustments %d", sum.AdminAdjustMinor)
	}
}

func TestOutcomeSummary_ClassifiesPhases(t *testing.T) {
	repo := &MemoryRepo{Conversations: []convo.Conversation{
		{TenantID: "tn", State: convo.DialogueState{Phase: convo.PhaseCompleted}, UpdatedAt: repAt},
		{TenantID: "tn", State: convo.DialogueState{Phase: convo.PhaseCompleted}, UpdatedAt: repAt},
		{TenantID: "tn", State: convo.DialogueState{Phase: convo.PhaseEscalated}, UpdatedAt: repAt},
		{TenantID: "tn", State: convo.DialogueState{Phase: convo.PhaseCollectingAppointment}, UpdatedAt: repAt},
		{TenantID: "tn", State: convo.DialogueState{Phase: convo.PhaseIdle}, UpdatedAt: repAt},
	}}
	svc := NewService(repo)

	sum, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{
		TenantID: "tn",
		Range:    TimeRange{From: repFrom, To: repTo},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalConversations != 5 || sum.Booked != 2 || sum.Escalated != 1 || sum.InProgress != 1 || sum.Abandoned != 1 {
		t.Fatalf("bad outcome summary %+v", sum)
	}
	if sum.BookingRate != 0.4 {
		t.Fatalf("bad booking rate %f", sum.BookingRate)
	}
}

func TestSummaries_RejectInvalidRequests(t *testing.T) {
	svc := NewService(&MemoryRepo{})

	if _, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{Range: TimeRange{From: repFrom, To: repTo}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing tenant, got %v", err)
	}
	if _, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{TenantID: "tn", Range: TimeRange{From: repTo, To: repFrom}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}
}
