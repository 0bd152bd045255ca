package reporting

import (
	"context"
	"errors"
	"time"

	"agent-platform/internal/convo"
	"agent-platform/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce tenant filtering.
// - Implementations should query immutable sources when possible (wallet
//   ledger, conversation states).

type Repository interface {
	ListWalletLedger(ctx context.Context, tenantID string, from, to time.Time) ([]wallet.Entry, error)
	ListConversations(ctx context.Context, tenantID string, from, to time.Time) ([]convo.Conversation, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.TenantID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	entries, err := s.repo.ListWalletLedger(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{TenantID: req.TenantID, Currency: req.Currency, ByOperation: map[string]int64{}}
	for _, e := range entries {
		if out.Currency == "" {
			out.Currency = e.Currency
		}
		if req.Currency != "" && e.Currency != req.Currency {
			continue
		}

		if e.AmountMinor > 0 {
			out.TotalCreditMinor += e.AmountMinor
		} else {
			out.TotalDebitMinor += -e.AmountMinor
		}

		switch e.Category {
		case wallet.CategoryUsageCharge:
			out.UsageDebitMinor += -e.AmountMinor
			out.ByOperation[string(e.Operation)] += -e.AmountMinor
		case wallet.CategoryTopUp, wallet.CategoryManualRollback, wallet.CategoryDisputeResolution:
			out.AdminAdjustMinor += e.AmountMinor
		case wallet.CategoryRollback:
			// Compensating credits cancel usage spend.
			out.UsageDebitMinor -= e.AmountMinor
			out.ByOperation[string(e.Operation)] -= e.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}

func (s *Service) OutcomeSummary(ctx context.Context, req OutcomeSummaryRequest) (OutcomeSummary, error) {
	if req.TenantID == "" {
		return OutcomeSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return OutcomeSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return OutcomeSummary{}, errors.New("reporting: repository not configured")
	}

	convs, err := s.repo.ListConversations(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return OutcomeSummary{}, err
	}

	out := OutcomeSummary{TenantID: req.TenantID}
	for _, c := range convs {
		out.TotalConversations++
		switch c.State.Phase {
		case convo.PhaseCompleted:
			out.Booked++
		case convo.PhaseEscalated:
			out.Escalated++
		case convo.PhaseCollectingAppointment, convo.PhaseAwaitingConfirmation:
			out.InProgress++
		case convo.PhaseIdle:
			out.Abandoned++
		}
	}
	if out.TotalConversations > 0 {
		out.BookingRate = float64(out.Booked) / float64(out.TotalConversations)
	}
	return out, nil
}
