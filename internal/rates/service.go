package rates

import (
	"context"
	"errors"
	"time"
)

// Service resolves tenant-scoped unit rates and computes charge totals.
//
// Contract:
// - Pure calculation + repository lookups; no ledger access.
// - A rate is resolved once per quote and stays fixed for that quote; callers
//   must not re-resolve mid-charge.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// RateRepository abstracts rate persistence.
// Implementation can be a settings source, cached, etc.
type RateRepository interface {
	FindRate(ctx context.Context, tenantID string, op Operation, at time.Time) (OperationRate, bool, error)
}

// Quote is the fixed price computed for one charge.
type Quote struct {
	TenantID  string    `json:"tenant_id"`
	Operation Operation `json:"operation"`
	Quantity  int64     `json:"quantity"`

	Currency       string `json:"currency"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	MarkupPercent  int    `json:"markup_percent"`
	TotalMinor     int64  `json:"total_minor"`
}

var (
	ErrRateNotFound   = errors.New("rates: rate not found")
	ErrInvalidRateReq = errors.New("rates: invalid request")
)

// QuoteCharge computes the total for quantity units of op at the rate
// effective at the given instant. A zero `at` uses the service clock.
func (s *Service) QuoteCharge(ctx context.Context, tenantID string, op Operation, quantity int64, at time.Time) (Quote, error) {
	if tenantID == "" {
		return Quote{}, ErrInvalidRateReq
	}
	if !op.Valid() {
		return Quote{}, ErrInvalidRateReq
	}
	if quantity <= 0 {
		return Quote{}, ErrInvalidRateReq
	}

	if at.IsZero() {
		at = s.clock().UTC()
	}

	r, ok, err := s.repo.FindRate(ctx, tenantID, op, at)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, ErrRateNotFound
	}

	total := applyMarkup(r.UnitPriceMinor*quantity, r.MarkupPercent)

	return Quote{
		TenantID:       tenantID,
		Operation:      op,
		Quantity:       quantity,
		Currency:       r.Currency,
		UnitPriceMinor: r.UnitPriceMinor,
		MarkupPercent:  r.MarkupPercent,
		TotalMinor:     total,
	}, nil
}

// applyMarkup adds percent on top of base, rounding up so fractional minor
// units are never given away.
func applyMarkup(baseMinor int64, percent int) int64 {
	if baseMinor <= 0 {
		return 0
	}
	if percent <= 0 {
		return baseMinor
	}
	extra := baseMinor * int64(percent)
	q := extra / 100
	if extra%100 != 0 {
		q++
	}
	return baseMinor + q
}
