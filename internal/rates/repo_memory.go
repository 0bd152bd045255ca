package rates

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory rate repository useful for tests and early
// development. It is tenant-scoped and prefers the most recent effective rate.
type MemoryRepo struct {
	Rates []OperationRate
}

func (r *MemoryRepo) FindRate(ctx context.Context, tenantID string, op Operation, at time.Time) (OperationRate, bool, error) {
	_ = ctx

	var best OperationRate
	found := false

	for _, p := range r.Rates {
		if p.TenantID != tenantID {
			continue
		}
		if p.Operation != op {
			continue
		}
		if p.Status != RateStatusActive {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}
