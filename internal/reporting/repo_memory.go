package reporting

import (
	"context"
	"time"

	"agent-platform/internal/convo"
	"agent-platform/internal/wallet"
)

// MemoryRepo serves reporting from in-memory slices; useful for tests.
type MemoryRepo struct {
	Ledger        []wallet.Entry
	Conversations []convo.Conversation
}

func (r *MemoryRepo) ListWalletLedger(ctx context.Context, tenantID string, from, to time.Time) ([]wallet.Entry, error) {
	var out []wallet.Entry
	for _, e := range r.Ledger {
		if e.TenantID != tenantID {
			continue
		}
		if !inRange(e.CreatedAt, from, to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepo) ListConversations(ctx context.Context, tenantID string, from, to time.Time) ([]convo.Conversation, error) {
	var out []convo.Conversation
	for _, c := range r.Conversations {
		if c.TenantID != tenantID {
			continue
		}
		if !inRange(c.UpdatedAt, from, to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func inRange(at, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}
