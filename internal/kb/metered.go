package kb

import (
	"context"
	"log/slog"

	"agent-platform/internal/bus"
	"agent-platform/internal/rates"
)

// Publisher is the slice of the event bus the metered wrapper needs.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, tenantID string, payload any) error
}

// Metered wraps a Store with usage charging: every read and write is one
// metered unit, charged before the store call and rolled back if the store
// fails. Charge failures abort the operation before the store is touched.
type Metered struct {
	store Store
	pub   Publisher
	log   *slog.Logger
}

func NewMetered(store Store, pub Publisher, log *slog.Logger) *Metered {
	return &Metered{store: store, pub: pub, log: log}
}

func (m *Metered) Read(ctx context.Context, tenantID, convID, tag, query, idemKey string) ([]Chunk, error) {
	if err := m.charge(ctx, tenantID, convID, rates.OpKBRead, idemKey); err != nil {
		return nil, err
	}
	chunks, err := m.store.Read(ctx, tenantID, tag, query)
	if err != nil {
		m.rollback(ctx, tenantID, idemKey, "kb read failed")
		return nil, err
	}
	return chunks, nil
}

func (m *Metered) Write(ctx context.Context, tenantID, convID, tag string, chunks []Chunk, idemKey string) error {
	if err := m.charge(ctx, tenantID, convID, rates.OpKBWrite, idemKey); err != nil {
		return err
	}
	if err := m.store.Write(ctx, tenantID, tag, chunks); err != nil {
		m.rollback(ctx, tenantID, idemKey, "kb write failed")
		return err
	}
	return nil
}

func (m *Metered) charge(ctx context.Context, tenantID, convID string, op rates.Operation, idemKey string) error {
	return m.pub.Publish(ctx, bus.TopicUsageCharge, tenantID, bus.UsageCharge{
		Operation:      string(op),
		Quantity:       1,
		ConversationID: convID,
		IdempotencyKey: idemKey,
	})
}

func (m *Metered) rollback(ctx context.Context, tenantID, idemKey, reason string) {
	if err := m.pub.Publish(ctx, bus.TopicUsageRollback, tenantID, bus.UsageRollback{
		IdempotencyKey: idemKey,
		Reason:         reason,
	}); err != nil {
		// A charge must never stay stranded silently.
		m.log.Error("kb rollback failed", "tenant_id", tenantID, "key", idemKey, "error", err)
	}
}
