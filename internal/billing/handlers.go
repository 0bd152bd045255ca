package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agent-platform/internal/bus"
	"agent-platform/internal/rates"
	"agent-platform/internal/wallet"
)

// WalletService is the slice of the wallet the billing handlers need.
type WalletService interface {
	Charge(ctx context.Context, tenantID string, req wallet.ChargeRequest) (wallet.Entry, wallet.Balance, error)
	Rollback(ctx context.Context, tenantID, originalKey string) (wallet.Entry, wallet.Balance, error)
}

// Register binds the usage topics to the wallet. Both topics are synchronous:
// the publisher sees wallet errors (insufficient funds, locked) inline and
// gates its own behavior on them.
func Register(b *bus.Bus, svc WalletService, log *slog.Logger) {
	b.Subscribe(bus.TopicUsageCharge, chargeHandler(svc))
	b.Subscribe(bus.TopicUsageRollback, rollbackHandler(svc, log))
}

func chargeHandler(svc WalletService) bus.Handler {
	return func(ctx context.Context, ev bus.Event) error {
		p, ok := ev.Payload.(bus.UsageCharge)
		if !ok {
			return fmt.Errorf("billing: unexpected payload %T on %s", ev.Payload, ev.Topic)
		}
		_, _, err := svc.Charge(ctx, ev.TenantID, wallet.ChargeRequest{
			Operation:      rates.Operation(p.Operation),
			Quantity:       p.Quantity,
			ConversationID: p.ConversationID,
			IdempotencyKey: p.IdempotencyKey,
			Description:    p.Description,
		})
		return err
	}
}

func rollbackHandler(svc WalletService, log *slog.Logger) bus.Handler {
	return func(ctx context.Context, ev bus.Event) error {
		p, ok := ev.Payload.(bus.UsageRollback)
		if !ok {
			return fmt.Errorf("billing: unexpected payload %T on %s", ev.Payload, ev.Topic)
		}
		_, _, err := svc.Rollback(ctx, ev.TenantID, p.IdempotencyKey)
		if errors.Is(err, wallet.ErrAlreadyRolledBack) {
			// Redelivered rollbacks are no-ops, not failures.
			log.Info("rollback already applied", "tenant_id", ev.TenantID, "key", p.IdempotencyKey)
			return nil
		}
		return err
	}
}
