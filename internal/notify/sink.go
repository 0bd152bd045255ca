package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"agent-platform/internal/bus"
)

// Sink delivers one notification to the tenant's agents.
type Sink interface {
	Send(ctx context.Context, tenantID string, n bus.NotificationSend) error
	Close() error
}

// Register binds the sink to the notification.send topic. Delivery is
// asynchronous and retried by the bus; notifications are never billed.
func Register(b *bus.Bus, sink Sink, log *slog.Logger) {
	b.Subscribe(bus.TopicNotificationSend, func(ctx context.Context, ev bus.Event) error {
		n, ok := ev.Payload.(bus.NotificationSend)
		if !ok {
			return fmt.Errorf("notify: unexpected payload %T on %s", ev.Payload, ev.Topic)
		}
		if err := sink.Send(ctx, ev.TenantID, n); err != nil {
			return err
		}
		log.Info("notification sent", "tenant_id", ev.TenantID, "code", n.Code, "ref", n.Ref)
		return nil
	})
}

// MemorySink records notifications for tests and local development.
type MemorySink struct {
	mu   sync.Mutex
	sent []Sent
}

type Sent struct {
	TenantID string
	Note     bus.NotificationSend
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Send(ctx context.Context, tenantID string, n bus.NotificationSend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Sent{TenantID: tenantID, Note: n})
	return nil
}

func (s *MemorySink) Close() error { return nil }

func (s *MemorySink) All() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}
