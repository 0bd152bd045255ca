package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// In-process event bus with statically declared topics.
//
// Sync topics (billing) deliver inline in registration order and return the
// first handler error to the publisher: the caller must observe charge
// results before advancing state. Async topics (side effects) queue onto a
// worker goroutine with bounded retry and backoff; publishing never blocks
// the turn.

type Topic string

const (
	TopicUsageCharge           Topic = "usage.charge"
	TopicUsageRollback         Topic = "usage.rollback"
	TopicConversationEscalated Topic = "conversation.escalated"
	TopicAppointmentBooked     Topic = "appointment.booked"
	TopicNotificationSend      Topic = "notification.send"
)

// syncTopics is the closed set of inline-delivery topics. Everything else is
// asynchronous.
var syncTopics = map[Topic]bool{
	TopicUsageCharge:   true,
	TopicUsageRollback: true,
}

// Sync reports whether the topic delivers inline to its handlers.
func (t Topic) Sync() bool { return syncTopics[t] }

// Event is the envelope every publication carries.
type Event struct {
	ID         string    `json:"id"`
	Topic      Topic     `json:"topic"`
	TenantID   string    `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Handler func(ctx context.Context, ev Event) error

var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrQueueFull    = errors.New("async event queue full")
	ErrClosed       = errors.New("bus closed")
)

type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[Topic][]Handler

	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	retryCount   int
	retryBackoff time.Duration
	clock        func() time.Time
}

func New(log *slog.Logger) *Bus {
	b := &Bus{
		log:          log,
		handlers:     map[Topic][]Handler{},
		queue:        make(chan Event, 256),
		stop:         make(chan struct{}),
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
		clock:        time.Now,
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

// Subscribe binds a handler to a topic. Bindings are declared once at
// startup; handler order is registration order.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers the event. For sync topics the first handler error is
// returned; for async topics the event is queued and Publish only fails when
// the queue is full or the bus is closed.
func (b *Bus) Publish(ctx context.Context, topic Topic, tenantID string, payload any) error {
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		TenantID:   tenantID,
		OccurredAt: b.clock().UTC(),
		Payload:    payload,
	}

	if topic.Sync() {
		b.mu.RLock()
		hs := b.handlers[topic]
		b.mu.RUnlock()
		if len(hs) == 0 {
			return fmt.Errorf("%w: %s has no handler", ErrUnknownTopic, topic)
		}
		for _, h := range hs {
			if err := h(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}

	select {
	case <-b.stop:
		return ErrClosed
	default:
	}
	select {
	case b.queue <- ev:
		return nil
	default:
		b.log.Warn("async event dropped", "topic", topic, "event_id", ev.ID)
		return ErrQueueFull
	}
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.stop:
			// Drain what was queued before the close.
			for {
				select {
				case ev := <-b.queue:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.Topic]
	b.mu.RUnlock()

	ctx := context.Background()
	for _, h := range hs {
		for attempt := 1; attempt <= b.retryCount; attempt++ {
			err := h(ctx, ev)
			if err == nil {
				break
			}
			b.log.Error("async handler failed",
				"topic", ev.Topic, "event_id", ev.ID, "attempt", attempt, "error", err)
			if attempt == b.retryCount {
				break
			}
			select {
			case <-b.stop:
				// Last chance on shutdown, no further backoff.
			case <-time.After(b.retryBackoff):
			}
		}
	}
}

// Close stops accepting async events, drains the queue, and waits for the
// worker to exit.
func (b *Bus) Close() {
	close(b.stop)
	b.wg.Wait()
}
