package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"agent-platform/internal/bus"
	"agent-platform/internal/convo"
)

type fakeCalendar struct {
	providerID string
	err        error
	calls      int
}

func (f *fakeCalendar) Name() string { return "fake" }

func (f *fakeCalendar) CreateAppointment(ctx context.Context, tenantID string, slots convo.Slots) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.providerID, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []struct {
		Topic   bus.Topic
		Payload any
	}
}

func (p *capturingPublisher) Publish(ctx context.Context, topic bus.Topic, tenantID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, struct {
		Topic   bus.Topic
		Payload any
	}{topic, payload})
	return nil
}

func (p *capturingPublisher) topics() []bus.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.Topic
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

func completeSlots() convo.Slots {
	return convo.Slots{Email: "a@b.co", Name: "Ada", Phone: "+49155", Date: "2026-04-01", Time: "10:30"}
}

func newScheduleService(cal *fakeCalendar, pub Publisher) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(cal, NewMemoryAppointmentRepo(), NewMemoryTicketRepo(), pub, log)
}

func TestCommitAppointment_ConfirmsAndPublishes(t *testing.T) {
	cal := &fakeCalendar{providerID: "ext-42"}
	pub := &capturingPublisher{}
	svc := newScheduleService(cal, pub)
	ctx := context.Background()

	a, err := svc.CommitAppointment(ctx, "tn", "conv-1", completeSlots())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if a.Status != AppointmentConfirmed || a.ProviderID != "ext-42" {
		t.Fatalf("bad appointment %+v", a)
	}
	if a.ConversationID != "conv-1" {
		t.Fatalf("missing conversation back-reference")
	}

	got, err := svc.GetAppointment(ctx, "tn", a.ID)
	if err != nil || got.Status != AppointmentConfirmed {
		t.Fatalf("persisted appointment wrong: %+v %v", got, err)
	}

	topics := pub.topics()
	if len(topics) != 1 || topics[0] != bus.TopicAppointmentBooked {
		t.Fatalf("expected one appointment.booked publish, got %v", topics)
	}
}

func TestCommitAppointment_ProviderFailureMarksFailed(t *testing.T) {
	provErr := &ProviderError{Provider: "fake", Code: "busy", Message: "slot taken"}
	cal := &fakeCalendar{err: provErr}
	pub := &capturingPublisher{}
	svc := newScheduleService(cal, pub)
	ctx := context.Background()

	a, err := svc.CommitAppointment(ctx, "tn", "conv-1", completeSlots())
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if a.Status != AppointmentFailed {
		t.Fatalf("expected failed status, got %s", a.Status)
	}

	// The failed row survives for audit; nothing was published.
	got, err := svc.GetAppointment(ctx, "tn", a.ID)
	if err != nil || got.Status != AppointmentFailed {
		t.Fatalf("failed appointment not persisted: %+v %v", got, err)
	}
	if len(pub.topics()) != 0 {
		t.Fatalf("failed commit must not publish, got %v", pub.topics())
	}
}

func TestCommitAppointment_RejectsIncompleteSlots(t *testing.T) {
	cal := &fakeCalendar{providerID: "x"}
	svc := newScheduleService(cal, &capturingPublisher{})

	s := completeSlots()
	s.Phone = ""
	if _, err := svc.CommitAppointment(context.Background(), "tn", "conv-1", s); err == nil {
		t.Fatalf("expected rejection for incomplete slots")
	}
	if cal.calls != 0 {
		t.Fatalf("provider must not be called with incomplete slots")
	}
}

func TestOpenTicket_PublishesEscalationAndNotification(t *testing.T) {
	pub := &capturingPublisher{}
	svc := newScheduleService(&fakeCalendar{}, pub)
	ctx := context.Background()

	tk, err := svc.OpenTicket(ctx, "tn", "conv-1", "interpreter kept failing")
	if err != nil {
		t.Fatalf("open ticket: %v", err)
	}
	if tk.Status != TicketOpen {
		t.Fatalf("expected open ticket, got %s", tk.Status)
	}

	topics := pub.topics()
	if len(topics) != 2 || topics[0] != bus.TopicConversationEscalated || topics[1] != bus.TopicNotificationSend {
		t.Fatalf("unexpected publishes %v", topics)
	}
}

func TestTransitionTicket_EnforcesLifecycle(t *testing.T) {
	svc := newScheduleService(&fakeCalendar{}, &capturingPublisher{})
	ctx := context.Background()

	tk, _ := svc.OpenTicket(ctx, "tn", "conv-1", "r")

	if _, err := svc.TransitionTicket(ctx, "tn", tk.ID, TicketResolved); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("open -> resolved must be rejected, got %v", err)
	}

	tk2, err := svc.TransitionTicket(ctx, "tn", tk.ID, TicketAcknowledged)
	if err != nil || tk2.Status != TicketAcknowledged {
		t.Fatalf("ack failed: %+v %v", tk2, err)
	}
	tk3, err := svc.TransitionTicket(ctx, "tn", tk.ID, TicketResolved)
	if err != nil || tk3.Status != TicketResolved {
		t.Fatalf("resolve failed: %+v %v", tk3, err)
	}
	if _, err := svc.TransitionTicket(ctx, "tn", tk.ID, TicketClosed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resolved is terminal, got %v", err)
	}
}
