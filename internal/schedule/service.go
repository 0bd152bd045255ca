package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agent-platform/internal/bus"
	"agent-platform/internal/convo"

	"github.com/google/uuid"
)

// Publisher is the slice of the event bus the workflow needs.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, tenantID string, payload any) error
}

var ErrInvalidTransition = errors.New("schedule: invalid ticket transition")

// Service runs the appointment and escalation workflows.
//
// The workflow never touches the ledger: charge and rollback stay with the
// orchestrator so the money invariants live in one place.
type Service struct {
	cal     CalendarProvider
	appts   AppointmentRepo
	tickets TicketRepo
	pub     Publisher
	log     *slog.Logger
	clock   func() time.Time
}

func NewService(cal CalendarProvider, appts AppointmentRepo, tickets TicketRepo, pub Publisher, log *slog.Logger) *Service {
	return &Service{cal: cal, appts: appts, tickets: tickets, pub: pub, log: log, clock: time.Now}
}

// CommitAppointment books the confirmed slot set with the calendar provider.
// The pending row is written before the provider call so a crash mid-commit
// leaves an auditable trace; any provider failure marks it failed and
// surfaces the error for rollback handling upstream.
func (s *Service) CommitAppointment(ctx context.Context, tenantID, convID string, slots convo.Slots) (Appointment, error) {
	if !slots.Complete() {
		return Appointment{}, fmt.Errorf("schedule: incomplete slots: missing %v", slots.Missing())
	}

	now := s.clock().UTC()
	a := Appointment{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: convID,
		Slots:          slots,
		Status:         AppointmentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.appts.Save(ctx, a); err != nil {
		return Appointment{}, err
	}

	providerID, err := s.cal.CreateAppointment(ctx, tenantID, slots)
	if err != nil {
		a.Status = AppointmentFailed
		a.UpdatedAt = s.clock().UTC()
		if saveErr := s.appts.Save(ctx, a); saveErr != nil {
			s.log.Error("mark appointment failed", "appointment_id", a.ID, "error", saveErr)
		}
		return a, err
	}

	a.ProviderID = providerID
	a.Status = AppointmentConfirmed
	a.UpdatedAt = s.clock().UTC()
	if err := s.appts.Save(ctx, a); err != nil {
		return Appointment{}, err
	}

	// Side effect, fire-and-forget; booking itself is not separately billed.
	if err := s.pub.Publish(ctx, bus.TopicAppointmentBooked, tenantID, bus.AppointmentBooked{
		ConversationID: convID,
		AppointmentID:  a.ID,
	}); err != nil {
		s.log.Warn("publish appointment.booked", "appointment_id", a.ID, "error", err)
	}

	return a, nil
}

// OpenTicket escalates a conversation to a human. Ticket creation also asks
// the notification sink to alert the tenant's agents; the notification is not
// billed.
func (s *Service) OpenTicket(ctx context.Context, tenantID, convID, reason string) (Ticket, error) {
	now := s.clock().UTC()
	tk := Ticket{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: convID,
		Reason:         reason,
		Status:         TicketOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tickets.Save(ctx, tk); err != nil {
		return Ticket{}, err
	}

	if err := s.pub.Publish(ctx, bus.TopicConversationEscalated, tenantID, bus.ConversationEscalated{
		ConversationID: convID,
		TicketID:       tk.ID,
		Reason:         reason,
	}); err != nil {
		s.log.Warn("publish conversation.escalated", "ticket_id", tk.ID, "error", err)
	}
	if err := s.pub.Publish(ctx, bus.TopicNotificationSend, tenantID, bus.NotificationSend{
		Code:    "escalation.opened",
		Subject: "Conversation escalated",
		Body:    reason,
		Ref:     tk.ID,
	}); err != nil {
		s.log.Warn("publish notification.send", "ticket_id", tk.ID, "error", err)
	}

	return tk, nil
}

// TransitionTicket advances a ticket along its lifecycle.
func (s *Service) TransitionTicket(ctx context.Context, tenantID, ticketID string, to TicketStatus) (Ticket, error) {
	tk, err := s.tickets.Get(ctx, tenantID, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if !canTransition(tk.Status, to) {
		return Ticket{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tk.Status, to)
	}
	tk.Status = to
	tk.UpdatedAt = s.clock().UTC()
	if err := s.tickets.Save(ctx, tk); err != nil {
		return Ticket{}, err
	}
	return tk, nil
}

func (s *Service) GetAppointment(ctx context.Context, tenantID, id string) (Appointment, error) {
	return s.appts.Get(ctx, tenantID, id)
}

func (s *Service) ListAppointments(ctx context.Context, tenantID string) ([]Appointment, error) {
	return s.appts.ListByTenant(ctx, tenantID)
}

func (s *Service) ListTickets(ctx context.Context, tenantID string) ([]Ticket, error) {
	return s.tickets.ListByTenant(ctx, tenantID)
}
