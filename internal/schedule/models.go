package schedule

import (
	"time"

	"agent-platform/internal/convo"
)

// Appointment is a tenant-scoped calendar booking created once a conversation
// confirmed a complete slot set.
//
// Multi-tenant invariant: TenantID is required on every row.
// Lifecycle is soft-state only: pending -> confirmed | failed, never deleted.
// ConversationID is the traceability back-reference.
type Appointment struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// ProviderID is the external calendar's identifier, set on confirm.
	ProviderID string `json:"provider_id,omitempty" db:"provider_id"`

	Slots convo.Slots `json:"slots" db:"slots"`

	Status AppointmentStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentFailed    AppointmentStatus = "failed"
)

// Ticket is a human-escalation record for one conversation.
// Lifecycle: open -> acknowledged -> resolved | closed.
type Ticket struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	ConversationID string `json:"conversation_id" db:"conversation_id"`

	Reason string `json:"reason" db:"reason"`

	Status TicketStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type TicketStatus string

const (
	TicketOpen         TicketStatus = "open"
	TicketAcknowledged TicketStatus = "acknowledged"
	TicketResolved     TicketStatus = "resolved"
	TicketClosed       TicketStatus = "closed"
)

// canTransition encodes the allowed ticket lifecycle edges.
func canTransition(from, to TicketStatus) bool {
	switch from {
	case TicketOpen:
		return to == TicketAcknowledged || to == TicketClosed
	case TicketAcknowledged:
		return to == TicketResolved || to == TicketClosed
	default:
		return false
	}
}
