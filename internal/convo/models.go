package convo

import "time"

// Conversation is a tenant-scoped dialogue with one agent.
//
// Multi-tenant invariant: TenantID is required on every row.
//
// Messages are append-only and immutable once appended; the conversation row
// itself is never deleted. State is mutated exclusively by the orchestrator,
// one turn at a time.
type Conversation struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Mode Mode `json:"mode" db:"mode"`

	State DialogueState `json:"state" db:"state"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Mode string

const (
	ModeTraining Mode = "training"
	ModeLive     Mode = "live"
)

func (m Mode) Valid() bool {
	return m == ModeTraining || m == ModeLive
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
)

// Message is one immutable entry in a conversation transcript.
// Seq is assigned by the repository and is strictly increasing per conversation.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	Role           Role      `json:"role" db:"role"`
	Content        string    `json:"content" db:"content"`
	Seq            int64     `json:"seq" db:"seq"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Phase tags the dialogue state variant.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseCollectingAppointment Phase = "collecting_appointment"
	PhaseAwaitingConfirmation  Phase = "awaiting_confirmation"
	PhaseEscalated             Phase = "escalated"
	PhaseCompleted             Phase = "completed"
)

// Terminal reports whether the phase ends the current conversational goal.
func (p Phase) Terminal() bool {
	return p == PhaseEscalated || p == PhaseCompleted
}

// Slots holds the appointment fields collected so far. Empty string = unset.
type Slots struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Date  string `json:"date,omitempty"` // 2006-01-02
	Time  string `json:"time,omitempty"` // 15:04
}

// Complete reports whether all five slots are set.
func (s Slots) Complete() bool {
	return s.Email != "" && s.Name != "" && s.Phone != "" && s.Date != "" && s.Time != ""
}

// Missing lists the unset slot names in a stable order.
func (s Slots) Missing() []string {
	var out []string
	if s.Name == "" {
		out = append(out, "name")
	}
	if s.Email == "" {
		out = append(out, "email")
	}
	if s.Phone == "" {
		out = append(out, "phone")
	}
	if s.Date == "" {
		out = append(out, "date")
	}
	if s.Time == "" {
		out = append(out, "time")
	}
	return out
}

// DialogueState is the tagged state variant for one conversation.
//
// Invariant: Phase == awaiting_confirmation only when Slots.Complete().
// TicketID is set only in escalated, AppointmentID only in completed.
type DialogueState struct {
	Phase Phase `json:"phase"`
	Slots Slots `json:"slots"`

	TicketID      string `json:"ticket_id,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

// NewState returns the initial idle state.
func NewState() DialogueState {
	return DialogueState{Phase: PhaseIdle}
}
