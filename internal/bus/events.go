package bus

// Payload types for the declared topics. Kept as plain values so every
// package can publish without importing the consumers.

// UsageCharge asks billing to debit one metered unit of work.
// IdempotencyKey is conversation id + turn seq + operation (+ attempt for
// retried interpreter calls), so redelivery never double-debits.
type UsageCharge struct {
	Operation      string `json:"operation"`
	Quantity       int64  `json:"quantity"`
	ConversationID string `json:"conversation_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description,omitempty"`
}

// UsageRollback reverses a prior charge by its idempotency key.
type UsageRollback struct {
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason,omitempty"`
}

// ConversationEscalated fires after a ticket was opened for a conversation.
type ConversationEscalated struct {
	ConversationID string `json:"conversation_id"`
	TicketID       string `json:"ticket_id"`
	Reason         string `json:"reason,omitempty"`
}

// AppointmentBooked fires after a calendar commit succeeded.
type AppointmentBooked struct {
	ConversationID string `json:"conversation_id"`
	AppointmentID  string `json:"appointment_id"`
}

// NotificationSend asks the notification sink to deliver a message.
type NotificationSend struct {
	Code    string `json:"code"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Ref     string `json:"ref,omitempty"`
}
