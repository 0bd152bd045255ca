package intent

import (
	"errors"

	"agent-platform/internal/convo"
)

// Intent is one of the closed set of actions the interpreter may emit.
// The set is mode-dependent: training conversations teach the agent the
// booking flow slot by slot, live conversations add the read-only
// booking-enquiry path.
type Intent string

const (
	IntentBookAppointment      Intent = "BOOK_APPOINTMENT"
	IntentSetAppointmentFields Intent = "SET_APPOINTMENT_FIELDS"
	IntentConfirmAppointment   Intent = "CONFIRM_APPOINTMENT"
	IntentEditAppointment      Intent = "EDIT_APPOINTMENT"
	IntentGeneralEnquiry       Intent = "GENERAL_ENQUIRY"
	IntentEscalateChat         Intent = "ESCALATE_CHAT"

	// Live mode only.
	IntentBookingEnquiry Intent = "BOOKING_ENQUIRY"
)

// IntentsFor returns the closed intent set for a dialogue mode.
func IntentsFor(mode convo.Mode) []Intent {
	base := []Intent{
		IntentBookAppointment,
		IntentSetAppointmentFields,
		IntentConfirmAppointment,
		IntentEditAppointment,
		IntentGeneralEnquiry,
		IntentEscalateChat,
	}
	if mode == convo.ModeLive {
		return append(base, IntentBookingEnquiry)
	}
	return base
}

func allowedFor(mode convo.Mode, in Intent) bool {
	for _, a := range IntentsFor(mode) {
		if a == in {
			return true
		}
	}
	return false
}

// Params carries slot values extracted from the user's turn. Nil means the
// field was not mentioned; nil never overwrites a collected slot.
type Params struct {
	Email *string `json:"email"`
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
	Date  *string `json:"date"`
	Time  *string `json:"time"`
}

// Fields converts the extracted params into machine input.
func (p Params) Fields() convo.Fields {
	return convo.Fields{Email: p.Email, Name: p.Name, Phone: p.Phone, Date: p.Date, Time: p.Time}
}

// Result is one interpreter verdict. Ephemeral: consumed immediately by the
// orchestrator, never persisted.
type Result struct {
	Intent  Intent `json:"intent"`
	Params  Params `json:"parameters"`
	Message string `json:"message"`
}

// ErrMalformedOutput marks a structured-output response that failed strict
// validation (unknown fields, unknown or missing intent). It counts as an
// interpreter failure.
var ErrMalformedOutput = errors.New("malformed interpreter output")
