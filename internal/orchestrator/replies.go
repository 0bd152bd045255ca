package orchestrator

import (
	"fmt"
	"strings"

	"agent-platform/internal/convo"
)

// Canned reply construction. Replies are deterministic so tests can assert on
// them; the interpreter's free-text message is used only for general
// enquiries.

const (
	replyBillingExhausted = "Your account balance is exhausted. Please top up to continue this conversation."
	replyAccountLocked    = "This account is currently suspended. Please contact support."
	replyEscalated        = "I've passed this conversation to a member of our team. Someone will be with you shortly."
	replyApology          = "I'm sorry, something went wrong on our side while handling that. Nothing was booked and you were not charged for the failed step. Please try again."
	replyClarify          = "Sorry, I didn't quite catch that. Could you rephrase?"
)

var slotPrompts = map[string]string{
	"name":  "your name",
	"email": "your email address",
	"phone": "a phone number",
	"date":  "a date (YYYY-MM-DD)",
	"time":  "a time (HH:MM)",
}

func promptForMissing(missing []string) string {
	if len(missing) == 0 {
		return replyClarify
	}
	parts := make([]string, len(missing))
	for i, m := range missing {
		parts[i] = slotPrompts[m]
	}
	return "To book your appointment I still need " + joinNatural(parts) + "."
}

func promptForRejected(rejected []convo.FieldError) string {
	parts := make([]string, len(rejected))
	for i, fe := range rejected {
		parts[i] = fmt.Sprintf("the %s (%s)", fe.Field, fe.Reason)
	}
	return "There was a problem with " + joinNatural(parts) + ". Could you give me that again?"
}

func confirmationSummary(s convo.Slots) string {
	return fmt.Sprintf(
		"Let me confirm: %s, %s on %s, reachable at %s / %s. Shall I book it?",
		s.Name, s.Time, s.Date, s.Email, s.Phone,
	)
}

func bookedReply(s convo.Slots) string {
	return fmt.Sprintf("All set! Your appointment is booked for %s at %s. A confirmation goes to %s.", s.Date, s.Time, s.Email)
}

func joinNatural(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
