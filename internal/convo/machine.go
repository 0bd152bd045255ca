package convo

import "time"

// The slot-filling state machine.
//
// Apply is pure: given the current state and one interpreted event it returns
// the next state plus what the orchestrator must do about it. External work
// (booking, ticketing) is not performed here; Apply signals it via Effect and
// the orchestrator finalizes with CompleteBooking / Escalate once the work
// succeeded.

// EventKind is the machine-level view of an interpreted intent.
type EventKind string

const (
	EvStartBooking EventKind = "start_booking"
	EvSetFields    EventKind = "set_fields"
	EvConfirm      EventKind = "confirm"
	EvEdit         EventKind = "edit"
	EvEscalate     EventKind = "escalate"
	EvGeneral      EventKind = "general"
)

// Fields carries slot values extracted from one turn. Nil = not mentioned;
// a nil field never clears an already-collected slot.
type Fields struct {
	Email *string
	Name  *string
	Phone *string
	Date  *string
	Time  *string
}

func (f Fields) empty() bool {
	return f.Email == nil && f.Name == nil && f.Phone == nil && f.Date == nil && f.Time == nil
}

type Event struct {
	Kind   EventKind
	Fields Fields
}

// Effect tells the orchestrator what external work this transition requires.
type Effect string

const (
	EffectNone              Effect = ""
	EffectCommitAppointment Effect = "commit_appointment"
	EffectOpenTicket        Effect = "open_ticket"
)

// Transition is the full result of applying one event.
type Transition struct {
	State DialogueState

	// Applied lists slot names that changed this turn.
	Applied []string
	// Rejected lists provided values that failed validation. Prior slots
	// are never mutated by a rejected value.
	Rejected []FieldError

	Effect Effect
}

// Apply advances the state machine by one interpreted event.
func Apply(st DialogueState, ev Event, now time.Time) Transition {
	switch ev.Kind {
	case EvEscalate:
		// Escalation is honored from any non-terminal phase.
		if st.Phase.Terminal() {
			return Transition{State: st}
		}
		return Transition{State: st, Effect: EffectOpenTicket}

	case EvStartBooking:
		// A fresh goal after a terminal phase starts over.
		if st.Phase.Terminal() || st.Phase == PhaseIdle {
			st = DialogueState{Phase: PhaseCollectingAppointment}
		}
		return applyFields(st, ev.Fields, now)

	case EvSetFields:
		if st.Phase != PhaseCollectingAppointment && st.Phase != PhaseAwaitingConfirmation {
			// Field values without an open booking goal are ignored.
			return Transition{State: st}
		}
		return applyFields(st, ev.Fields, now)

	case EvConfirm:
		if st.Phase != PhaseAwaitingConfirmation {
			return Transition{State: st}
		}
		// The collected pair may have gone stale while the confirmation sat
		// open. A past instant must never reach the calendar: drop the pair
		// and re-collect instead of committing.
		if err := validateSchedulable(st.Slots.Date, st.Slots.Time, now); err != nil {
			st.Slots.Date, st.Slots.Time = "", ""
			st.Phase = PhaseCollectingAppointment
			return Transition{
				State: st,
				Rejected: []FieldError{
					{Field: "date", Reason: err.Error()},
					{Field: "time", Reason: err.Error()},
				},
			}
		}
		return Transition{State: st, Effect: EffectCommitAppointment}

	case EvEdit:
		if st.Phase != PhaseAwaitingConfirmation {
			return Transition{State: st}
		}
		st.Phase = PhaseCollectingAppointment
		tr := applyFields(st, ev.Fields, now)
		return tr

	default:
		return Transition{State: st}
	}
}

/// applyFields merges the turn's validated fields into the slots atomically:
// every valid value lands in one transition, every invalid value is reported
// and leaves prior slots untouched.
func applyFields(st DialogueState, f Fields, now time.Time) Transition {
	tr := Transition{State: st}
	next := st.Slots
	accept := func(field string, set func()) {
		set()
		tr.Applied = append(tr.Applied, field)
	}
	reject := func(field string, err error) {
		tr.Rejected = append(tr.Rejected, FieldError{Field: field, Reason: err.Error()})
	}

	if f.Email != nil {
		if err := validateEmail(*f.Email); err != nil {
			reject("email", err)
		} else {
			accept("email", func() { next.Email = *f.Email })
		}
	}
	if f.Name != nil {
		if err := validateNonEmpty(*f.Name); err != nil {
			reject("name", err)
		} else {
			accept("name", func() { next.Name = *f.Name })
		}
	}
	if f.Phone != nil {
		if err := validateNonEmpty(*f.Phone); err != nil {
			reject("phone", err)
		} else {
			accept("phone", func() { next.Phone = *f.Phone })
		}
	}
	if f.Date != nil {
		if err := validateDate(*f.Date); err != nil {
			reject("date", err)
		} else {
			accept("date", func() { next.Date = *f.Date })
		}
	}
	if f.Time != nil {
		if err := validateTime(*f.Time); err != nil {
			reject("time", err)
		} else {
			accept("time", func() { next.Time = *f.Time })
		}
	}

	// The combined instant is checked once both halves are known. A past
	// instant rejects whichever half arrived this turn.
	reverted := map[string]bool{}
	if err := validateSchedulable(next.Date, next.Time, now); err != nil {
		kept := 0
		for _, field := range tr.Applied {
			switch field {
			case "date":
				next.Date = st.Slots.Date
				reverted["date"] = true
				tr.Rejected = append(tr.Rejected, FieldError{Field: "date", Reason: err.Error()})
			case "time":
				next.Time = st.Slots.Time
				reverted["time"] = true
				tr.Rejected = append(tr.Rejected, FieldError{Field: "time", Reason: err.Error()})
			default:
				tr.Applied[kept] = field
				kept++
			}
		}
		tr.Applied = tr.Applied[:kept]
	}

	// A pair collected on an earlier turn can go stale between turns. If the
	// surviving pair is in the past, drop it entirely so settlePhase can
	// never open the confirmation gate on a past instant.
	if err := validateSchedulable(next.Date, next.Time, now); err != nil {
		if next.Date != "" {
			next.Date = ""
			if !reverted["date"] {
				tr.Rejected = append(tr.Rejected, FieldError{Field: "date", Reason: err.Error()})
			}
		}
		if next.Time != "" {
			next.Time = ""
			if !reverted["time"] {
				tr.Rejected = append(tr.Rejected, FieldError{Field: "time", Reason: err.Error()})
			}
		}
	}

	tr.State.Slots = next
	tr.State = settlePhase(tr.State)
	return tr
}

// settlePhase moves collecting -> awaiting_confirmation iff all five slots
// are set, and falls back the other way if an edit left a gap.
func settlePhase(st DialogueState) DialogueState {
	switch st.Phase {
	case PhaseCollectingAppointment:
		if st.Slots.Complete() {
			st.Phase = PhaseAwaitingConfirmation
		}
	case PhaseAwaitingConfirmation:
		if !st.Slots.Complete() {
			st.Phase = PhaseCollectingAppointment
		}
	}
	return st
}

// CompleteBooking finalizes a confirmed booking after the calendar commit
// succeeded.
func CompleteBooking(st DialogueState, appointmentID string) DialogueState {
	return DialogueState{Phase: PhaseCompleted, Slots: st.Slots, AppointmentID: appointmentID}
}

// Escalate finalizes an escalation after the ticket was opened.
func Escalate(st DialogueState, ticketID string) DialogueState {
	return DialogueState{Phase: PhaseEscalated, Slots: st.Slots, TicketID: ticketID}
}
