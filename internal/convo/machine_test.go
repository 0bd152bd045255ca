package convo

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func fullFields() Fields {
	return Fields{
		Email: strp("ada@example.com"),
		Name:  strp("Ada"),
		Phone: strp("+4915551234"),
		Date:  strp("2026-04-01"),
		Time:  strp("10:30"),
	}
}

func TestApply_StartBookingEntersCollecting(t *testing.T) {
	tr := Apply(NewState(), Event{Kind: EvStartBooking}, testNow)
	if tr.State.Phase != PhaseCollectingAppointment {
		t.Fatalf("expected collecting, got %s", tr.State.Phase)
	}
	if tr.Effect != EffectNone {
		t.Fatalf("unexpected effect %q", tr.Effect)
	}
}

func TestApply_MonotonicAccumulation(t *testing.T) {
	st := DialogueState{Phase: PhaseCollectingAppointment, Slots: Slots{Email: "ada@example.com", Name: "Ada"}}

	// A turn that mentions nothing keeps every collected slot.
	tr := Apply(st, Event{Kind: EvSetFields}, testNow)
	if tr.State.Slots != st.Slots {
		t.Fatalf("nil fields must not clear slots: %+v", tr.State.Slots)
	}

	// A new valid value for an already-set slot replaces it.
	tr = Apply(st, Event{Kind: EvSetFields, Fields: Fields{Email: strp("new@example.com")}}, testNow)
	if tr.State.Slots.Email != "new@example.com" {
		t.Fatalf("expected restated email to win, got %q", tr.State.Slots.Email)
	}
	if tr.State.Slots.Name != "Ada" {
		t.Fatalf("unrelated slot mutated: %q", tr.State.Slots.Name)
	}
}

func TestApply_InvalidValueRejectedWithoutMutation(t *testing.T) {
	st := DialogueState{Phase: PhaseCollectingAppointment, Slots: Slots{Email: "ada@example.com"}}

	tr := Apply(st, Event{Kind: EvSetFields, Fields: Fields{Email: strp("not-an-email"), Name: strp("Ada")}}, testNow)
	if tr.State.Slots.Email != "ada@example.com" {
		t.Fatalf("invalid email mutated slot: %q", tr.State.Slots.Email)
	}
	if tr.State.Slots.Name != "Ada" {
		t.Fatalf("valid field in the same turn should still apply, got %q", tr.State.Slots.Name)
	}
	if len(tr.Rejected) != 1 || tr.Rejected[0].Field != "email" {
		t.Fatalf("expected one rejected email field, got %+v", tr.Rejected)
	}
}

func TestApply_PastDateTimeRejected(t *testing.T) {
	st := DialogueState{Phase: PhaseCollectingAppointment, Slots: Slots{Date: "2026-04-01"}}

	// Time completes the pair but the combined instant is in the past.
	tr := Apply(st, Event{Kind: EvSetFields, Fields: Fields{Date: strp("2020-01-01"), Time: strp("09:00")}}, testNow)
	if tr.State.Slots.Date != "2026-04-01" || tr.State.Slots.Time != "" {
		t.Fatalf("past instant mutated slots: %+v", tr.State.Slots)
	}
	if len(tr.Rejected) == 0 {
		t.Fatalf("expected rejections for past date/time")
	}
}

func TestApply_AtomicMultiSlotAndConfirmationGate(t *testing.T) {
	st := DialogueState{Phase: PhaseCollectingAppointment}

	tr := Apply(st, Event{Kind: EvSetFields, Fields: fullFields()}, testNow)
	if len(tr.Applied) != 5 {
		t.Fatalf("expected all five slots applied atomically, got %v", tr.Applied)
	}
	if tr.State.Phase != PhaseAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation with all slots set, got %s", tr.State.Phase)
	}
}

func TestApply_ConfirmationRequiresAllSlots(t *testing.T) {
	st := DialogueState{Phase: PhaseCollectingAppointment}
	f := fullFields()
	f.Phone = nil

	tr := Apply(st, Event{Kind: EvSetFields, Fields: f}, testNow)
	if tr.State.Phase != PhaseCollectingAppointment {
		t.Fatalf("four slots must not reach awaiting_confirmation, got %s", tr.State.Phase)
	}
	if got := tr.State.Slots.Missing(); len(got) != 1 || got[0] != "phone" {
		t.Fatalf("expected phone missing, got %v", got)
	}
}

func TestApply_ConfirmSignalsCommit(t *testing.T) {
	st := Apply(DialogueState{Phase: PhaseCollectingAppointment}, Event{Kind: EvSetFields, Fields: fullFields()}, testNow).State

	tr := Apply(st, Event{Kind: EvConfirm}, testNow)
	if tr.Effect != EffectCommitAppointment {
		t.Fatalf("expected commit effect, got %q", tr.Effect)
	}
	// State is finalized only after the calendar commit succeeds.
	if tr.State.Phase != PhaseAwaitingConfirmation {
		t.Fatalf("confirm must not advance phase before the commit, got %s", tr.State.Phase)
	}

	done := CompleteBooking(tr.State, "apt-1")
	if done.Phase != PhaseCompleted || done.AppointmentID != "apt-1" {
		t.Fatalf("bad completed state: %+v", done)
	}
}

func TestApply_ConfirmOutsideAwaitingIsIgnored(t *testing.T) {
	tr := Apply(NewState(), Event{Kind: EvConfirm}, testNow)
	if tr.Effect != EffectNone || tr.State.Phase != PhaseIdle {
		t.Fatalf("confirm from idle must be a no-op, got %+v", tr)
	}
}

func TestApply_EditReturnsToCollectingWithSlotsIntact(t *testing.T) {
	st := Apply(DialogueState{Phase: PhaseCollectingAppointment}, Event{Kind: EvSetFields, Fields: fullFields()}, testNow).State

	tr := Apply(st, Event{Kind: EvEdit}, testNow)
	if tr.State.Phase != PhaseCollectingAppointment {
		t.Fatalf("expected collecting after edit, got %s", tr.State.Phase)
	}
	if !tr.State.Slots.Complete() {
		t.Fatalf("edit must keep collected slots: %+v", tr.State.Slots)
	}

	// An edit carrying a corrected field lands it and, with all slots
	// still set, settles back into awaiting_confirmation.
	tr = Apply(st, Event{Kind: EvEdit, Fields: Fields{Time: strp("16:00")}}, testNow)
	if tr.State.Slots.Time != "16:00" {
		t.Fatalf("edited time not applied: %q", tr.State.Slots.Time)
	}
	if tr.State.Phase != PhaseAwaitingConfirmation {
		t.Fatalf("complete slots after edit should re-settle, got %s", tr.State.Phase)
	}
}

func TestApply_StaleCollectedPairCannotOpenConfirmationGate(t *testing.T) {
	early := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	// A pair validly collected at 10:00 for 10:30...
	st := Apply(NewState(), Event{Kind: EvStartBooking, Fields: Fields{Date: strp("2026-03-10"), Time: strp("10:30")}}, early).State
	if st.Slots.Date != "2026-03-10" || st.Slots.Time != "10:30" {
		t.Fatalf("setup: pair not collected: %+v", st.Slots)
	}

	// ...has gone stale by the time the remaining slots arrive at 11:00.
	tr := Apply(st, Event{Kind: EvSetFields, Fields: Fields{
		Email: strp("ada@example.com"),
		Name:  strp("Ada"),
		Phone: strp("+4915551234"),
	}}, late)
	if tr.State.Phase != PhaseCollectingAppointment {
		t.Fatalf("stale pair must not open the confirmation gate, got %s", tr.State.Phase)
	}
	if tr.State.Slots.Date != "" || tr.State.Slots.Time != "" {
		t.Fatalf("stale pair must be dropped: %+v", tr.State.Slots)
	}
	if len(tr.Applied) != 3 {
		t.Fatalf("this turn's valid slots should still land, got %v", tr.Applied)
	}
	got := map[string]bool{}
	for _, fe := range tr.Rejected {
		got[fe.Field] = true
	}
	if !got["date"] || !got["time"] {
		t.Fatalf("expected date and time rejections for the stale pair, got %+v", tr.Rejected)
	}
}

func TestApply_ConfirmRechecksInstant(t *testing.T) {
	early := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	f := fullFields()
	f.Date = strp("2026-03-10")
	f.Time = strp("10:30")
	st := Apply(DialogueState{Phase: PhaseCollectingAppointment}, Event{Kind: EvSetFields, Fields: f}, early).State
	if st.Phase != PhaseAwaitingConfirmation {
		t.Fatalf("setup: expected awaiting_confirmation, got %s", st.Phase)
	}

	// The confirmation sat open past the appointment instant.
	tr := Apply(st, Event{Kind: EvConfirm}, late)
	if tr.Effect != EffectNone {
		t.Fatalf("a past instant must never reach the calendar, got effect %q", tr.Effect)
	}
	if tr.State.Phase != PhaseCollectingAppointment {
		t.Fatalf("expected fallback to collecting, got %s", tr.State.Phase)
	}
	if tr.State.Slots.Date != "" || tr.State.Slots.Time != "" {
		t.Fatalf("stale pair must be dropped on confirm: %+v", tr.State.Slots)
	}
	if len(tr.Rejected) != 2 {
		t.Fatalf("expected date and time rejections, got %+v", tr.Rejected)
	}

	// Confirming before the instant passes still commits.
	tr = Apply(st, Event{Kind: EvConfirm}, early)
	if tr.Effect != EffectCommitAppointment {
		t.Fatalf("fresh pair should commit, got %q", tr.Effect)
	}
}

func TestApply_EditWithNoFieldsDropsStalePair(t *testing.T) {
	early := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	f := fullFields()
	f.Date = strp("2026-03-10")
	f.Time = strp("10:30")
	st := Apply(DialogueState{Phase: PhaseCollectingAppointment}, Event{Kind: EvSetFields, Fields: f}, early).State

	tr := Apply(st, Event{Kind: EvEdit}, late)
	if tr.State.Phase != PhaseCollectingAppointment {
		t.Fatalf("stale pair must not settle back into awaiting_confirmation, got %s", tr.State.Phase)
	}
	if tr.State.Slots.Date != "" || tr.State.Slots.Time != "" {
		t.Fatalf("stale pair must be dropped on edit: %+v", tr.State.Slots)
	}
}

func TestApply_EscalateFromAnyNonTerminalPhase(t *testing.T) {
	for _, phase := range []Phase{PhaseIdle, PhaseCollectingAppointment, PhaseAwaitingConfirmation} {
		tr := Apply(DialogueState{Phase: phase, Slots: Slots{Name: "Ada"}}, Event{Kind: EvEscalate}, testNow)
		if tr.Effect != EffectOpenTicket {
			t.Fatalf("phase %s: expected open_ticket effect, got %q", phase, tr.Effect)
		}
	}

	esc := Escalate(DialogueState{Phase: PhaseCollectingAppointment}, "tick-1")
	if esc.Phase != PhaseEscalated || esc.TicketID != "tick-1" {
		t.Fatalf("bad escalated state: %+v", esc)
	}

	// Escalating an already-terminal conversation is a no-op.
	tr := Apply(esc, Event{Kind: EvEscalate}, testNow)
	if tr.Effect != EffectNone {
		t.Fatalf("terminal escalate must be a no-op, got %q", tr.Effect)
	}
}

func TestApply_TerminalPhasesResetOnNewGoal(t *testing.T) {
	for _, st := range []DialogueState{
		CompleteBooking(DialogueState{Slots: Slots{Name: "Ada"}}, "apt-1"),
		Escalate(DialogueState{}, "tick-1"),
	} {
		tr := Apply(st, Event{Kind: EvStartBooking}, testNow)
		if tr.State.Phase != PhaseCollectingAppointment {
			t.Fatalf("new goal after %s should start collecting, got %s", st.Phase, tr.State.Phase)
		}
		if tr.State.Slots != (Slots{}) {
			t.Fatalf("new goal must start with empty slots: %+v", tr.State.Slots)
		}
		if tr.State.TicketID != "" || tr.State.AppointmentID != "" {
			t.Fatalf("new goal kept artifact ids: %+v", tr.State)
		}

		// Field values alone do not reopen a terminal goal.
		tr = Apply(st, Event{Kind: EvSetFields, Fields: Fields{Name: strp("Eve")}}, testNow)
		if tr.State.Phase != st.Phase {
			t.Fatalf("set_fields must not reopen %s, got %s", st.Phase, tr.State.Phase)
		}
	}
}

func TestSlotValidators(t *testing.T) {
	if err := validateEmail("ada@example.com"); err != nil {
		t.Fatalf("valid email rejected: %v", err)
	}
	for _, bad := range []string{"", "nope", "a@b", "a b@c.d"} {
		if err := validateEmail(bad); err == nil {
			t.Fatalf("expected rejection for %q", bad)
		}
	}
	if err := validateNonEmpty("  "); err == nil {
		t.Fatalf("whitespace-only value accepted")
	}
	if err := validateDate("01/02/2026"); err == nil {
		t.Fatalf("wrong date layout accepted")
	}
	if err := validateTime("9am"); err == nil {
		t.Fatalf("wrong time layout accepted")
	}
	if err := validateSchedulable("2026-04-01", "10:30", testNow); err != nil {
		t.Fatalf("future instant rejected: %v", err)
	}
	if err := validateSchedulable("2026-03-10", "11:00", testNow); err == nil {
		t.Fatalf("past instant accepted")
	}
	// Half a pair is fine until the other half arrives.
	if err := validateSchedulable("2020-01-01", "", testNow); err != nil {
		t.Fatalf("lone date should not be schedulability-checked yet: %v", err)
	}
}
