package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"agent-platform/internal/audit"
	"agent-platform/internal/billing"
	"agent-platform/internal/bus"
	"agent-platform/internal/convo"
	"agent-platform/internal/intent"
	"agent-platform/internal/kb"
	"agent-platform/internal/rates"
	"agent-platform/internal/schedule"
	"agent-platform/internal/wallet"
)

const (
	testTenant = "tn-1"
	testConv   = "conv-1"
)

// scriptedInterpreter returns queued results in order; once the queue is
// empty it repeats the last step.
type scriptedInterpreter struct {
	mu      sync.Mutex
	steps   []scriptStep
	last    scriptStep
	hasLast bool
	calls   int
}

type scriptStep struct {
	res intent.Result
	err error
}

func (s *scriptedInterpreter) Interpret(ctx context.Context, mode convo.Mode, history []convo.Message, userTurn string) (intent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) > 0 {
		s.last = s.steps[0]
		s.hasLast = true
		s.steps = s.steps[1:]
	}
	if !s.hasLast {
		return intent.Result{Intent: intent.IntentGeneralEnquiry}, nil
	}
	return s.last.res, s.last.err
}

func (s *scriptedInterpreter) push(res intent.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, scriptStep{res: res, err: err})
}

type fakeCalendar struct {
	fail  bool
	calls int
}

func (f *fakeCalendar) Name() string { return "fake" }

func (f *fakeCalendar) CreateAppointment(ctx context.Context, tenantID string, slots convo.Slots) (string, error) {
	f.calls++
	if f.fail {
		return "", &schedule.ProviderError{Provider: "fake", Code: "unavailable", Message: "calendar down", Retryable: true}
	}
	return "prov-123", nil
}

type fixture struct {
	orch        *Orchestrator
	convs       *convo.MemoryRepo
	interp      *scriptedInterpreter
	cal         *fakeCalendar
	walletSvc   *wallet.Service
	walletStore *wallet.MemoryStore
	kbStore     *kb.MemoryStore
	tickets     *schedule.MemoryTicketRepo
	appts       *schedule.MemoryAppointmentRepo
	auditRepo   *audit.MemoryRepo
}

func newFixture(t *testing.T, openingMinor int64) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := wallet.NewMemoryStore()
	store.CreateWallet(testTenant, "USD", openingMinor)
	rateRepo := &rates.MemoryRepo{Rates: []rates.OperationRate{
		{ID: "r1", TenantID: testTenant, Operation: rates.OpChatCompletion, Currency: "USD", UnitPriceMinor: 10, Status: rates.RateStatusActive},
		{ID: "r2", TenantID: testTenant, Operation: rates.OpKBRead, Currency: "USD", UnitPriceMinor: 5, Status: rates.RateStatusActive},
	}}
	walletSvc := wallet.NewService(store, rates.NewService(rateRepo))

	b := bus.New(log)
	t.Cleanup(b.Close)
	billing.Register(b, walletSvc, log)

	convs := convo.NewMemoryRepo()
	interp := &scriptedInterpreter{}
	cal := &fakeCalendar{}
	appts := schedule.NewMemoryAppointmentRepo()
	tickets := schedule.NewMemoryTicketRepo()
	flow := schedule.NewService(cal, appts, tickets, b, log)

	kbStore := kb.NewMemoryStore()
	knowledge := kb.NewMetered(kbStore, b, log)

	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)

	orch := New(convs, interp, flow, knowledge, b, auditSvc, nil, log, Config{
		MaxAttempts: 3,
		TurnTimeout: 5 * time.Second,
	})

	return &fixture{
		orch:        orch,
		convs:       convs,
		interp:      interp,
		cal:         cal,
		walletSvc:   walletSvc,
		walletStore: store,
		kbStore:     kbStore,
		tickets:     tickets,
		appts:       appts,
		auditRepo:   auditRepo,
	}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.walletSvc.GetBalance(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.BalanceMinor
}

func (f *fixture) state(t *testing.T) convo.DialogueState {
	t.Helper()
	c, err := f.convs.Get(context.Background(), testTenant, testConv)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	return c.State
}

func strp(s string) *string { return &s }

func bookingResult(in intent.Intent, p intent.Params) intent.Result {
	return intent.Result{Intent: in, Params: p}
}

func TestHandleTurn_FullBookingWalk(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	f.interp.push(bookingResult(intent.IntentBookAppointment, intent.Params{Name: strp("Ada Lovelace")}), nil)
	reply, err := f.orch.HandleTurn(ctx, testTenant, testConv, "I want to book an appointment, I'm Ada Lovelace")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if st := f.state(t); st.Phase != convo.PhaseCollectingAppointment {
		t.Fatalf("phase after turn 1 = %q", st.Phase)
	}
	if !strings.Contains(reply, "email") {
		t.Fatalf("expected prompt for remaining slots, got %q", reply)
	}

	f.interp.push(bookingResult(intent.IntentSetAppointmentFields, intent.Params{
		Email: strp("ada@example.com"),
		Phone: strp("+15550100"),
		Date:  strp("2031-06-01"),
		Time:  strp("10:30"),
	}), nil)
	reply, err = f.orch.HandleTurn(ctx, testTenant, testConv, "ada@example.com, +15550100, June 1st 2031 at 10:30")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if st := f.state(t); st.Phase != convo.PhaseAwaitingConfirmation {
		t.Fatalf("phase after turn 2 = %q", st.Phase)
	}
	if !strings.Contains(reply, "2031-06-01") || !strings.Contains(reply, "10:30") {
		t.Fatalf("expected confirmation summary, got %q", reply)
	}

	f.interp.push(bookingResult(intent.IntentConfirmAppointment, intent.Params{}), nil)
	reply, err = f.orch.HandleTurn(ctx, testTenant, testConv, "yes, book it")
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}

	st := f.state(t)
	if st.Phase != convo.PhaseCompleted {
		t.Fatalf("phase after confirm = %q", st.Phase)
	}
	if st.AppointmentID == "" {
		t.Fatal("expected appointment id on completed state")
	}
	if f.cal.calls != 1 {
		t.Fatalf("calendar calls = %d, want 1", f.cal.calls)
	}
	if _, err := f.appts.Get(ctx, testTenant, st.AppointmentID); err != nil {
		t.Fatalf("appointment not persisted: %v", err)
	}
	if !strings.Contains(reply, "booked") {
		t.Fatalf("expected booked reply, got %q", reply)
	}

	// Three turns, one interpreter attempt each, 10 minor units per attempt.
	if got := f.balance(t); got != 970 {
		t.Fatalf("balance = %d, want 970", got)
	}
}

func TestHandleTurn_CalendarFailureKeepsConfirmationOpen(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	f.interp.push(bookingResult(intent.IntentBookAppointment, intent.Params{
		Name:  strp("Ada Lovelace"),
		Email: strp("ada@example.com"),
		Phone: strp("+15550100"),
		Date:  strp("2031-06-01"),
		Time:  strp("10:30"),
	}), nil)
	if _, err := f.orch.HandleTurn(ctx, testTenant, testConv, "book me in"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if st := f.state(t); st.Phase != convo.PhaseAwaitingConfirmation {
		t.Fatalf("phase after turn 1 = %q", st.Phase)
	}

	f.cal.fail = true
	f.interp.push(bookingResult(intent.IntentConfirmAppointment, intent.Params{}), nil)
	reply, err := f.orch.HandleTurn(ctx, testTenant, testConv, "confirm")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if reply != replyApology {
		t.Fatalf("reply = %q, want apology", reply)
	}

	// Confirmation stays open so a later turn can retry.
	if st := f.state(t); st.Phase != convo.PhaseAwaitingConfirmation {
		t.Fatalf("phase after failed commit = %q", st.Phase)
	}

	// Turn 1 stays charged; turn 2's charge was rolled back.
	if got := f.balance(t); got != 990 {
		t.Fatalf("balance = %d, want 990", got)
	}

	var sawRollback bool
	for _, e := range f.auditRepo.Events() {
		if e.Type == audit.EventTypeRollback {
			sawRollback = true
		}
	}
	if !sawRollback {
		t.Fatal("expected a rollback audit event")
	}
}

func TestHandleTurn_InterpreterFailuresAutoEscalate(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	f.interp.push(intent.Result{}, errors.New("model unavailable"))
	reply, err := f.orch.HandleTurn(ctx, testTenant, testConv, "hello?")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyEscalated {
		t.Fatalf("reply = %q, want escalation notice", reply)
	}
	if f.interp.calls != 3 {
		t.Fatalf("interpreter calls = %d, want 3", f.interp.calls)
	}

	st := f.state(t)
	if st.Phase != convo.PhaseEscalated || st.TicketID == "" {
		t.Fatalf("state = %+v, want escalated with ticket", st)
	}
	if _, err := f.tickets.Get(ctx, testTenant, st.TicketID); err != nil {
		t.Fatalf("ticket not persisted: %v", err)
	}

	// Every attempt is billed even when it fails.
	if got := f.balance(t); got != 970 {
		t.Fatalf("balance = %d, want 970", got)
	}

	var sawEscalation bool
	for _, e := range f.auditRepo.Events() {
		if e.Type == audit.EventTypeEscalation && e.TicketID == st.TicketID {
			sawEscalation = true
		}
	}
	if !sawEscalation {
		t.Fatal("expected an escalation audit event")
	}
}

func TestHandleTurn_AttemptScopedChargeKeys(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	f.interp.push(intent.Result{}, errors.New("garbled"))
	f.interp.push(intent.Result{}, errors.New("garbled again"))
	f.interp.push(intent.Result{Intent: intent.IntentGeneralEnquiry, Message: "hi there"}, nil)

	reply, err := f.orch.HandleTurn(ctx, testTenant, testConv, "hello")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q", reply)
	}

	entries, err := f.walletSvc.ListLedger(ctx, testTenant, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	keys := map[string]bool{}
	for _, e := range entries {
		if e.Category == wallet.CategoryUsageCharge {
			if keys[e.IdempotencyKey] {
				t.Fatalf("duplicate charge key %q", e.IdempotencyKey)
			}
			keys[e.IdempotencyKey] = true
		}
	}
	if len(keys) != 3 {
		t.Fatalf("distinct charge keys = %d, want 3", len(keys))
	}
	for _, suffix := range []string{":a1", ":a2", ":a3"} {
		var found bool
		for k := range keys {
			if strings.HasSuffix(k, suffix) {
				found = true
			}
		}
		if !found {
			t.Fatalf("no charge key with suffix %q in %v", suffix, keys)
		}
	}
}

func TestHandleTurn_InsufficientFundsIsConversational(t *testing.T) {
	f := newFixture(t, 5) // below the 10-minor chat rate
	ctx := context.Background()

	f.interp.push(bookingResult(intent.IntentBookAppointment, intent.Params{}), nil)
	reply, err := f.orch.HandleTurn(ctx, testTenant, testConv, "book me in")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyBillingExhausted {
		t.Fatalf("reply = %q, want billing notice", reply)
	}

	// No state advance, no debit.
	if st := f.state(t); st.Phase != convo.PhaseIdle {
		t.Fatalf("phase = %q, want idle", st.Phase)
	}
	if got := f.balance(t); got != 5 {
		t.Fatalf("balance = %d, want untouched 5", got)
	}
}

func TestHandleTurn_LockedWalletFailsHard(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	if _, err := f.walletSvc.SetLocked(ctx, testTenant, true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	f.interp.push(bookingResult(intent.IntentGeneralEnquiry, intent.Params{}), nil)
	if _, err := f.orch.HandleTurn(ctx, testTenant, testConv, "hello"); !errors.Is(err, ErrWalletLocked) {
		t.Fatalf("err = %v, want ErrWalletLocked", err)
	}
}

func TestHandleTurn_EscalateIntentOpensTicket(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	f.interp.push(bookingResult(intent.IntentEscalateChat, intent.Params{}), nil)
	reply, err := f.orch.HandleTurn(ctx, testTenant, testConv, "get me a human")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyEscalated {
		t.Fatalf("reply = %q", reply)
	}
	st := f.state(t)
	if st.Phase != convo.PhaseEscalated || st.TicketID == "" {
		t.Fatalf("state = %+v, want escalated with ticket", st)
	}
}

func TestHandleTurn_BookingEnquiryReadsKnowledgeBase(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	if _, err := f.orch.EnsureConversation(ctx, testTenant, testConv, convo.ModeLive); err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	if err := f.kbStore.Write(ctx, testTenant, "booking", []kb.Chunk{
		{ID: "c1", Tag: "booking", Text: "Opening hours are 9 to 5 on weekdays."},
	}); err != nil {
		t.Fatalf("seed kb: %v", err)
	}

	f.interp.push(intent.Result{Intent: intent.IntentBookingEnquiry, Message: "let me check"}, nil)
	reply, err := f.orch.HandleTurn(ctx, testTenant, testConv, "what are your opening hours")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !strings.Contains(reply, "9 to 5") {
		t.Fatalf("reply = %q, want knowledge-base answer", reply)
	}

	// One chat-completion attempt plus one kb read.
	if got := f.balance(t); got != 985 {
		t.Fatalf("balance = %d, want 985", got)
	}
}

func TestHandleTurn_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	cases := [][3]string{
		{"", testConv, "hi"},
		{testTenant, "", "hi"},
		{testTenant, testConv, "   "},
	}
	for _, c := range cases {
		if _, err := f.orch.HandleTurn(ctx, c[0], c[1], c[2]); !errors.Is(err, ErrInvalidTurn) {
			t.Fatalf("HandleTurn(%q,%q,%q) err = %v, want ErrInvalidTurn", c[0], c[1], c[2], err)
		}
	}
}

func TestHandleTurn_SerializesSameConversation(t *testing.T) {
	f := newFixture(t, 10000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.HandleTurn(ctx, testTenant, testConv, "hello"); err != nil {
				t.Errorf("turn: %v", err)
			}
		}()
	}
	wg.Wait()

	// 8 user turns and 8 assistant replies, strictly interleaved sequencing.
	msgs, err := f.convs.History(ctx, testTenant, testConv, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 16 {
		t.Fatalf("messages = %d, want 16", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap at %d: got %d", i, m.Seq)
		}
	}
	if got := f.balance(t); got != 10000-8*10 {
		t.Fatalf("balance = %d, want %d", got, 10000-8*10)
	}
}
