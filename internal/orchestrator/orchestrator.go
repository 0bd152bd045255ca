package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agent-platform/internal/bus"
	"agent-platform/internal/convo"
	"agent-platform/internal/intent"
	"agent-platform/internal/kb"
	"agent-platform/internal/rates"
	"agent-platform/internal/schedule"
	"agent-platform/internal/wallet"
	"agent-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// The orchestrator owns every turn: it is the only writer of dialogue state
// and the only place that pairs charges with rollbacks for a unit of work.
//
// Externally observable effect order per turn:
//  1. user message appended (durable before any charge)
//  2. interpreter call(s); each attempt metered with an attempt-scoped key
//  3. charge result gates state advance
//  4. metered external work charged before the work, rolled back on failure
//  5. assistant reply appended and state persisted

var (
	ErrInvalidTurn  = errors.New("orchestrator: tenant, conversation and text required")
	ErrTooManyTurns = errors.New("orchestrator: tenant turn limit reached")
	ErrWalletLocked = errors.New("orchestrator: wallet locked")
)

// Interpreter is the slice of the intent package the orchestrator needs.
type Interpreter interface {
	Interpret(ctx context.Context, mode convo.Mode, history []convo.Message, userTurn string) (intent.Result, error)
}

// Workflow is the slice of the schedule service the orchestrator needs.
type Workflow interface {
	CommitAppointment(ctx context.Context, tenantID, convID string, slots convo.Slots) (schedule.Appointment, error)
	OpenTicket(ctx context.Context, tenantID, convID, reason string) (schedule.Ticket, error)
}

// KnowledgeBase answers live booking enquiries; the implementation meters
// itself (charge before read, rollback on failure).
type KnowledgeBase interface {
	Read(ctx context.Context, tenantID, convID, tag, query, idemKey string) ([]kb.Chunk, error)
}

// Publisher is the slice of the event bus the orchestrator needs.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, tenantID string, payload any) error
}

// Auditor records escalations and rollbacks; best-effort.
type Auditor interface {
	LogEscalation(ctx context.Context, tenantID, conversationID, ticketID, reason string) error
	LogRollback(ctx context.Context, tenantID, conversationID, ledgerKey, reason string) error
}

type Config struct {
	// MaxAttempts bounds interpreter retries per turn; after the bound the
	// conversation auto-escalates.
	MaxAttempts int
	// TurnTimeout bounds one whole turn.
	TurnTimeout time.Duration
	// MaxTurnsPerTenant caps concurrent in-flight turns per tenant when a
	// redis client is configured. 0 disables the cap.
	MaxTurnsPerTenant int
	// HistoryLimit bounds the transcript window passed to the interpreter.
	HistoryLimit int
}

type Orchestrator struct {
	convs  convo.Repository
	interp Interpreter
	flow   Workflow
	kb     KnowledgeBase
	pub    Publisher
	auditl Auditor
	rdb    *redis.Client
	log    *slog.Logger
	cfg    Config

	locks *keyedMutex
	clock func() time.Time
}

func New(convs convo.Repository, interp Interpreter, flow Workflow, knowledge KnowledgeBase, pub Publisher, auditl Auditor, rdb *redis.Client, log *slog.Logger, cfg Config) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 45 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Orchestrator{
		convs:  convs,
		interp: interp,
		flow:   flow,
		kb:     knowledge,
		pub:    pub,
		auditl: auditl,
		rdb:    rdb,
		log:    log,
		cfg:    cfg,
		locks:  newKeyedMutex(),
		clock:  time.Now,
	}
}

// EnsureConversation creates the conversation with an explicit mode, or
// returns the existing one. Mode is fixed at creation; turns on an existing
// conversation never change it.
func (o *Orchestrator) EnsureConversation(ctx context.Context, tenantID, convID string, mode convo.Mode) (convo.Conversation, error) {
	return o.convs.GetOrCreate(ctx, tenantID, convID, mode)
}

// HandleTurn is the single entry point per user turn.
//
// Billing outcomes are conversational where the user can act on them:
// insufficient funds yields a billing reply with a nil error. A locked wallet
// is an account-level condition and fails hard with ErrWalletLocked.
func (o *Orchestrator) HandleTurn(ctx context.Context, tenantID, convID, text string) (string, error) {
	if tenantID == "" || convID == "" || strings.TrimSpace(text) == "" {
		return "", ErrInvalidTurn
	}

	if o.rdb != nil && o.cfg.MaxTurnsPerTenant > 0 {
		capKey := "turns:" + tenantID
		ok, err := utils.AcquireConcurrencyCap(ctx, o.rdb, capKey, o.cfg.MaxTurnsPerTenant, o.cfg.TurnTimeout)
		if err != nil {
			// The cap is protective, not billing-critical; degrade open.
			o.log.Warn("turn cap unavailable", "tenant_id", tenantID, "error", err)
		} else if !ok {
			return "", ErrTooManyTurns
		} else {
			defer func() {
				if err := utils.ReleaseConcurrencyCap(context.Background(), o.rdb, capKey); err != nil {
					o.log.Warn("turn cap release failed", "tenant_id", tenantID, "error", err)
				}
			}()
		}
	}

	lockKey := tenantID + "/" + convID
	o.locks.Lock(lockKey)
	defer o.locks.Unlock(lockKey)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	conv, err := o.convs.GetOrCreate(ctx, tenantID, convID, convo.ModeTraining)
	if err != nil {
		return "", err
	}

	history, err := o.convs.History(ctx, tenantID, convID, o.cfg.HistoryLimit)
	if err != nil {
		return "", err
	}

	userMsg, err := o.convs.AppendMessage(ctx, tenantID, convID, convo.RoleUser, text)
	if err != nil {
		return "", err
	}
	seq := userMsg.Seq

	res, chargedKey, billingReply, err := o.interpret(ctx, conv, history, text, seq)
	if err != nil {
		return "", err
	}
	if billingReply != "" {
		return o.finish(ctx, tenantID, convID, conv.State, billingReply, false)
	}
	if res == nil {
		// Interpreter exhausted its attempts; hand the conversation over.
		return o.autoEscalate(ctx, conv)
	}

	return o.advance(ctx, conv, *res, text, seq, chargedKey)
}

// interpret runs the bounded interpreter loop. Every attempt is metered under
// an attempt-scoped idempotency key whether or not it parsed. Returns a nil
// result when all attempts failed.
func (o *Orchestrator) interpret(ctx context.Context, conv convo.Conversation, history []convo.Message, text string, seq int64) (res *intent.Result, chargedKey, billingReply string, err error) {
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		r, interpErr := o.interp.Interpret(ctx, conv.Mode, history, text)

		key := turnKey(conv.ID, seq, rates.OpChatCompletion, attempt)
		chargeErr := o.pub.Publish(ctx, bus.TopicUsageCharge, conv.TenantID, bus.UsageCharge{
			Operation:      string(rates.OpChatCompletion),
			Quantity:       1,
			ConversationID: conv.ID,
			IdempotencyKey: key,
			Description:    "interpreter attempt",
		})
		switch {
		case errors.Is(chargeErr, wallet.ErrInsufficientFunds):
			return nil, "", replyBillingExhausted, nil
		case errors.Is(chargeErr, wallet.ErrWalletLocked):
			return nil, "", "", fmt.Errorf("%w: tenant %s", ErrWalletLocked, conv.TenantID)
		case chargeErr != nil:
			return nil, "", "", chargeErr
		}

		if interpErr == nil {
			return &r, key, "", nil
		}
		o.log.Warn("interpreter attempt failed",
			"conversation_id", conv.ID, "attempt", attempt, "error", interpErr)
	}
	return nil, "", "", nil
}

// advance drives the state machine with the interpreted result and performs
// any external work the transition requires.
func (o *Orchestrator) advance(ctx context.Context, conv convo.Conversation, res intent.Result, text string, seq int64, chargedKey string) (string, error) {
	tenantID, convID := conv.TenantID, conv.ID

	if res.Intent == intent.IntentBookingEnquiry {
		return o.answerBookingEnquiry(ctx, conv, res, text, seq)
	}

	tr := convo.Apply(conv.State, eventFor(res), o.clock().UTC())

	switch tr.Effect {
	case convo.EffectCommitAppointment:
		appt, err := o.flow.CommitAppointment(ctx, tenantID, convID, tr.State.Slots)
		if err != nil {
			// Work failed after the turn was charged: compensate and
			// keep the confirmation open.
			o.rollback(ctx, tenantID, convID, chargedKey, "calendar commit failed")
			o.log.Error("appointment commit failed", "conversation_id", convID, "error", err)
			return o.finish(ctx, tenantID, convID, conv.State, replyApology, true)
		}
		return o.finish(ctx, tenantID, convID, convo.CompleteBooking(tr.State, appt.ID), bookedReply(tr.State.Slots), true)

	case convo.EffectOpenTicket:
		tk, err := o.flow.OpenTicket(ctx, tenantID, convID, "user requested a human agent")
		if err != nil {
			o.log.Error("ticket open failed", "conversation_id", convID, "error", err)
			return o.finish(ctx, tenantID, convID, conv.State, replyApology, true)
		}
		if err := o.auditl.LogEscalation(ctx, tenantID, convID, tk.ID, "user requested a human agent"); err != nil {
			o.log.Warn("audit escalation", "error", err)
		}
		return o.finish(ctx, tenantID, convID, convo.Escalate(tr.State, tk.ID), replyEscalated, true)
	}

	return o.finish(ctx, tenantID, convID, tr.State, o.replyFor(tr, res), true)
}

// answerBookingEnquiry serves the live-mode read-only path. The knowledge
// base wrapper meters itself; insufficient funds surface conversationally.
func (o *Orchestrator) answerBookingEnquiry(ctx context.Context, conv convo.Conversation, res intent.Result, text string, seq int64) (string, error) {
	key := turnKey(conv.ID, seq, rates.OpKBRead, 0)
	chunks, err := o.kb.Read(ctx, conv.TenantID, conv.ID, "booking", text, key)
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return o.finish(ctx, conv.TenantID, conv.ID, conv.State, replyBillingExhausted, false)
	case errors.Is(err, wallet.ErrWalletLocked):
		return "", fmt.Errorf("%w: tenant %s", ErrWalletLocked, conv.TenantID)
	case err != nil:
		if err := o.auditl.LogRollback(ctx, conv.TenantID, conv.ID, key, "kb read failed"); err != nil {
			o.log.Warn("audit rollback", "error", err)
		}
		return o.finish(ctx, conv.TenantID, conv.ID, conv.State, replyApology, false)
	}

	reply := res.Message
	if len(chunks) > 0 {
		parts := make([]string, len(chunks))
		for i, c := range chunks {
			parts[i] = c.Text
		}
		reply = strings.Join(parts, " ")
	}
	if strings.TrimSpace(reply) == "" {
		reply = replyClarify
	}
	return o.finish(ctx, conv.TenantID, conv.ID, conv.State, reply, false)
}

func (o *Orchestrator) autoEscalate(ctx context.Context, conv convo.Conversation) (string, error) {
	reason := fmt.Sprintf("auto-escalated after %d failed interpretation attempts", o.cfg.MaxAttempts)
	tk, err := o.flow.OpenTicket(ctx, conv.TenantID, conv.ID, reason)
	if err != nil {
		return "", fmt.Errorf("open ticket after interpreter failures: %w", err)
	}
	if err := o.auditl.LogEscalation(ctx, conv.TenantID, conv.ID, tk.ID, reason); err != nil {
		o.log.Warn("audit escalation", "error", err)
	}
	return o.finish(ctx, conv.TenantID, conv.ID, convo.Escalate(conv.State, tk.ID), replyEscalated, true)
}

// finish appends the assistant reply and, when the state changed, persists it.
func (o *Orchestrator) finish(ctx context.Context, tenantID, convID string, st convo.DialogueState, reply string, saveState bool) (string, error) {
	if _, err := o.convs.AppendMessage(ctx, tenantID, convID, convo.RoleAssistant, reply); err != nil {
		return "", err
	}
	if saveState {
		if err := o.convs.SaveState(ctx, tenantID, convID, st); err != nil {
			return "", err
		}
	}
	return reply, nil
}

func (o *Orchestrator) rollback(ctx context.Context, tenantID, convID, key, reason string) {
	if key == "" {
		return
	}
	if err := o.pub.Publish(ctx, bus.TopicUsageRollback, tenantID, bus.UsageRollback{
		IdempotencyKey: key,
		Reason:         reason,
	}); err != nil {
		o.log.Error("rollback publish failed", "conversation_id", convID, "key", key, "error", err)
		return
	}
	if err := o.auditl.LogRollback(ctx, tenantID, convID, key, reason); err != nil {
		o.log.Warn("audit rollback", "error", err)
	}
}

func (o *Orchestrator) replyFor(tr convo.Transition, res intent.Result) string {
	if len(tr.Rejected) > 0 {
		return promptForRejected(tr.Rejected)
	}
	switch tr.State.Phase {
	case convo.PhaseCollectingAppointment:
		return promptForMissing(tr.State.Slots.Missing())
	case convo.PhaseAwaitingConfirmation:
		return confirmationSummary(tr.State.Slots)
	default:
		if strings.TrimSpace(res.Message) != "" {
			return res.Message
		}
		return replyClarify
	}
}

// eventFor maps an interpreted intent onto a machine event.
func eventFor(res intent.Result) convo.Event {
	fields := res.Params.Fields()
	switch res.Intent {
	case intent.IntentBookAppointment:
		return convo.Event{Kind: convo.EvStartBooking, Fields: fields}
	case intent.IntentSetAppointmentFields:
		return convo.Event{Kind: convo.EvSetFields, Fields: fields}
	case intent.IntentConfirmAppointment:
		return convo.Event{Kind: convo.EvConfirm}
	case intent.IntentEditAppointment:
		return convo.Event{Kind: convo.EvEdit, Fields: fields}
	case intent.IntentEscalateChat:
		return convo.Event{Kind: convo.EvEscalate}
	default:
		return convo.Event{Kind: convo.EvGeneral}
	}
}

// turnKey builds the idempotency key for one metered unit of work:
// conversation + turn sequence + operation, with an attempt suffix for
// retried interpreter calls.
func turnKey(convID string, seq int64, op rates.Operation, attempt int) string {
	if attempt > 0 {
		return fmt.Sprintf("%s:%d:%s:a%d", convID, seq, op, attempt)
	}
	return fmt.Sprintf("%s:%d:%s", convID, seq, op)
}
