package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agent-platform/internal/convo"
)

// CompletionRequest is one structured-output completion call: the schema the
// response must satisfy plus the conversation so far and the newest turn.
type CompletionRequest struct {
	Mode     convo.Mode
	System   string
	History  []convo.Message
	UserTurn string
	Schema   map[string]any
}

// Provider performs the external structured-output completion and returns the
// raw JSON document. It must not interpret the payload; strict validation
// happens client-side.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Interpreter turns one user message into a validated Result.
type Interpreter struct {
	provider Provider
}

func NewInterpreter(provider Provider) *Interpreter {
	return &Interpreter{provider: provider}
}

const systemPrompt = `You are a booking assistant for appointment scheduling.
Classify the user's latest message into exactly one intent and extract any
appointment fields they stated. Use null for fields the user did not mention.
Reply with the given JSON schema only.`

// Interpret runs one completion and strictly parses the output. Any schema
// drift is reported as ErrMalformedOutput so the caller can count it as an
// interpreter failure.
func (i *Interpreter) Interpret(ctx context.Context, mode convo.Mode, history []convo.Message, userTurn string) (Result, error) {
	raw, err := i.provider.Complete(ctx, CompletionRequest{
		Mode:     mode,
		System:   systemPrompt,
		History:  history,
		UserTurn: userTurn,
		Schema:   SchemaFor(mode),
	})
	if err != nil {
		return Result{}, err
	}
	return Parse(mode, raw)
}

// wire mirrors Result but distinguishes "intent absent" from "intent empty".
type wire struct {
	Intent     *string `json:"intent"`
	Parameters Params  `json:"parameters"`
	Message    string  `json:"message"`
}

// Parse validates one raw structured-output document against the mode's
// closed intent set. Unknown fields anywhere, a missing intent, or an intent
// outside the set all fail with ErrMalformedOutput.
func Parse(mode convo.Mode, raw string) (Result, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var w wire
	if err := dec.Decode(&w); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	// Trailing data after the document is drift too.
	if dec.More() {
		return Result{}, fmt.Errorf("%w: trailing data", ErrMalformedOutput)
	}

	if w.Intent == nil || *w.Intent == "" {
		return Result{}, fmt.Errorf("%w: missing intent", ErrMalformedOutput)
	}
	in := Intent(*w.Intent)
	if !allowedFor(mode, in) {
		return Result{}, fmt.Errorf("%w: unknown intent %q", ErrMalformedOutput, *w.Intent)
	}

	return Result{Intent: in, Params: w.Parameters, Message: w.Message}, nil
}
