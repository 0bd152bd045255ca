package convo

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrInvalidMode = errors.New("invalid conversation mode")
)

// Repository stores conversations, transcripts and dialogue state.
//
// All reads and writes are tenant-scoped. Messages are append-only; Seq is
// assigned by the repository, strictly increasing per conversation.
type Repository interface {
	// GetOrCreate returns the conversation, creating it in idle state on
	// the first turn. Mode is fixed at creation and ignored afterwards.
	GetOrCreate(ctx context.Context, tenantID, convID string, mode Mode) (Conversation, error)

	Get(ctx context.Context, tenantID, convID string) (Conversation, error)

	AppendMessage(ctx context.Context, tenantID, convID string, role Role, content string) (Message, error)

	// History returns messages in ascending Seq order, at most limit
	// entries from the tail (0 = all).
	History(ctx context.Context, tenantID, convID string, limit int) ([]Message, error)

	SaveState(ctx context.Context, tenantID, convID string, st DialogueState) error
}
