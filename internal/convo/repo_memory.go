package convo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu    sync.Mutex
	convs map[string]*memConv // key: tenantID + "/" + convID
	clock func() time.Time
}

type memConv struct {
	conv     Conversation
	messages []Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{convs: map[string]*memConv{}, clock: time.Now}
}

func key(tenantID, convID string) string { return tenantID + "/" + convID }

func (r *MemoryRepo) GetOrCreate(ctx context.Context, tenantID, convID string, mode Mode) (Conversation, error) {
	if !mode.Valid() {
		return Conversation{}, ErrInvalidMode
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.convs[key(tenantID, convID)]; ok {
		return c.conv, nil
	}
	now := r.clock().UTC()
	c := &memConv{conv: Conversation{
		ID:        convID,
		TenantID:  tenantID,
		Mode:      mode,
		State:     NewState(),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	r.convs[key(tenantID, convID)] = c
	return c.conv, nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, convID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[key(tenantID, convID)]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c.conv, nil
}

func (r *MemoryRepo) AppendMessage(ctx context.Context, tenantID, convID string, role Role, content string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[key(tenantID, convID)]
	if !ok {
		return Message{}, ErrNotFound
	}
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		TenantID:       tenantID,
		Role:           role,
		Content:        content,
		Seq:            int64(len(c.messages) + 1),
		CreatedAt:      r.clock().UTC(),
	}
	c.messages = append(c.messages, m)
	c.conv.UpdatedAt = m.CreatedAt
	return m, nil
}

func (r *MemoryRepo) History(ctx context.Context, tenantID, convID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[key(tenantID, convID)]
	if !ok {
		return nil, ErrNotFound
	}
	msgs := c.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *MemoryRepo) SaveState(ctx context.Context, tenantID, convID string, st DialogueState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[key(tenantID, convID)]
	if !ok {
		return ErrNotFound
	}
	c.conv.State = st
	c.conv.UpdatedAt = r.clock().UTC()
	return nil
}
