package kb

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Chunk is one retrievable unit of tenant knowledge.
type Chunk struct {
	ID   string `json:"id"`
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

var ErrInvalidQuery = errors.New("kb: tag and query required")

// Store is the narrow knowledge-base boundary. Implementations must be
// tenant-scoped; retrieval quality is the store's concern, not the caller's.
type Store interface {
	Read(ctx context.Context, tenantID, tag, query string) ([]Chunk, error)
	Write(ctx context.Context, tenantID, tag string, chunks []Chunk) error
}

// MemoryStore keeps chunks per tenant and tag with naive substring matching.
type MemoryStore struct {
	mu     sync.Mutex
	chunks map[string][]Chunk // key: tenantID + "/" + tag
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: map[string][]Chunk{}}
}

func (s *MemoryStore) Read(ctx context.Context, tenantID, tag, query string) ([]Chunk, error) {
	if tag == "" || query == "" {
		return nil, ErrInvalidQuery
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Chunk
	q := strings.ToLower(query)
	for _, c := range s.chunks[tenantID+"/"+tag] {
		if strings.Contains(strings.ToLower(c.Text), q) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) Write(ctx context.Context, tenantID, tag string, chunks []Chunk) error {
	if tag == "" {
		return ErrInvalidQuery
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[tenantID+"/"+tag] = append(s.chunks[tenantID+"/"+tag], chunks...)
	return nil
}
