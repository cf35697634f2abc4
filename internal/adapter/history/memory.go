package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatstream/internal/domain"
)

// MemoryStore is a process-local domain.HistoryStore.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string][]domain.ChatMessage
	order map[string]int
	seq   int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string][]domain.ChatMessage),
		order: make(map[string]int),
	}
}

func (s *MemoryStore) Append(_ context.Context, conversationID string, msgs ...domain.ChatMessage) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is empty", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		s.convs[conversationID] = append(s.convs[conversationID], m)
	}
	s.seq++
	s.order[conversationID] = s.seq
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.convs[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Conversations(_ context.Context) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(s.convs))
	for id, msgs := range s.convs {
		out = append(out, domain.Conversation{
			ID:           id,
			MessageCount: len(msgs),
			UpdatedAt:    msgs[len(msgs)-1].Timestamp,
		})
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ domain.HistoryStore = (*MemoryStore)(nil)
