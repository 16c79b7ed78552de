// In-memory archive store for tests and local development. Shares the
// Archive idempotency and pagination contract with MongoStore.
package archivestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// MemoryStore is a process-local Store implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]map[string]domain.Message

	// FailNextArchive injects one transient failure per decrement; used by
	// coordinator tests to exercise the retry path.
	FailNextArchive int
}

// NewMemoryStore returns an empty in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]map[string]domain.Message)}
}

// Archive implements Store.
func (s *MemoryStore) Archive(ctx context.Context, conversationID string, batch []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextArchive > 0 {
		s.FailNextArchive--
		return fmt.Errorf("archive store unavailable")
	}

	msgs, ok := s.convs[conversationID]
	if !ok {
		msgs = make(map[string]domain.Message)
		s.convs[conversationID] = msgs
	}

	// Validate the whole batch before writing anything, so a mismatch
	// never leaves a partial batch behind.
	for i := range batch {
		if prev, exists := msgs[batch[i].ID]; exists {
			if !prev.Equivalent(&batch[i]) {
				return fmt.Errorf("%w: conversation %s message %s", ErrIntegrity, conversationID, batch[i].ID)
			}
		}
	}
	for i := range batch {
		if _, exists := msgs[batch[i].ID]; exists {
			continue
		}
		m := batch[i]
		m.ConversationID = conversationID
		msgs[m.ID] = m
	}
	return nil
}

// Page implements Store.
func (s *MemoryStore) Page(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.convs[conversationID]
	out := make([]domain.Message, 0, limit)
	for _, m := range msgs {
		if m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	sortPageDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.convs[conversationID])), nil
}

// MessageIDs returns all archived ids for a conversation, in no particular
// order. Test helper.
func (s *MemoryStore) MessageIDs(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convs[conversationID]))
	for id := range s.convs[conversationID] {
		ids = append(ids, id)
	}
	return ids
}
