// In-memory SavedMessages for tests and local development.
package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

type savedKey struct {
	userID         string
	conversationID string
	messageID      string
	kind           domain.SavedKind
}

// MemorySaved is a process-local SavedMessages implementation.
type MemorySaved struct {
	mu   sync.RWMutex
	recs map[savedKey]domain.SavedMessage
}

// NewMemorySaved returns an empty in-memory saved-message store.
func NewMemorySaved() *MemorySaved {
	return &MemorySaved{recs: make(map[savedKey]domain.SavedMessage)}
}

// Save implements SavedMessages.
func (s *MemorySaved) Save(ctx context.Context, rec *domain.SavedMessage) error {
	if err := validateSaved(rec); err != nil {
		return err
	}
	key := savedKey{rec.UserID, rec.ConversationID, rec.MessageID, rec.Kind}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recs[key]; exists {
		return nil
	}
	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.recs[key] = stored
	return nil
}

// Delete implements SavedMessages.
func (s *MemorySaved) Delete(ctx context.Context, userID, conversationID, messageID string, kind domain.SavedKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, savedKey{userID, conversationID, messageID, kind})
	return nil
}

// List implements SavedMessages.
func (s *MemorySaved) List(ctx context.Context, userID string, kind domain.SavedKind) ([]domain.SavedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SavedMessage
	for key, rec := range s.recs {
		if key.userID == userID && key.kind == kind {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].MessageID > out[j].MessageID
	})
	return out, nil
}
