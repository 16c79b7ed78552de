// In-memory live store. Used by tests and local development; semantics
// mirror RedisStore exactly, including the typing TTL, which is enforced
// by an expiry sweep on read rather than trusting clients to clear state.
package livestore

import (
	"context"
	"sync"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// MemoryStore is a process-local Store implementation.
type MemoryStore struct {
	// Now is the clock seam; tests override it to exercise typing expiry.
	Now func() time.Time

	mu    sync.RWMutex
	convs map[string]*memConversation
}

type memConversation struct {
	msgs      map[string]*domain.Message
	typing    map[string]time.Time // userID → expiry deadline
	observers map[int]chan []domain.Message
	nextObs   int
}

// NewMemoryStore returns an empty in-memory live store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Now: time.Now, convs: make(map[string]*memConversation)}
}

func (s *MemoryStore) conv(id string) *memConversation {
	c, ok := s.convs[id]
	if !ok {
		c = &memConversation{
			msgs:      make(map[string]*domain.Message),
			typing:    make(map[string]time.Time),
			observers: make(map[int]chan []domain.Message),
		}
		s.convs[id] = c
	}
	return c
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	if !conv.HasMember(msg.SenderID) {
		return ErrNotAMember
	}

	s.mu.Lock()
	c := s.conv(conv.ID)
	if existing, ok := c.msgs[msg.ID]; ok {
		*msg = cloneMessage(existing)
		s.mu.Unlock()
		return nil
	}

	now := s.Now().UTC()
	msg.ConversationID = conv.ID
	msg.CreatedAt = now
	seedReceipts(conv, msg, now)

	stored := cloneMessage(msg)
	c.msgs[msg.ID] = &stored
	s.notifyLocked(c)
	s.mu.Unlock()
	return nil
}

// Window implements Store.
func (s *MemoryStore) Window(ctx context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windowLocked(conversationID), nil
}

func (s *MemoryStore) windowLocked(conversationID string) []domain.Message {
	c, ok := s.convs[conversationID]
	if !ok {
		return []domain.Message{}
	}
	out := make([]domain.Message, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, cloneMessage(m))
	}
	domain.SortMessages(out)
	return out
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.convs[conversationID]; ok {
		return int64(len(c.msgs)), nil
	}
	return 0, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, conversationID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.convs[conversationID]; ok {
		if m, ok := c.msgs[messageID]; ok {
			out := cloneMessage(m)
			return &out, nil
		}
	}
	return nil, ErrMessageNotFound
}

// MarkDelivered implements Store.
func (s *MemoryStore) MarkDelivered(ctx context.Context, conversationID, messageID, userID string, at time.Time) error {
	return s.mergeReceipt(conversationID, messageID, userID, domain.DeliveryDelivered, at)
}

// MarkRead implements Store.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) error {
	if err := s.mergeReceipt(conversationID, messageID, userID, domain.DeliveryRead, at); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrMessageNotFound
	}
	m, ok := c.msgs[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if m.ReadBy == nil {
		m.ReadBy = make(map[string]time.Time, 1)
	}
	if _, already := m.ReadBy[userID]; !already { // first read wins
		m.ReadBy[userID] = at.UTC()
		s.notifyLocked(c)
	}
	return nil
}

func (s *MemoryStore) mergeReceipt(conversationID, messageID, userID string, state domain.DeliveryState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrMessageNotFound
	}
	m, ok := c.msgs[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if m.DeliveryStatus == nil {
		m.DeliveryStatus = make(map[string]domain.DeliveryReceipt, 1)
	}
	next := m.DeliveryStatus[userID].Merge(domain.DeliveryReceipt{State: state, Timestamp: at.UTC()})
	if next != m.DeliveryStatus[userID] {
		m.DeliveryStatus[userID] = next
		s.notifyLocked(c)
	}
	return nil
}

// DeleteForUser implements Store.
func (s *MemoryStore) DeleteForUser(ctx context.Context, conversationID, messageID, userID string) error {
	return s.mutate(conversationID, messageID, true, func(m *domain.Message) bool {
		if m.DeletedForUser(userID) {
			return false
		}
		m.DeletedFor = append(m.DeletedFor, userID)
		return true
	})
}

// SetDeleted implements Store.
func (s *MemoryStore) SetDeleted(ctx context.Context, conversationID, messageID string) error {
	return s.mutate(conversationID, messageID, true, func(m *domain.Message) bool {
		if m.IsDeleted {
			return false
		}
		m.IsDeleted = true
		return true
	})
}

// SetEmbeddingID implements Store.
func (s *MemoryStore) SetEmbeddingID(ctx context.Context, conversationID, messageID, embeddingID string) error {
	err := s.mutate(conversationID, messageID, false, func(m *domain.Message) bool {
		if m.EmbeddingID == embeddingID {
			return false
		}
		m.EmbeddingID = embeddingID
		return true
	})
	if err == ErrMessageNotFound {
		return nil
	}
	return err
}

func (s *MemoryStore) mutate(conversationID, messageID string, notify bool, apply func(*domain.Message) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrMessageNotFound
	}
	m, ok := c.msgs[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if apply(m) && notify {
		s.notifyLocked(c)
	}
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	for _, id := range messageIDs {
		delete(c.msgs, id)
	}
	s.notifyLocked(c)
	return nil
}

// SetTyping implements Store.
func (s *MemoryStore) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(conversationID)
	if typing {
		c.typing[userID] = s.Now().Add(TypingTTL)
	} else {
		delete(c.typing, userID)
	}
	s.notifyLocked(c)
	return nil
}

// Typing implements Store. Expired entries are swept here, so a crashed
// client's indicator disappears without any explicit clear.
func (s *MemoryStore) Typing(ctx context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil, nil
	}
	now := s.Now()
	var users []string
	for user, deadline := range c.typing {
		if now.After(deadline) {
			delete(c.typing, user)
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// Observe implements Store.
func (s *MemoryStore) Observe(ctx context.Context, conversationID string) (*Subscription, error) {
	s.mu.Lock()
	c := s.conv(conversationID)
	id := c.nextObs
	c.nextObs++
	ch := make(chan []domain.Message, 1)
	c.observers[id] = ch
	ch <- s.windowLocked(conversationID)
	s.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	sub := &Subscription{C: ch}
	sub.cancel = func() {
		once.Do(func() {
			s.mu.Lock()
			delete(c.observers, id)
			close(ch)
			s.mu.Unlock()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.cancel()
		case <-done:
		}
	}()

	return sub, nil
}

func (s *MemoryStore) notifyLocked(c *memConversation) {
	if len(c.observers) == 0 {
		return
	}
	var snap []domain.Message
	for _, m := range c.msgs {
		snap = append(snap, cloneMessage(m))
	}
	if snap == nil {
		snap = []domain.Message{}
	}
	domain.SortMessages(snap)
	for _, ch := range c.observers {
		// Latest-wins delivery, matching the Redis implementation.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// cloneMessage deep-copies a message so callers never alias store state.
func cloneMessage(m *domain.Message) domain.Message {
	out := *m
	if m.DeliveryStatus != nil {
		out.DeliveryStatus = make(map[string]domain.DeliveryReceipt, len(m.DeliveryStatus))
		for k, v := range m.DeliveryStatus {
			out.DeliveryStatus[k] = v
		}
	}
	if m.ReadBy != nil {
		out.ReadBy = make(map[string]time.Time, len(m.ReadBy))
		for k, v := range m.ReadBy {
			out.ReadBy[k] = v
		}
	}
	if m.DeletedFor != nil {
		out.DeletedFor = append([]string(nil), m.DeletedFor...)
	}
	return out
}
