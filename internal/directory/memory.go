// In-memory directory for tests and local development. Shares the Create,
// last-write-wins preview, and status-row semantics with MongoDirectory.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

type statusKey struct {
	userID         string
	conversationID string
}

// MemoryDirectory is a process-local Directory implementation.
type MemoryDirectory struct {
	mu       sync.RWMutex
	convs    map[string]*domain.Conversation
	statuses map[statusKey]*domain.UserConversationStatus
}

// NewMemoryDirectory returns an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		convs:    make(map[string]*domain.Conversation),
		statuses: make(map[statusKey]*domain.UserConversationStatus),
	}
}

// Create implements Directory.
func (d *MemoryDirectory) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := canonicalizeMembers(conv); err != nil {
		return err
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = conv.CreatedAt

	d.mu.Lock()
	defer d.mu.Unlock()
	stored := cloneConversation(conv)
	d.convs[conv.ID] = stored
	return nil
}

// Get implements Directory.
func (d *MemoryDirectory) Get(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// FindByParticipants implements Directory.
func (d *MemoryDirectory) FindByParticipants(ctx context.Context, memberIDs []string) (*domain.Conversation, error) {
	key := domain.ParticipantsKey(memberIDs)
	if key == "" {
		return nil, ErrNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var found *domain.Conversation
	for _, conv := range d.convs {
		if conv.MembersKey != key {
			continue
		}
		if found == nil || conv.CreatedAt.Before(found.CreatedAt) {
			found = conv
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneConversation(found), nil
}

// ListForUser implements Directory.
func (d *MemoryDirectory) ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	statuses := make(map[string]domain.UserConversationStatus)
	for key, st := range d.statuses {
		if key.userID == userID {
			statuses[key.conversationID] = *st
		}
	}

	var out []domain.Conversation
	for _, conv := range d.convs {
		if !conv.HasMember(userID) {
			continue
		}
		if st, ok := statuses[conv.ID]; ok && st.IsHidden {
			continue
		}
		out = append(out, *cloneConversation(conv))
	}
	sortByActivity(out, statuses)
	return out, nil
}

// UpdateLastMessage implements Directory.
func (d *MemoryDirectory) UpdateLastMessage(ctx context.Context, conversationID string, preview domain.MessagePreview) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.convs[conversationID]
	if !ok {
		return false, nil
	}
	if conv.LastMessage != nil && conv.LastMessage.Timestamp.After(preview.Timestamp) {
		return false, nil
	}
	p := preview
	conv.LastMessage = &p
	conv.UpdatedAt = time.Now().UTC()
	return true, nil
}

// BumpActivity implements Directory.
func (d *MemoryDirectory) BumpActivity(ctx context.Context, conversationID string, memberIDs []string, senderID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, member := range memberIDs {
		st := d.statusLocked(member, conversationID)
		st.LastMessageTimestamp = at
		if member != senderID {
			st.UnreadCount++
		}
	}
	if conv, ok := d.convs[conversationID]; ok {
		conv.Metadata.TotalMessages++
	}
	return nil
}

// Status implements Directory.
func (d *MemoryDirectory) Status(ctx context.Context, userID, conversationID string) (*domain.UserConversationStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if st, ok := d.statuses[statusKey{userID, conversationID}]; ok {
		cp := *st
		return &cp, nil
	}
	return &domain.UserConversationStatus{UserID: userID, ConversationID: conversationID}, nil
}

// SetLastRead implements Directory.
func (d *MemoryDirectory) SetLastRead(ctx context.Context, userID, conversationID, messageID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.statusLocked(userID, conversationID)
	st.LastReadMessageID = messageID
	ts := at
	st.LastReadTimestamp = &ts
	st.UnreadCount = 0
	return nil
}

// SetUnread implements Directory.
func (d *MemoryDirectory) SetUnread(ctx context.Context, userID, conversationID string, n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusLocked(userID, conversationID).UnreadCount = n
	return nil
}

// SetHidden implements Directory.
func (d *MemoryDirectory) SetHidden(ctx context.Context, userID, conversationID string, hidden bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusLocked(userID, conversationID).IsHidden = hidden
	return nil
}

// SetPinned implements Directory.
func (d *MemoryDirectory) SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusLocked(userID, conversationID).IsPinned = pinned
	return nil
}

// SetMuted implements Directory.
func (d *MemoryDirectory) SetMuted(ctx context.Context, userID, conversationID string, muted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusLocked(userID, conversationID).IsMuted = muted
	return nil
}

func (d *MemoryDirectory) statusLocked(userID, conversationID string) *domain.UserConversationStatus {
	key := statusKey{userID, conversationID}
	st, ok := d.statuses[key]
	if !ok {
		st = &domain.UserConversationStatus{UserID: userID, ConversationID: conversationID}
		d.statuses[key] = st
	}
	return st
}

func cloneConversation(conv *domain.Conversation) *domain.Conversation {
	cp := *conv
	cp.MemberIDs = append([]string(nil), conv.MemberIDs...)
	if conv.MemberDetails != nil {
		cp.MemberDetails = make(map[string]domain.MemberDetail, len(conv.MemberDetails))
		for k, v := range conv.MemberDetails {
			cp.MemberDetails[k] = v
		}
	}
	if conv.LastMessage != nil {
		lm := *conv.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}
