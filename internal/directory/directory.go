// Package directory is the conversation directory: the authoritative record
// of which conversations exist, who belongs to them, and each member's
// private read/visibility state.
//
// Two write paths matter for correctness:
//
//   - UpdateLastMessage is last-write-wins by the preview timestamp, so the
//     denormalized preview converges to the newest message no matter how
//     concurrent sends interleave. A stale update is ignored, never an
//     error.
//   - Per-user status rows (unread counts, pins, mutes, hidden flags) are
//     owned by exactly one user each and never conflict across users.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

var (
	// ErrNotFound is returned when the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidMembership is returned by Create when the member list is
	// empty or does not include the creator.
	ErrInvalidMembership = errors.New("invalid conversation membership")
)

// Directory is the conversation directory contract.
type Directory interface {
	// Create persists a new conversation. The member list is canonicalized
	// (trimmed, de-duplicated) and MembersKey is derived from it. Fails
	// with ErrInvalidMembership when the canonical list is empty or the
	// creator is not in it.
	Create(ctx context.Context, conv *domain.Conversation) error

	// Get returns the conversation or ErrNotFound.
	Get(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// FindByParticipants returns an existing conversation whose member set
	// equals memberIDs (as an unordered set), or ErrNotFound. Callers use
	// it to reuse an existing direct thread instead of creating a
	// duplicate.
	FindByParticipants(ctx context.Context, memberIDs []string) (*domain.Conversation, error)

	// ListForUser returns the user's non-hidden conversations, most
	// recently active first.
	ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error)

	// UpdateLastMessage applies the preview if it is at least as new as
	// the stored one and reports whether it was applied. Repeating the
	// same update is a no-op that still reports applied.
	UpdateLastMessage(ctx context.Context, conversationID string, preview domain.MessagePreview) (bool, error)

	// BumpActivity records a new message: every listed member's status row
	// gets the activity timestamp, and every member except senderID gets
	// an unread increment.
	BumpActivity(ctx context.Context, conversationID string, memberIDs []string, senderID string, at time.Time) error

	// Status returns the user's status row for the conversation. A row
	// that was never written comes back zero-valued (not an error) with
	// the identifiers filled in.
	Status(ctx context.Context, userID, conversationID string) (*domain.UserConversationStatus, error)

	// SetLastRead marks the conversation read up to messageID and resets
	// the unread count.
	SetLastRead(ctx context.Context, userID, conversationID, messageID string, at time.Time) error

	// SetUnread overwrites the unread count; used by the recompute path.
	SetUnread(ctx context.Context, userID, conversationID string, n int64) error

	// SetHidden hides or unhides the conversation for the user.
	SetHidden(ctx context.Context, userID, conversationID string, hidden bool) error

	// SetPinned pins or unpins the conversation for the user.
	SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error

	// SetMuted mutes or unmutes the conversation for the user.
	SetMuted(ctx context.Context, userID, conversationID string, muted bool) error
}

// canonicalizeMembers trims, de-duplicates, and validates the conversation's
// member list in place, then derives MembersKey.
func canonicalizeMembers(conv *domain.Conversation) error {
	seen := make(map[string]struct{}, len(conv.MemberIDs))
	uniq := conv.MemberIDs[:0]
	for _, id := range conv.MemberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	conv.MemberIDs = uniq
	if len(conv.MemberIDs) == 0 {
		return ErrInvalidMembership
	}
	if conv.CreatedBy != "" && !conv.HasMember(conv.CreatedBy) {
		return ErrInvalidMembership
	}
	conv.MembersKey = domain.ParticipantsKey(conv.MemberIDs)
	return nil
}
