package domain

import (
	"sort"
	"strings"
	"time"
)

// ConversationType distinguishes one-to-one threads from group threads.
type ConversationType string

// Conversation types.
const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Valid reports whether t is a supported conversation type.
func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

// MemberDetail is denormalized member display data kept on the conversation
// record. Entries may outlive membership so history stays renderable after
// a member leaves.
type MemberDetail struct {
	DisplayName string    `json:"display_name"        bson:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty" bson:"photo_url,omitempty"`
	JoinedAt    time.Time `json:"joined_at"           bson:"joined_at"`
}

// ConversationMetadata carries aggregate counters and display extras.
type ConversationMetadata struct {
	TotalMessages int64  `json:"total_messages"      bson:"total_messages"`
	ImageURL      string `json:"image_url,omitempty" bson:"image_url,omitempty"`
}

// Conversation is the directory record for a message thread.
//
// MemberIDs is ordered, non-empty, and duplicate-free. MemberDetails keys
// are a superset of MemberIDs. MembersKey is the canonical unordered-set
// key over MemberIDs used to find an existing thread for a participant set
// before creating a duplicate one.
type Conversation struct {
	ID        string           `json:"id"             bson:"_id"`
	Type      ConversationType `json:"type"           bson:"type"`
	Name      string           `json:"name,omitempty" bson:"name,omitempty"`
	CreatedBy string           `json:"created_by"     bson:"created_by"`

	MemberIDs     []string                `json:"member_ids"     bson:"member_ids"`
	MemberDetails map[string]MemberDetail `json:"member_details" bson:"member_details"`
	MembersKey    string                  `json:"-"              bson:"members_key"`

	// LastMessage, when present, reflects the most recently created
	// non-deleted message. Updated last-write-wins by Timestamp.
	LastMessage *MessagePreview      `json:"last_message,omitempty" bson:"last_message,omitempty"`
	Metadata    ConversationMetadata `json:"metadata"               bson:"metadata"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// HasMember reports whether userID is a current member.
func (c *Conversation) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ParticipantsKey canonicalizes a member set into a stable lookup key:
// unique ids, sorted, joined with "|". Two membership lists that are equal
// as unordered sets always map to the same key.
func ParticipantsKey(memberIDs []string) string {
	seen := make(map[string]struct{}, len(memberIDs))
	uniq := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
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
	sort.Strings(uniq)
	return strings.Join(uniq, "|")
}

// UserConversationStatus is the per-user, per-conversation read/visibility
// record. It is owned exclusively by UserID and never visible to other
// members.
//
// UnreadCount is non-negative and recomputable as the count of messages
// created after LastReadTimestamp, excluding the user's own messages and
// messages tombstoned for the user.
type UserConversationStatus struct {
	UserID         string `json:"user_id"         bson:"user_id"`
	ConversationID string `json:"conversation_id" bson:"conversation_id"`

	LastReadMessageID string     `json:"last_read_message_id,omitempty" bson:"last_read_message_id,omitempty"`
	LastReadTimestamp *time.Time `json:"last_read_timestamp,omitempty"  bson:"last_read_timestamp,omitempty"`

	UnreadCount int64 `json:"unread_count" bson:"unread_count"`
	IsPinned    bool  `json:"is_pinned"    bson:"is_pinned"`
	IsMuted     bool  `json:"is_muted"     bson:"is_muted"`
	IsHidden    bool  `json:"is_hidden"    bson:"is_hidden"`

	LastMessageTimestamp time.Time `json:"last_message_timestamp" bson:"last_message_timestamp"`
}
