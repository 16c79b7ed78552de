// Package domain defines the core data model shared by the live message
// store, the archive message store, the conversation directory, and the
// vector pipeline. Types carry both JSON tags (Redis values, HTTP payloads)
// and BSON tags (MongoDB archive/directory documents).
package domain

import (
	"sort"
	"time"
)

// MessageType enumerates the supported message payload kinds.
type MessageType string

// Supported message types.
const (
	MessageTypeText       MessageType = "text"
	MessageTypeImage      MessageType = "image"
	MessageTypeVideo      MessageType = "video"
	MessageTypeFile       MessageType = "file"
	MessageTypeActionItem MessageType = "actionItem"
	MessageTypeSystem     MessageType = "system"
)

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo,
		MessageTypeFile, MessageTypeActionItem, MessageTypeSystem:
		return true
	}
	return false
}

// DeliveryState is the per-recipient delivery state machine:
// pending → sent → delivered → read. Transitions are strictly monotonic;
// a state never moves backwards regardless of update arrival order.
type DeliveryState string

// Delivery states, ordered by rank.
const (
	DeliveryPending   DeliveryState = "pending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// Rank returns the ordinal position of the state in the delivery ladder.
// Unknown states rank below pending so they can never clobber a real state.
func (s DeliveryState) Rank() int {
	switch s {
	case DeliveryPending:
		return 0
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	}
	return -1
}

// DeliveryReceipt is the recorded delivery state for one recipient,
// with the timestamp at which that state was first reached.
type DeliveryReceipt struct {
	State     DeliveryState `json:"state"     bson:"state"`
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
}

// Merge combines two receipts for the same (message, recipient) pair and
// returns the converged value. The higher-ranked state wins; on equal rank
// the earlier timestamp is kept. Merge is commutative and idempotent, so
// receipt updates need no ordering guarantees between them.
func (r DeliveryReceipt) Merge(other DeliveryReceipt) DeliveryReceipt {
	switch {
	case other.State.Rank() > r.State.Rank():
		return other
	case other.State.Rank() == r.State.Rank() && !other.Timestamp.IsZero() &&
		(r.Timestamp.IsZero() || other.Timestamp.Before(r.Timestamp)):
		return DeliveryReceipt{State: r.State, Timestamp: other.Timestamp}
	}
	return r
}

// Message is a single conversation message. Identity is the pair
// (ConversationID, ID); ID is generated client-side for optimistic sends
// and preserved end-to-end as the canonical identity, never re-assigned.
//
// A message lives in exactly one of the live store and the archive store
// at any time. CreatedAt is assigned by the server on append and is
// authoritative from then on.
type Message struct {
	ID             string      `json:"id"              bson:"message_id"`
	ConversationID string      `json:"conversation_id" bson:"conversation_id"`
	SenderID       string      `json:"sender_id"       bson:"sender_id"`
	SenderName     string      `json:"sender_name"     bson:"sender_name"`
	Text           string      `json:"text"            bson:"text"`
	Type           MessageType `json:"type"            bson:"type"`
	CreatedAt      time.Time   `json:"created_at"      bson:"created_at"`

	MediaURL         string `json:"media_url,omitempty"           bson:"media_url,omitempty"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty" bson:"reply_to_message_id,omitempty"`

	// DeliveryStatus keys are a subset of the conversation membership at
	// creation time. ReadBy keys are a subset of the membership.
	DeliveryStatus map[string]DeliveryReceipt `json:"delivery_status,omitempty" bson:"delivery_status,omitempty"`
	ReadBy         map[string]time.Time       `json:"read_by,omitempty"         bson:"read_by,omitempty"`

	IsDeleted  bool       `json:"is_deleted,omitempty"  bson:"is_deleted,omitempty"`
	IsEdited   bool       `json:"is_edited,omitempty"   bson:"is_edited,omitempty"`
	EditedAt   *time.Time `json:"edited_at,omitempty"   bson:"edited_at,omitempty"`
	DeletedFor []string   `json:"deleted_for,omitempty" bson:"deleted_for,omitempty"`

	// EmbeddingID references the vector index record once the message text
	// has been embedded. Embedding state is independent of archive state.
	EmbeddingID string `json:"embedding_id,omitempty" bson:"embedding_id,omitempty"`

	// Derived, mutable translation fields; not part of message identity.
	TranslatedText   string `json:"translated_text,omitempty"   bson:"translated_text,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty" bson:"detected_language,omitempty"`
	TranslatedTo     string `json:"translated_to,omitempty"     bson:"translated_to,omitempty"`
}

// DeletedForUser reports whether the message carries a per-user tombstone
// for userID.
func (m *Message) DeletedForUser(userID string) bool {
	for _, u := range m.DeletedFor {
		if u == userID {
			return true
		}
	}
	return false
}

// Equivalent reports whether other carries the same immutable content as m.
// It is the identity check used by the archive store to distinguish a
// retried batch (same id, same content: a no-op) from an id collision with
// different content (a fatal integrity error). Derived fields such as
// receipts, tombstones, and translations are intentionally excluded.
func (m *Message) Equivalent(other *Message) bool {
	return m.ID == other.ID &&
		m.ConversationID == other.ConversationID &&
		m.SenderID == other.SenderID &&
		m.Text == other.Text &&
		m.Type == other.Type &&
		m.MediaURL == other.MediaURL &&
		m.ReplyToMessageID == other.ReplyToMessageID &&
		m.CreatedAt.Equal(other.CreatedAt)
}

// MessageLess is the canonical ordering predicate for messages within a
// conversation: CreatedAt ascending, ties broken by ID lexical order.
// Every observer of the same message set sees the same sequence.
func MessageLess(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortMessages sorts msgs in place using MessageLess.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return MessageLess(&msgs[i], &msgs[j])
	})
}

// MessagePreview is the denormalized last-message snapshot stored on a
// conversation record to avoid a per-list lookup.
type MessagePreview struct {
	Text       string      `json:"text"        bson:"text"`
	SenderID   string      `json:"sender_id"   bson:"sender_id"`
	SenderName string      `json:"sender_name" bson:"sender_name"`
	Timestamp  time.Time   `json:"timestamp"   bson:"timestamp"`
	Type       MessageType `json:"type"        bson:"type"`
}

// PreviewOf builds the denormalized preview for a message.
func PreviewOf(m *Message) MessagePreview {
	return MessagePreview{
		Text:       m.Text,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Timestamp:  m.CreatedAt,
		Type:       m.Type,
	}
}
