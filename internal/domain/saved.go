package domain

import "time"

// SavedKind distinguishes the two per-user saved-message record types.
type SavedKind string

const (
	// SavedKindStarred marks a message the user bookmarked.
	SavedKindStarred SavedKind = "starred"

	// SavedKindMentioned marks a message that mentions the user.
	SavedKindMentioned SavedKind = "mentioned"
)

// Valid reports whether k is a known saved-record kind.
func (k SavedKind) Valid() bool {
	return k == SavedKindStarred || k == SavedKindMentioned
}

// SavedMessage is one per-user starred or mentioned message record. Records
// reference messages by id; they are not copies, so they survive the message
// moving from the live window into the archive.
type SavedMessage struct {
	UserID         string    `json:"user_id"         bson:"user_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	MessageID      string    `json:"message_id"      bson:"message_id"`
	Kind           SavedKind `json:"kind"            bson:"kind"`
	CreatedAt      time.Time `json:"created_at"      bson:"created_at"`
}
