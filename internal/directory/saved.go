// Per-user saved-message records: stars and mentions. These live in their
// own persisted namespace next to the directory; they reference messages by
// id and are never touched by the archival path.
package directory

import (
	"context"
	"errors"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// ErrInvalidSavedRecord is returned by Save for a record with a missing
// identifier or an unknown kind.
var ErrInvalidSavedRecord = errors.New("invalid saved message record")

// SavedMessages is the per-user starred/mentioned record store.
type SavedMessages interface {
	// Save upserts the record. Saving the same (user, conversation,
	// message, kind) again is a no-op, so stars and mention fan-out are
	// retry-safe.
	Save(ctx context.Context, rec *domain.SavedMessage) error

	// Delete removes the record; deleting an absent record is a no-op.
	Delete(ctx context.Context, userID, conversationID, messageID string, kind domain.SavedKind) error

	// List returns the user's records of one kind, newest first.
	List(ctx context.Context, userID string, kind domain.SavedKind) ([]domain.SavedMessage, error)
}

func validateSaved(rec *domain.SavedMessage) error {
	if rec.UserID == "" || rec.ConversationID == "" || rec.MessageID == "" || !rec.Kind.Valid() {
		return ErrInvalidSavedRecord
	}
	return nil
}
