// Package archivestore implements the immutable, paginated cold store for
// messages evicted from the live window.
//
// The contract is deliberately narrow: an append-only batch write with
// idempotent retry semantics, and strictly-older-than cursor pagination.
// Archived messages are never mutated here; edits or deletions of archived
// messages are modeled elsewhere as metadata referencing the original.
//
// Idempotency rule for Archive: a message id that is already present with
// identical content is silently skipped (the batch is retry-safe), while an
// id collision with differing content is a fatal integrity violation that
// is never auto-retried and requires manual reconciliation.
package archivestore

import (
	"context"
	"errors"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// ErrIntegrity marks an archive id collision with differing content. It is
// fatal: callers must not retry, only log and escalate.
var ErrIntegrity = errors.New("archive integrity violation: id collision with differing content")

// Store is the archive message store contract.
type Store interface {
	// Archive appends a batch for one conversation. Batch-level idempotent:
	// re-archiving an identical batch is a no-op. Wraps ErrIntegrity when a
	// batch member collides with a stored message of different content.
	Archive(ctx context.Context, conversationID string, batch []domain.Message) error

	// Page returns messages created strictly before the cursor, newest
	// first (CreatedAt descending, message id descending on ties), capped
	// at limit.
	Page(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error)

	// Count returns the number of archived messages for the conversation.
	Count(ctx context.Context, conversationID string) (int64, error)
}

// sortPageDesc orders a page newest-first with the deterministic tie-break
// (CreatedAt descending, then message id descending).
func sortPageDesc(msgs []domain.Message) {
	domain.SortMessages(msgs)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
