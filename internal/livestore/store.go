// Package livestore implements the mutable, low-latency store holding the
// most recent window of each conversation's messages, together with
// per-recipient delivery/read receipts and ephemeral typing indicators.
//
// Two implementations share one contract: RedisStore for deployments and
// MemoryStore for tests and local development. Semantics that matter to
// callers are identical in both:
//
//   - Append assigns the server timestamp and seeds receipts; it is an
//     independent insert, so concurrent senders never overwrite each other.
//   - Receipt updates are idempotent, commutative, and strictly monotonic
//     (pending < sent < delivered < read); a late "delivered" can never
//     revert an earlier "read".
//   - Window ordering is deterministic: CreatedAt ascending, message id
//     lexical ascending on ties. Every observer sees the same sequence.
//   - Typing state expires server-side after TypingTTL regardless of
//     client liveness; a crashed client cannot leave a stuck indicator.
//   - Remove exists solely for the archival coordinator, which is the only
//     component allowed to move messages across the live/archive boundary.
package livestore

import (
	"context"
	"errors"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// TypingTTL is the server-enforced lifetime of a typing indicator.
const TypingTTL = 5 * time.Second

var (
	// ErrNotAMember is returned by Append when the sender is not part of
	// the conversation membership.
	ErrNotAMember = errors.New("sender is not a conversation member")

	// ErrMessageNotFound is returned when the referenced message is not in
	// the live window (it may have been archived).
	ErrMessageNotFound = errors.New("message not found in live store")
)

// Store is the live message store contract.
type Store interface {
	// Append inserts msg into the conversation's live window. The server
	// timestamp is assigned here; the caller-supplied (client-generated)
	// message id is preserved as canonical identity. Delivery state is
	// seeded to sent for the sender and pending for every other member,
	// and the sender's read receipt is recorded. Re-appending an id that
	// already exists is a no-op that loads the committed copy back into
	// msg, which makes optimistic-send retries safe.
	Append(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error

	// Window returns the full current live window in canonical order.
	Window(ctx context.Context, conversationID string) ([]domain.Message, error)

	// Count returns the number of messages in the live window.
	Count(ctx context.Context, conversationID string) (int64, error)

	// Get returns a single live message or ErrMessageNotFound.
	Get(ctx context.Context, conversationID, messageID string) (*domain.Message, error)

	// MarkDelivered records a delivery receipt for userID. Idempotent and
	// monotonic: it never downgrades an existing state.
	MarkDelivered(ctx context.Context, conversationID, messageID, userID string, at time.Time) error

	// MarkRead records a read receipt for userID. Read implies delivered;
	// the first read timestamp wins on repeats.
	MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) error

	// DeleteForUser adds a per-user tombstone to a live message.
	DeleteForUser(ctx context.Context, conversationID, messageID, userID string) error

	// SetDeleted flags a live message as globally deleted (soft delete;
	// the row is retained).
	SetDeleted(ctx context.Context, conversationID, messageID string) error

	// SetEmbeddingID records the vector index id after embedding. Missing
	// messages are tolerated: the message may have been archived since.
	SetEmbeddingID(ctx context.Context, conversationID, messageID, embeddingID string) error

	// Remove deletes messages from the live window. Reserved for the
	// archival coordinator after a confirmed archive write.
	Remove(ctx context.Context, conversationID string, messageIDs []string) error

	// SetTyping sets or clears the typing indicator for userID.
	SetTyping(ctx context.Context, conversationID, userID string, typing bool) error

	// Typing lists users currently typing in the conversation.
	Typing(ctx context.Context, conversationID string) ([]string, error)

	// Observe subscribes to the conversation. The subscription receives
	// the full current window immediately and again after every mutation.
	// Slow consumers only ever lag by one snapshot: stale snapshots are
	// replaced, not queued.
	Observe(ctx context.Context, conversationID string) (*Subscription, error)
}

// Subscription is a cancellable handle on a conversation's window stream.
type Subscription struct {
	// C delivers window snapshots in canonical order. It is closed after
	// Cancel or when the backing subscription terminates.
	C <-chan []domain.Message

	cancel func()
}

// Cancel detaches the subscription and releases its resources. Safe to
// call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// seedReceipts initializes receipts for a freshly appended message:
// sender=sent, every other member=pending, sender read timestamp recorded.
func seedReceipts(conv *domain.Conversation, msg *domain.Message, now time.Time) {
	msg.DeliveryStatus = make(map[string]domain.DeliveryReceipt, len(conv.MemberIDs))
	for _, member := range conv.MemberIDs {
		state := domain.DeliveryPending
		if member == msg.SenderID {
			state = domain.DeliverySent
		}
		msg.DeliveryStatus[member] = domain.DeliveryReceipt{State: state, Timestamp: now}
	}
	msg.ReadBy = map[string]time.Time{msg.SenderID: now}
}
