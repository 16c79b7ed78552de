// Package archiver owns the live/archive boundary. The Coordinator is the
// only component that moves messages out of the live window: it archives the
// overflow beyond the configured window size and removes those messages from
// the live store afterwards, in that order, so a crash between the two steps
// leaves duplicates (reconciled by the archive's idempotent writes) rather
// than losing messages.
//
// Concurrency model: one archival run per conversation at a time, enforced
// with a per-conversation mutex. Concurrent triggers for the same
// conversation coalesce: the loser of the lock race returns immediately and
// the winner archives everything currently over the threshold. Runs for
// different conversations proceed in parallel.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
)

// DefaultThreshold is the live window size used when none is configured.
const DefaultThreshold = 50

// State reports whether a conversation currently has an archival run in
// flight.
type State string

const (
	// StateStable means no archival run is in progress for the conversation.
	StateStable State = "stable"
	// StateArchiving means an archival run holds the conversation lock.
	StateArchiving State = "archiving"
)

// Coordinator moves live-window overflow into the archive store.
type Coordinator struct {
	Live    livestore.Store
	Archive archivestore.Store

	// Threshold is the maximum live window size. Zero means
	// DefaultThreshold.
	Threshold int

	// MaxRetries bounds transient-failure retries of the archive write.
	// Zero means 3. Integrity violations are never retried.
	MaxRetries uint64

	// InitialBackoff seeds the exponential retry interval. Zero means the
	// backoff package default; tests shrink it to keep runs fast.
	InitialBackoff time.Duration

	locks    sync.Map // conversationID -> *sync.Mutex
	inflight sync.Map // conversationID -> struct{}
}

func (c *Coordinator) threshold() int {
	if c.Threshold > 0 {
		return c.Threshold
	}
	return DefaultThreshold
}

func (c *Coordinator) lockFor(conversationID string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// State reports the conversation's archival state.
func (c *Coordinator) State(conversationID string) State {
	if _, ok := c.inflight.Load(conversationID); ok {
		return StateArchiving
	}
	return StateStable
}

// MaybeArchive archives the conversation's overflow, if any, and returns the
// number of messages moved. When the window is at or under the threshold, or
// another run already holds the conversation lock, it returns 0 without
// touching either store.
func (c *Coordinator) MaybeArchive(ctx context.Context, conversationID string) (int, error) {
	tr := otel.Tracer("archiver/Coordinator")
	ctx, span := tr.Start(ctx, "MaybeArchive",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	mu := c.lockFor(conversationID)
	if !mu.TryLock() {
		// A run is already in flight; it will pick up the overflow.
		return 0, nil
	}
	c.inflight.Store(conversationID, struct{}{})
	defer func() {
		c.inflight.Delete(conversationID)
		mu.Unlock()
	}()

	count, err := c.Live.Count(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("count live window: %w", err)
	}
	overflow := int(count) - c.threshold()
	if overflow <= 0 {
		return 0, nil
	}

	window, err := c.Live.Window(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("load live window: %w", err)
	}
	// The window is in canonical ascending order; the overflow is its
	// oldest prefix. Recompute against the loaded window in case the
	// count moved between the two reads.
	if overflow = len(window) - c.threshold(); overflow <= 0 {
		return 0, nil
	}
	batch := window[:overflow]

	if err := c.archiveWithRetry(ctx, conversationID, batch); err != nil {
		archiveFailures.Inc()
		span.RecordError(err)
		log.Error().Err(err).
			Str("conversation_id", conversationID).
			Int("batch_size", len(batch)).
			Msg("archive write failed")
		return 0, err
	}

	ids := make([]string, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	if err := c.Live.Remove(ctx, conversationID, ids); err != nil {
		// The batch is safely archived; the live copies will be swept by
		// the next run (the archive write is idempotent).
		archiveFailures.Inc()
		span.RecordError(err)
		log.Error().Err(err).
			Str("conversation_id", conversationID).
			Msg("live window trim failed after archive")
		return 0, fmt.Errorf("trim live window: %w", err)
	}

	archiveBatches.Inc()
	archivedMessages.Add(float64(len(batch)))
	log.Info().
		Str("conversation_id", conversationID).
		Int("archived", len(batch)).
		Int("window", c.threshold()).
		Msg("archived live window overflow")
	return len(batch), nil
}

// archiveWithRetry writes the batch with exponential backoff on transient
// failures. Integrity violations abort immediately.
func (c *Coordinator) archiveWithRetry(ctx context.Context, conversationID string, batch []domain.Message) error {
	retries := c.MaxRetries
	if retries == 0 {
		retries = 3
	}
	bo := backoff.NewExponentialBackOff()
	if c.InitialBackoff > 0 {
		bo.InitialInterval = c.InitialBackoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)

	return backoff.Retry(func() error {
		err := c.Archive.Archive(ctx, conversationID, batch)
		if errors.Is(err, archivestore.ErrIntegrity) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
