// Package services – Embedder
//
// This file implements the background embedding pipeline. Sends enqueue
// their message here and move on; a bounded worker pool embeds the text,
// upserts the vector (idempotent by vector id), and records the embedding
// id back on the live message. Embedding is strictly best-effort: a full
// queue drops the message with a warning rather than applying backpressure
// to sends, and a message that ages into the archive before its embedding
// lands is tolerated.
package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
	"github.com/KRushton218/swift-send-backend/internal/vectorindex"
)

// Embedder runs the background embedding worker pool.
type Embedder struct {
	Model   ModelClient
	Vectors VectorIndex
	Live    livestore.Store

	// Workers defaults to 2.
	Workers int

	// QueueSize defaults to 256.
	QueueSize int

	queue chan domain.Message
	wg    sync.WaitGroup
	once  sync.Once
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Close is called after the queue drains.
func (e *Embedder) Start(ctx context.Context) {
	e.once.Do(func() {
		size := e.QueueSize
		if size <= 0 {
			size = 256
		}
		e.queue = make(chan domain.Message, size)

		workers := e.Workers
		if workers <= 0 {
			workers = 2
		}
		for i := 0; i < workers; i++ {
			e.wg.Add(1)
			go e.run(ctx)
		}
	})
}

// Enqueue implements EmbedQueue. It never blocks; a full queue drops the
// message and reports false.
func (e *Embedder) Enqueue(msg domain.Message) bool {
	if e.queue == nil {
		return false
	}
	select {
	case e.queue <- msg:
		return true
	default:
		return false
	}
}

// Close stops intake and waits for in-flight work to finish.
func (e *Embedder) Close() {
	if e.queue != nil {
		close(e.queue)
	}
	e.wg.Wait()
}

func (e *Embedder) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.queue:
			if !ok {
				return
			}
			e.embed(ctx, msg)
		}
	}
}

func (e *Embedder) embed(ctx context.Context, msg domain.Message) {
	vec, err := e.Model.Embed(ctx, msg.Text)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("message embedding failed")
		return
	}

	id := vectorindex.VectorID(msg.ConversationID, msg.ID)
	err = e.Vectors.Upsert(ctx, []vectorindex.Vector{{
		ID:     id,
		Values: vec,
		Metadata: vectorindex.Metadata{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			SenderID:       msg.SenderID,
			SenderName:     msg.SenderName,
			Text:           msg.Text,
			CreatedAt:      msg.CreatedAt,
		},
	}})
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("vector upsert failed")
		return
	}

	// The message may have been archived since; SetEmbeddingID tolerates
	// that.
	if err := e.Live.SetEmbeddingID(ctx, msg.ConversationID, msg.ID, id); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("embedding id write-back failed")
	}
}
