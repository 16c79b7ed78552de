package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/genai"
	"github.com/KRushton218/swift-send-backend/internal/vectorindex"
)

// stubModel is a scriptable ModelClient.
type stubModel struct {
	embedCalls atomic.Int32
	chatCalls  atomic.Int32

	embedFn func(text string) ([]float32, error)
	chatFn  func(system string, msgs []genai.ChatMessage) (string, error)
}

func (m *stubModel) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *stubModel) ChatComplete(ctx context.Context, system string, msgs []genai.ChatMessage) (string, error) {
	m.chatCalls.Add(1)
	if m.chatFn != nil {
		return m.chatFn(system, msgs)
	}
	return "stub reply", nil
}

// stubVectors is a recording VectorIndex.
type stubVectors struct {
	mu           sync.Mutex
	upserts      []vectorindex.Vector
	deletedConvs []string

	queryFn   func(conversationID string) ([]vectorindex.Match, error)
	deleteErr error
}

func (v *stubVectors) Upsert(ctx context.Context, vectors []vectorindex.Vector) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.upserts = append(v.upserts, vectors...)
	return nil
}

func (v *stubVectors) Query(ctx context.Context, vec []float32, topK int, conversationID string) ([]vectorindex.Match, error) {
	if v.queryFn != nil {
		return v.queryFn(conversationID)
	}
	return nil, nil
}

func (v *stubVectors) DeleteMany(ctx context.Context, ids []string) error {
	return v.deleteErr
}

func (v *stubVectors) DeleteByConversation(ctx context.Context, conversationID string) error {
	v.mu.Lock()
	v.deletedConvs = append(v.deletedConvs, conversationID)
	v.mu.Unlock()
	return v.deleteErr
}

func (v *stubVectors) upserted() []vectorindex.Vector {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]vectorindex.Vector(nil), v.upserts...)
}

// stubArchiver counts trigger invocations.
type stubArchiver struct {
	calls atomic.Int32
}

func (a *stubArchiver) MaybeArchive(ctx context.Context, conversationID string) (int, error) {
	a.calls.Add(1)
	return 0, nil
}

// recordingQueue captures embed enqueues.
type recordingQueue struct {
	mu   sync.Mutex
	ids  []string
	full bool
}

func (q *recordingQueue) Enqueue(msg domain.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.ids = append(q.ids, msg.ID)
	return true
}

func (q *recordingQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}
