// Shared dependency contracts for the service layer. Services depend on
// these narrow interfaces rather than the concrete clients so tests can
// substitute stubs.
package services

import (
	"context"

	"github.com/KRushton218/swift-send-backend/internal/genai"
	"github.com/KRushton218/swift-send-backend/internal/vectorindex"
)

// ModelClient is the slice of the model API the services use.
type ModelClient interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ChatComplete runs one completion and returns the reply text.
	ChatComplete(ctx context.Context, systemPrompt string, messages []genai.ChatMessage) (string, error)
}

// VectorIndex is the slice of the vector index the services use.
type VectorIndex interface {
	Upsert(ctx context.Context, vectors []vectorindex.Vector) error
	Query(ctx context.Context, vector []float32, topK int, conversationID string) ([]vectorindex.Match, error)
	DeleteMany(ctx context.Context, ids []string) error
	DeleteByConversation(ctx context.Context, conversationID string) error
}

// Archiver triggers live-window overflow archival after a send.
type Archiver interface {
	MaybeArchive(ctx context.Context, conversationID string) (int, error)
}
