// Package services – InsightService
//
// This file implements retrieval-augmented answering over a single
// conversation's history: embed the query, fetch nearest message vectors
// from the index (scoped to the conversation), drop weak matches, re-rank
// lexically, and ask the model to answer grounded in the surviving
// messages.
//
// An empty retrieval set is an answer, not an error: the user asked about
// something the history does not cover, and the response says so.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/KRushton218/swift-send-backend/internal/directory"
	"github.com/KRushton218/swift-send-backend/internal/genai"
	"github.com/KRushton218/swift-send-backend/internal/search"
)

// DefaultSimilarityThreshold drops vector matches below this cosine score.
const DefaultSimilarityThreshold = 0.75

// DefaultInsightTopK is the number of supporting messages per answer.
const DefaultInsightTopK = 5

// NoRelevantHistoryAnswer is returned when retrieval finds nothing above
// the similarity threshold.
const NoRelevantHistoryAnswer = "I couldn't find anything in this conversation's history related to that."

const insightSystemPrompt = "You answer questions about a chat conversation. " +
	"Use only the conversation excerpts provided; if they do not contain the answer, say so. " +
	"Be concise and do not invent details."

// SupportingMessage is one retrieved message backing an insight answer.
type SupportingMessage struct {
	MessageID  string    `json:"message_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at,omitempty"`
	Score      float64   `json:"score"`
}

// Insight is one generated answer with its supporting evidence.
type Insight struct {
	Answer     string              `json:"answer"`
	Supporting []SupportingMessage `json:"supporting_messages"`
}

// InsightService answers questions over conversation history.
type InsightService struct {
	Directory directory.Directory
	Model     ModelClient
	Vectors   VectorIndex
	Reranker  *search.Reranker

	// SimilarityThreshold defaults to DefaultSimilarityThreshold.
	SimilarityThreshold float64

	// TopK defaults to DefaultInsightTopK.
	TopK int
}

func (s *InsightService) threshold() float64 {
	if s.SimilarityThreshold > 0 {
		return s.SimilarityThreshold
	}
	return DefaultSimilarityThreshold
}

func (s *InsightService) topK() int {
	if s.TopK > 0 {
		return s.TopK
	}
	return DefaultInsightTopK
}

// Answer generates an insight for the user's query over one conversation.
func (s *InsightService) Answer(ctx context.Context, userID, conversationID, query string) (*Insight, error) {
	tr := otel.Tracer("services/InsightService")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if err := s.checkMembership(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	vec, err := s.Model.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrInsightGenerationFailed, err)
	}

	// Over-fetch so the threshold and re-rank have something to cut.
	matches, err := s.Vectors.Query(ctx, vec, s.topK()*2, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: vector query: %v", ErrInsightGenerationFailed, err)
	}

	candidates := make([]search.Candidate, 0, len(matches))
	meta := make(map[string]SupportingMessage, len(matches))
	for _, m := range matches {
		if m.Score < s.threshold() {
			continue
		}
		candidates = append(candidates, search.Candidate{
			ID:         m.ID,
			Text:       m.Metadata.Text,
			Similarity: m.Score,
		})
		meta[m.ID] = SupportingMessage{
			MessageID:  m.Metadata.MessageID,
			SenderName: m.Metadata.SenderName,
			Text:       m.Metadata.Text,
			SentAt:     m.Metadata.CreatedAt,
		}
	}
	if len(candidates) == 0 {
		span.SetAttributes(attribute.Bool("insight.no_matches", true))
		return &Insight{Answer: NoRelevantHistoryAnswer}, nil
	}

	ranked := s.Reranker.Rerank(query, candidates, s.topK())
	supporting := make([]SupportingMessage, 0, len(ranked))
	var excerpts strings.Builder
	for _, r := range ranked {
		sm := meta[r.Candidate.ID]
		sm.Score = r.Score
		supporting = append(supporting, sm)

		name := sm.SenderName
		if name == "" {
			name = "someone"
		}
		// The model needs when as much as who: "when is dinner" is
		// unanswerable from undated excerpts.
		if sm.SentAt.IsZero() {
			fmt.Fprintf(&excerpts, "- %s: %s\n", name, sm.Text)
		} else {
			fmt.Fprintf(&excerpts, "- [%s] %s: %s\n", sm.SentAt.UTC().Format(time.RFC3339), name, sm.Text)
		}
	}

	prompt := fmt.Sprintf("Conversation excerpts:\n%s\nQuestion: %s", excerpts.String(), query)
	answer, err := s.Model.ChatComplete(ctx, insightSystemPrompt,
		[]genai.ChatMessage{{Role: genai.RoleUser, Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("%w: completion: %v", ErrInsightGenerationFailed, err)
	}

	return &Insight{Answer: answer, Supporting: supporting}, nil
}

func (s *InsightService) checkMembership(ctx context.Context, userID, conversationID string) error {
	conv, err := s.Directory.Get(ctx, conversationID)
	if errors.Is(err, directory.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return err
	}
	if !conv.HasMember(userID) {
		return ErrNotAMember
	}
	return nil
}
