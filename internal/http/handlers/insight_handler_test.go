package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/genai"
	"github.com/KRushton218/swift-send-backend/internal/services"
)

func TestAskInsight_Success(t *testing.T) {
	f := newFixture(t)
	f.h.insightSvc = stubInsightSvc{res: &services.Insight{
		Answer: "You agreed on 7pm.",
		Supporting: []services.SupportingMessage{
			{MessageID: "m1", SenderName: "Bob", Text: "7pm works", Score: 0.91},
		},
	}}

	w := f.do(t, http.MethodPost, "/conversations/c1/insights", "alice", InsightRequest{Query: "when do we meet?"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("insight = %d body=%s", w.Code, w.Body.String())
	}
	var ins services.Insight
	if err := json.Unmarshal(w.Body.Bytes(), &ins); err != nil {
		t.Fatalf("body: %s", w.Body.String())
	}
	if ins.Answer != "You agreed on 7pm." || len(ins.Supporting) != 1 || ins.Supporting[0].MessageID != "m1" {
		t.Fatalf("unexpected insight: %+v", ins)
	}
}

func TestAskInsight_ErrorMapping(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not a member", services.ErrNotAMember, http.StatusForbidden},
		{"unknown conversation", services.ErrConversationNotFound, http.StatusNotFound},
		{"generation failed", fmt.Errorf("%w: embed query: boom", services.ErrInsightGenerationFailed), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.h.insightSvc = stubInsightSvc{err: tc.err}
			w := f.do(t, http.MethodPost, "/conversations/c1/insights", "alice", InsightRequest{Query: "q"}, nil)
			if w.Code != tc.want {
				t.Fatalf("got %d want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}

	// Empty query never reaches the service.
	f.h.insightSvc = stubInsightSvc{err: services.ErrInsightGenerationFailed}
	if w := f.do(t, http.MethodPost, "/conversations/c1/insights", "alice", map[string]any{"query": "   "}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("blank query = %d", w.Code)
	}
}

func TestAskInsight_RateLimitSetsRetryAfter(t *testing.T) {
	f := newFixture(t)
	f.h.insightSvc = stubInsightSvc{err: &genai.RateLimitError{RetryAfter: 9 * time.Second}}

	w := f.do(t, http.MethodPost, "/conversations/c1/insights", "alice", InsightRequest{Query: "q"}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("rate limited = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "9" {
		t.Fatalf("Retry-After = %q", got)
	}
}
