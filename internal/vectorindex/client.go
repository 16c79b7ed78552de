// Package vectorindex is a thin HTTP client for the hosted vector index
// that backs semantic retrieval over chat history.
//
// Vector ids are "<conversationID>_<messageID>", which makes Upsert
// idempotent: re-embedding a message overwrites its previous vector instead
// of accumulating duplicates. Queries are always filtered to a single
// conversation so retrieval never crosses a membership boundary.
//
// Transient upstream failures (5xx, transport errors) are retried with
// exponential backoff. Quota exhaustion (429) is not retried here: it is
// surfaced as *RateLimitError carrying the upstream Retry-After so the
// caller decides whether to wait or fail the user-facing request.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
)

// MaxMetadataTextLen caps the message text copied into vector metadata.
// The index is not the system of record; the snippet only has to be large
// enough to build a retrieval prompt from.
const MaxMetadataTextLen = 1000

// RateLimitError reports upstream quota exhaustion.
type RateLimitError struct {
	// RetryAfter is the upstream-suggested wait, zero when absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("vector index rate limited, retry after %s", e.RetryAfter)
	}
	return "vector index rate limited"
}

// truncateText caps s at max bytes, backing off to a rune boundary so the
// stored snippet is always valid UTF-8.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Metadata is the payload stored alongside each vector.
type Metadata struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Vector is one embedding to upsert.
type Vector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// VectorID derives the canonical vector id for a message.
func VectorID(conversationID, messageID string) string {
	return conversationID + "_" + messageID
}

// Match is one query result.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Client talks to the vector index HTTP API.
type Client struct {
	BaseURL string
	APIKey  string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client

	// MaxRetries bounds transient-failure retries per call. Zero means 3.
	MaxRetries uint64

	// InitialBackoff seeds the retry interval; zero uses the backoff
	// package default.
	InitialBackoff time.Duration
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Upsert writes vectors to the index, truncating metadata text first.
func (c *Client) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	trimmed := make([]Vector, len(vectors))
	for i, v := range vectors {
		v.Metadata.Text = truncateText(v.Metadata.Text, MaxMetadataTextLen)
		trimmed[i] = v
	}
	return c.post(ctx, "/vectors/upsert", map[string]any{"vectors": trimmed}, nil)
}

// Query returns the topK nearest vectors within one conversation, scored by
// cosine similarity, best first.
func (c *Client) Query(ctx context.Context, vector []float32, topK int, conversationID string) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
		"filter": map[string]any{
			"conversation_id": map[string]any{"$eq": conversationID},
		},
	}
	var resp struct {
		Matches []Match `json:"matches"`
	}
	if err := c.post(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// DeleteMany removes the identified vectors. Unknown ids are ignored
// upstream, so retries and double-deletes are safe.
func (c *Client) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, "/vectors/delete", map[string]any{"ids": ids}, nil)
}

// DeleteByConversation removes every vector belonging to a conversation.
func (c *Client) DeleteByConversation(ctx context.Context, conversationID string) error {
	req := map[string]any{
		"filter": map[string]any{
			"conversation_id": map[string]any{"$eq": conversationID},
		},
	}
	return c.post(ctx, "/vectors/delete", req, nil)
}

// post sends one JSON request with retry on transient failures and decodes
// the response into out when non-nil.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode vector index request: %w", err)
	}

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
		return c.once(ctx, path, payload, out)
	}, policy)
}

func (c *Client) once(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build vector index request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Api-Key", c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("vector index request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return backoff.Permanent(&RateLimitError{RetryAfter: retryAfter(resp)})
	case resp.StatusCode >= 500:
		return fmt.Errorf("vector index upstream error: %s", resp.Status)
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backoff.Permanent(fmt.Errorf("vector index rejected request: %s: %s", resp.Status, snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode vector index response: %w", err))
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
