// Package genai wraps the hosted model API behind the two calls the rest of
// the system needs: text embedding and chat completion.
//
// The client deliberately does not retry. Rate limits (429) surface as
// *RateLimitError with the upstream Retry-After, because the right response
// differs per caller: the background embedder reschedules its queue, while
// a user-facing translation request fails fast and tells the client when to
// try again. Transient failures likewise bubble up for the caller's retry
// policy.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Chat roles accepted by the completion endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrMalformedResponse is returned when the model API answers 200 with a
// body that does not carry a usable result.
var ErrMalformedResponse = errors.New("malformed model response")

// RateLimitError reports model API quota exhaustion.
type RateLimitError struct {
	// RetryAfter is the upstream-suggested wait, zero when absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("model API rate limited, retry after %s", e.RetryAfter)
	}
	return "model API rate limited"
}

// ChatMessage is one turn of a completion prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to the model API.
type Client struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string

	// Dimension, when set, is enforced on every embedding returned.
	Dimension int

	// HTTPClient defaults to a client with a 30s timeout; completions can
	// be slow.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty embedding input", ErrMalformedResponse)
	}
	req := map[string]any{
		"model": c.EmbeddingModel,
		"input": text,
	}
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding data", ErrMalformedResponse)
	}
	vec := resp.Data[0].Embedding
	if c.Dimension > 0 && len(vec) != c.Dimension {
		return nil, fmt.Errorf("%w: embedding dimension %d, expected %d",
			ErrMalformedResponse, len(vec), c.Dimension)
	}
	return vec, nil
}

// ChatComplete runs one completion over the system prompt and messages and
// returns the assistant's reply text.
func (c *Client) ChatComplete(ctx context.Context, systemPrompt string, messages []ChatMessage) (string, error) {
	prompt := make([]ChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		prompt = append(prompt, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	}
	prompt = append(prompt, messages...)

	req := map[string]any{
		"model":    c.ChatModel,
		"messages": prompt,
	}
	var resp struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty completion", ErrMalformedResponse)
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode model request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model API error: %s: %s", resp.Status, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
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
