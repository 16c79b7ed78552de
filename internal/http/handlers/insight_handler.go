// Insight HTTP handlers.
//
// This file exposes the REST endpoint for retrieval-augmented questions over
// conversation history:
//   - POST /conversations/{id}/insights  (answer a question from history)
//
// Handlers in this file are transport-thin: they validate input, delegate to
// the InsightService, and translate domain/service errors into HTTP results.
// A question with no relevant history is a successful response carrying the
// canned no-history answer, not an error.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KRushton218/swift-send-backend/internal/genai"
	"github.com/KRushton218/swift-send-backend/internal/services"
)

// InsightRequest is the JSON payload for asking a question over history.
type InsightRequest struct {
	// Query is the natural-language question. It must be non-empty.
	Query string `json:"query" binding:"required,min=1" example:"What time did we agree to meet?"`
}

// AskInsight godoc
// @ID          askInsight
// @Summary     Ask a question over conversation history
// @Description Embeds the query, retrieves semantically similar messages from
// @Description this conversation only, and generates a grounded answer with
// @Description supporting messages.
// @Tags        Insights
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       body       body    handlers.InsightRequest  true  "Question payload"
//
// @Success     200  {object} services.Insight
// @Failure     400  {object} handlers.ErrorResponse "Empty query"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     429  {object} handlers.ErrorResponse "Model API rate limited"
// @Failure     502  {object} handlers.ErrorResponse "Insight generation failed"
// @Router      /conversations/{id}/insights [post]
func (h *Handlers) AskInsight(c *gin.Context) {
	var req InsightRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query required")
		return
	}

	ins, err := h.insightSvc.Answer(c.Request.Context(), userID(c), c.Param("id"), req.Query)
	if err != nil {
		var rle *genai.RateLimitError
		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query required")
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrNotAMember):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a conversation member")
		case errors.As(err, &rle):
			retryAfter(c, rle)
			fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "model API rate limited")
		case errors.Is(err, services.ErrInsightGenerationFailed):
			fail(c, http.StatusBadGateway, ErrCodeInsightFailed, "insight generation failed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ins)
}

// retryAfter sets the Retry-After response header from the upstream hint,
// rounded up to whole seconds.
func retryAfter(c *gin.Context, rle *genai.RateLimitError) {
	if rle == nil || rle.RetryAfter <= 0 {
		return
	}
	secs := int((rle.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
}
