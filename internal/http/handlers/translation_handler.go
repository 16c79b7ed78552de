// Translation HTTP handlers.
//
// This file exposes the REST endpoint for on-demand message translation:
//   - POST /messages/{id}/translation  (translate message text)
//
// Translation is derived, cached state: repeated requests for the same
// (message, target language) pair are served from the cache without touching
// the model API. Upstream rate limits surface as 429 with a Retry-After hint.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KRushton218/swift-send-backend/internal/genai"
	"github.com/KRushton218/swift-send-backend/internal/services"
)

// TranslateRequest is the JSON payload for translating a message.
type TranslateRequest struct {
	// Text is the message body to translate.
	Text string `json:"text" binding:"required,min=1" example:"¿Dónde nos vemos?"`
	// TargetLanguage is a BCP 47 tag such as "en" or "pt-BR".
	TargetLanguage string `json:"target_language" binding:"required,min=2" example:"en"`
}

// Translate godoc
// @ID          translateMessage
// @Summary     Translate a message
// @Description Translates the message text into the target language, detecting
// @Description the source language. Results are cached per (message, target
// @Description language); cache hits cost no model calls.
// @Tags        Translation
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Message ID"
// @Param       body       body    handlers.TranslateRequest  true  "Translation payload"
//
// @Success     200  {object} services.TranslationResult
// @Failure     400  {object} handlers.ErrorResponse "Empty text or invalid target language"
// @Failure     429  {object} handlers.ErrorResponse "Model API rate limited"
// @Failure     502  {object} handlers.ErrorResponse "Malformed model response"
// @Router      /messages/{id}/translation [post]
func (h *Handlers) Translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text and target_language required")
		return
	}

	res, err := h.transSvc.Translate(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Text), req.TargetLanguage)
	if err != nil {
		var rle *genai.RateLimitError
		switch {
		case errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		case errors.Is(err, services.ErrInvalidTargetLanguage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid target language")
		case errors.As(err, &rle):
			retryAfter(c, rle)
			fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "model API rate limited")
		case errors.Is(err, services.ErrMalformedModelResponse):
			fail(c, http.StatusBadGateway, ErrCodeTranslationFailed, "malformed model response")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeTranslationFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, res)
}
