// Message HTTP handlers.
//
// This file exposes REST endpoints for conversation messages:
//   - POST   /conversations/{id}/messages                  (send a message)
//   - GET    /conversations/{id}/messages                  (live window or archive page)
//   - POST   /conversations/{id}/messages/{mid}/delivered  (delivery receipt)
//   - POST   /conversations/{id}/messages/{mid}/read       (read receipt)
//   - DELETE /conversations/{id}/messages/{mid}            (delete for current user)
//   - PUT    /conversations/{id}/messages/{mid}/star       (star for current user)
//   - DELETE /conversations/{id}/messages/{mid}/star       (unstar)
//   - GET    /saved-messages                               (starred/mentioned records)
//   - PUT    /conversations/{id}/typing                    (publish typing state)
//   - GET    /conversations/{id}/typing                    (who is typing)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (MessageService)
//   - implement idempotency semantics for sends
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, conversation, key), the handler re-sends under the
// recorded message id — the live store deduplicates by id, so the stored
// message is returned unchanged — and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/repo"
	"github.com/KRushton218/swift-send-backend/internal/services"
	"github.com/KRushton218/swift-send-backend/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
//
// Text is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer. The service also enforces a
// maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// MessageID is the client-generated message id. It is preserved as the
	// message's canonical identity; when empty the server assigns one.
	MessageID string `json:"message_id" example:"9f4c1b2a-4c3d-8e9f-0123-456789abcdef"`
	// Text is the message body. It must be non-empty after normalization.
	Text string `json:"text" binding:"required,min=1" example:"See you at 7?"`
	// Type is one of text, image, video, file, actionItem, system; empty
	// defaults to text.
	Type string `json:"type" example:"text"`
	// SenderName is the display name recorded on the message.
	SenderName string `json:"sender_name" example:"Alice"`
	// Mentions lists member ids mentioned in the text; each gets a
	// per-user mention record. Non-members are ignored.
	Mentions []string `json:"mentions,omitempty" example:"user456"`
}

// PostMessageResponse is the JSON envelope for a committed message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// HistoryResponse contains one page of conversation history, oldest first,
// and the cursor to request the next older page.
type HistoryResponse struct {
	Messages []domain.Message `json:"messages"`
	// NextBefore is the created_at of the oldest returned message; pass it
	// as ?before= to page further into the archive. Empty when no messages
	// were returned.
	NextBefore string `json:"next_before,omitempty"`
}

// SetTypingRequest is the JSON payload for publishing typing state.
type SetTypingRequest struct {
	Typing bool `json:"typing"`
}

// TypingResponse lists members currently typing, excluding the caller.
type TypingResponse struct {
	UserIDs []string `json:"user_ids"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxTextRunes inspects the concrete MessageService for a configured
// text-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxTextRunes(msgSvc MessageService) int {
	const fallback = 4000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxTextRunes > 0 {
			return ms.MaxTextRunes
		}
	}
	return fallback
}

// msgErr translates message service sentinels into HTTP failures.
// It returns true when the error was handled.
func msgErr(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrNotAMember):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not a conversation member")
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
	return true
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Commits a message to the conversation's live window and runs
// @Description the post-commit fan-out (previews, unread counters, events).
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Sending user ID"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Conversation ID"
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Committed message"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse        "Not a member"
// @Failure     404  {object}  handlers.ErrorResponse        "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	text := sanitizeText(req.Text)
	maxRunes := discoverMaxTextRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("text too long: max %d runes", maxRunes))
		return
	}
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	currentUser := userID(c)
	in := services.SendInput{
		MessageID:  strings.TrimSpace(req.MessageID),
		Text:       text,
		Type:       domain.MessageType(strings.TrimSpace(req.Type)),
		SenderName: strings.TrimSpace(req.SenderName),
		Mentions:   req.Mentions,
	}

	// Idempotency (replay path) – pin the message id to the recorded one so
	// the live store returns the stored message verbatim.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	replayed := false
	if idemKey != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, currentUser, conversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			in.MessageID = rec.MessageID
			replayed = true
		}
	}

	m, err := h.msgSvc.Send(ctx, currentUser, conversationID, in)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrNotAMember):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a conversation member")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("text too long: max %d runes", maxRunes))
		case errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		case errors.Is(err, services.ErrInvalidMessageType):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unsupported message type")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.db != nil && !replayed {
		_, _ = repo.CreateIdempotency(ctx, h.db, currentUser, conversationID, idemKey, m.ID, http.StatusCreated, h.idemTTL)
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// History godoc
// @ID          conversationHistory
// @Summary     Read conversation history
// @Description Without a cursor, returns the live window (newest messages),
// @Description oldest first. With ?before=<RFC3339>, returns the archive page
// @Description strictly older than the cursor. Messages deleted for the
// @Description caller are omitted.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       before     query   string  false "RFC3339 cursor; return messages strictly older"  example(2026-08-01T12:00:00Z)
// @Param       limit      query   int     false "Cap the page to the newest N messages"  example(20)
//
// @Success     200  {object} handlers.HistoryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad cursor"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) History(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	var before time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "before must be RFC3339")
			return
		}
		before = t
	}

	msgs, err := h.msgSvc.History(ctx, userID(c), conversationID, before)
	if msgErr(c, err) {
		return
	}

	// Optional client-side cap: keep the newest N of the page.
	if limit := utils.AtoiDefault(c.Query("limit"), 0); limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	resp := HistoryResponse{Messages: msgs}
	if resp.Messages == nil {
		resp.Messages = []domain.Message{}
	}
	if len(msgs) > 0 {
		resp.NextBefore = msgs[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	ok(c, http.StatusOK, resp)
}

// MarkDelivered godoc
// @ID          markDelivered
// @Summary     Record a delivery receipt
// @Description Marks the message delivered to the current user. Receipts for
// @Description messages already swept to the archive are acknowledged without
// @Description effect.
// @Tags        Messages
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       mid        path    string  true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages/{mid}/delivered [post]
func (h *Handlers) MarkDelivered(c *gin.Context) {
	if msgErr(c, h.msgSvc.MarkDelivered(c.Request.Context(), userID(c), c.Param("id"), c.Param("mid"))) {
		return
	}
	noContent(c)
}

// MarkRead godoc
// @ID          markRead
// @Summary     Record a read receipt
// @Description Marks the message read by the current user and advances the
// @Description caller's read marker, resetting the unread counter.
// @Tags        Messages
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       mid        path    string  true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages/{mid}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	if msgErr(c, h.msgSvc.MarkRead(c.Request.Context(), userID(c), c.Param("id"), c.Param("mid"))) {
		return
	}
	noContent(c)
}

// DeleteMessageForUser godoc
// @ID          deleteMessageForUser
// @Summary     Delete a message for the current user
// @Description Hides the message from the caller's view only; other members
// @Description still see it.
// @Tags        Messages
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       mid        path    string  true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /conversations/{id}/messages/{mid} [delete]
func (h *Handlers) DeleteMessageForUser(c *gin.Context) {
	if msgErr(c, h.msgSvc.DeleteForUser(c.Request.Context(), userID(c), c.Param("id"), c.Param("mid"))) {
		return
	}
	noContent(c)
}

// SetTyping godoc
// @ID          setTyping
// @Summary     Publish typing state
// @Description Marks the current user as typing (with a short server-side
// @Description TTL) or clears the flag.
// @Tags        Messages
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       body       body    handlers.SetTypingRequest  true  "Typing payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Router      /conversations/{id}/typing [put]
func (h *Handlers) SetTyping(c *gin.Context) {
	var req SetTypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if msgErr(c, h.msgSvc.SetTyping(c.Request.Context(), userID(c), c.Param("id"), req.Typing)) {
		return
	}
	noContent(c)
}

// Typing godoc
// @ID          typing
// @Summary     List members currently typing
// @Description Returns member ids with a live typing flag, excluding the caller.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
//
// @Success     200  {object} handlers.TypingResponse
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Router      /conversations/{id}/typing [get]
func (h *Handlers) Typing(c *gin.Context) {
	ids, err := h.msgSvc.Typing(c.Request.Context(), userID(c), c.Param("id"))
	if msgErr(c, err) {
		return
	}
	if ids == nil {
		ids = []string{}
	}
	ok(c, http.StatusOK, TypingResponse{UserIDs: ids})
}

// SavedMessagesResponse lists per-user saved-message records, newest first.
type SavedMessagesResponse struct {
	Records []domain.SavedMessage `json:"records"`
}

// StarMessage godoc
// @ID          starMessage
// @Summary     Star a message
// @Description Bookmarks the message for the current user. Starring an
// @Description already-starred message is a no-op.
// @Tags        Messages
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       mid        path    string  true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages/{mid}/star [put]
func (h *Handlers) StarMessage(c *gin.Context) {
	if msgErr(c, h.msgSvc.Star(c.Request.Context(), userID(c), c.Param("id"), c.Param("mid"))) {
		return
	}
	noContent(c)
}

// UnstarMessage godoc
// @ID          unstarMessage
// @Summary     Unstar a message
// @Description Removes the caller's bookmark; unstarring an unstarred
// @Description message is a no-op.
// @Tags        Messages
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       mid        path    string  true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages/{mid}/star [delete]
func (h *Handlers) UnstarMessage(c *gin.Context) {
	if msgErr(c, h.msgSvc.Unstar(c.Request.Context(), userID(c), c.Param("id"), c.Param("mid"))) {
		return
	}
	noContent(c)
}

// ListSavedMessages godoc
// @ID          listSavedMessages
// @Summary     List the caller's saved-message records
// @Description Returns the caller's starred or mentioned records across all
// @Description conversations, newest first. ?kind= selects the record type
// @Description and defaults to starred.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       kind       query   string  false "Record kind: starred or mentioned"  example(starred)
//
// @Success     200  {object} handlers.SavedMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Unknown kind"
// @Router      /saved-messages [get]
func (h *Handlers) ListSavedMessages(c *gin.Context) {
	kind := domain.SavedKind(strings.TrimSpace(c.Query("kind")))
	if kind == "" {
		kind = domain.SavedKindStarred
	}
	recs, err := h.msgSvc.ListSaved(c.Request.Context(), userID(c), kind)
	if errors.Is(err, services.ErrInvalidSavedKind) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "kind must be starred or mentioned")
		return
	}
	if msgErr(c, err) {
		return
	}
	if recs == nil {
		recs = []domain.SavedMessage{}
	}
	ok(c, http.StatusOK, SavedMessagesResponse{Records: recs})
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}
