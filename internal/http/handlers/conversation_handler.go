// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST   /conversations                        (create, with direct-thread reuse)
//   - GET    /conversations                        (list for the current user)
//   - GET    /conversations/{id}                   (fetch one)
//   - GET    /conversations/{id}/status            (per-user status row)
//   - DELETE /conversations/{id}                   (hide for the current user)
//   - POST   /conversations/{id}/unhide            (restore)
//   - PUT    /conversations/{id}/pin               (pin/unpin)
//   - PUT    /conversations/{id}/mute              (mute/unmute)
//   - POST   /conversations/{id}/unread/recompute  (rebuild the unread counter)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/services"
	"github.com/KRushton218/swift-send-backend/internal/sysutil"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConversationService interface {
	// Create starts a conversation, reusing an existing direct thread when
	// one already covers the same participant set.
	Create(ctx context.Context, creatorID string, in services.CreateConversationInput) (*domain.Conversation, error)
	// Get returns a conversation the user is a member of.
	Get(ctx context.Context, userID, conversationID string) (*domain.Conversation, error)
	// List returns the user's visible conversations, most active first.
	List(ctx context.Context, userID string) ([]domain.Conversation, error)
	// Status returns the per-user status row for a conversation.
	Status(ctx context.Context, userID, conversationID string) (*domain.UserConversationStatus, error)
	// Hide removes the conversation from the user's list without affecting
	// other members.
	Hide(ctx context.Context, userID, conversationID string) error
	// Unhide restores a previously hidden conversation.
	Unhide(ctx context.Context, userID, conversationID string) error
	// SetPinned toggles the user's pin flag.
	SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error
	// SetMuted toggles the user's mute flag.
	SetMuted(ctx context.Context, userID, conversationID string, muted bool) error
	// RecomputeUnread recounts unread messages from stored state and
	// persists the corrected counter.
	RecomputeUnread(ctx context.Context, userID, conversationID string) (int64, error)
}

// MessageService defines message persistence and retrieval operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send validates and commits a message, then runs the post-commit fan-out.
	Send(ctx context.Context, userID, conversationID string, in services.SendInput) (*domain.Message, error)
	// History returns the live window (zero cursor) or an archive page
	// strictly older than the cursor, oldest first.
	History(ctx context.Context, userID, conversationID string, before time.Time) ([]domain.Message, error)
	// MarkDelivered records a delivery receipt for the user.
	MarkDelivered(ctx context.Context, userID, conversationID, messageID string) error
	// MarkRead records a read receipt and advances the user's read marker.
	MarkRead(ctx context.Context, userID, conversationID, messageID string) error
	// DeleteForUser removes a message from the user's view only.
	DeleteForUser(ctx context.Context, userID, conversationID, messageID string) error
	// SetTyping publishes the user's typing state.
	SetTyping(ctx context.Context, userID, conversationID string, typing bool) error
	// Typing returns the ids of members currently typing, excluding the asker.
	Typing(ctx context.Context, userID, conversationID string) ([]string, error)
	// Star bookmarks a message for the user.
	Star(ctx context.Context, userID, conversationID, messageID string) error
	// Unstar removes the user's bookmark.
	Unstar(ctx context.Context, userID, conversationID, messageID string) error
	// ListSaved returns the user's starred or mentioned records, newest first.
	ListSaved(ctx context.Context, userID string, kind domain.SavedKind) ([]domain.SavedMessage, error)
}

// InsightService answers natural-language questions over conversation history.
type InsightService interface {
	Answer(ctx context.Context, userID, conversationID, query string) (*services.Insight, error)
}

// TranslationService translates message text on demand.
type TranslationService interface {
	Translate(ctx context.Context, messageID, text, targetLanguage string) (*services.TranslationResult, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversations, messages, insights, and
// translation. It depends on abstract service interfaces to keep transport
// concerns separate from business logic. The gorm handle backs the
// idempotency ledger only.
type Handlers struct {
	convSvc    ConversationService
	msgSvc     MessageService
	insightSvc InsightService
	transSvc   TranslationService

	db      *gorm.DB
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
// db may be nil, which disables Idempotency-Key replay bookkeeping.
func New(convSvc ConversationService, msgSvc MessageService, insightSvc InsightService, transSvc TranslationService, db *gorm.DB, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{
		convSvc:    convSvc,
		msgSvc:     msgSvc,
		insightSvc: insightSvc,
		transSvc:   transSvc,
		db:         db,
		idemTTL:    idemTTL,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	var hdr string
	if c != nil && c.Request != nil {
		hdr = strings.TrimSpace(c.GetHeader("X-User-ID"))
	}
	return sysutil.FirstNonEmpty(hdr, "demo-user")
}

//
// DTOs
//

// MemberDetailInput is denormalized member display data supplied at create time.
type MemberDetailInput struct {
	DisplayName string `json:"display_name" example:"Alice"`
	PhotoURL    string `json:"photo_url,omitempty" example:"https://cdn.example.com/alice.png"`
}

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// Type is "direct" or "group"; empty defaults to "direct".
	Type string `json:"type" example:"group"`
	// Name optionally sets the display name (groups).
	Name string `json:"name" example:"Weekend plans"`
	// MemberIDs lists the participants. The creator is always included.
	MemberIDs []string `json:"member_ids" binding:"required,min=1"`
	// MemberDetails optionally carries display data keyed by member id.
	MemberDetails map[string]MemberDetailInput `json:"member_details,omitempty"`
}

// ListConversationsResponse wraps the user's visible conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
}

// SetPinnedRequest is the JSON payload for pinning a conversation.
type SetPinnedRequest struct {
	Pinned bool `json:"pinned"`
}

// SetMutedRequest is the JSON payload for muting a conversation.
type SetMutedRequest struct {
	Muted bool `json:"muted"`
}

// UnreadCountResponse carries a recomputed unread counter.
type UnreadCountResponse struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int64  `json:"unread_count"`
}

//
// Helpers
//

// convErr translates conversation service sentinels into HTTP failures.
// It returns true when the error was handled.
func convErr(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrNotAMember):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not a conversation member")
	case errors.Is(err, services.ErrInvalidMembership):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid conversation membership")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
	return true
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a conversation
// @Description Creates a conversation for the current user. Creating a direct
// @Description conversation over an existing participant set returns the
// @Description existing thread instead of a duplicate.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateConversationRequest  true  "Create conversation payload"
//
// @Success     201  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "member_ids required")
		return
	}

	in := services.CreateConversationInput{
		Type:      domain.ConversationType(strings.TrimSpace(req.Type)),
		Name:      strings.TrimSpace(req.Name),
		MemberIDs: req.MemberIDs,
	}
	if len(req.MemberDetails) > 0 {
		in.MemberDetails = make(map[string]domain.MemberDetail, len(req.MemberDetails))
		for id, d := range req.MemberDetails {
			in.MemberDetails[id] = domain.MemberDetail{
				DisplayName: strings.TrimSpace(d.DisplayName),
				PhotoURL:    d.PhotoURL,
			}
		}
	}

	conv, err := h.convSvc.Create(c.Request.Context(), userID(c), in)
	if err != nil {
		if errors.Is(err, services.ErrInvalidMembership) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid conversation membership")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Returns the user's visible conversations ordered by most
// @Description recent activity. Hidden conversations are omitted.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	convs, err := h.convSvc.List(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: convs})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch a conversation
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
//
// @Success     200  {object} domain.Conversation
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	conv, err := h.convSvc.Get(c.Request.Context(), userID(c), c.Param("id"))
	if convErr(c, err) {
		return
	}
	ok(c, http.StatusOK, conv)
}

// GetConversationStatus godoc
// @ID          getConversationStatus
// @Summary     Fetch the per-user conversation status
// @Description Returns the caller's unread counter, read marker, and
// @Description pin/mute/hide flags for the conversation.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
//
// @Success     200  {object} domain.UserConversationStatus
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/status [get]
func (h *Handlers) GetConversationStatus(c *gin.Context) {
	st, err := h.convSvc.Status(c.Request.Context(), userID(c), c.Param("id"))
	if convErr(c, err) {
		return
	}
	ok(c, http.StatusOK, st)
}

// HideConversation godoc
// @ID          hideConversation
// @Summary     Hide a conversation for the current user
// @Description Removes the conversation from the caller's list. Other members
// @Description keep their view; new activity makes it reappear.
// @Tags        Conversations
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [delete]
func (h *Handlers) HideConversation(c *gin.Context) {
	if convErr(c, h.convSvc.Hide(c.Request.Context(), userID(c), c.Param("id"))) {
		return
	}
	noContent(c)
}

// UnhideConversation godoc
// @ID          unhideConversation
// @Summary     Restore a hidden conversation
// @Tags        Conversations
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/unhide [post]
func (h *Handlers) UnhideConversation(c *gin.Context) {
	if convErr(c, h.convSvc.Unhide(c.Request.Context(), userID(c), c.Param("id"))) {
		return
	}
	noContent(c)
}

// SetPinned godoc
// @ID          setConversationPinned
// @Summary     Pin or unpin a conversation
// @Tags        Conversations
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       body       body    handlers.SetPinnedRequest  true  "Pin payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/pin [put]
func (h *Handlers) SetPinned(c *gin.Context) {
	var req SetPinnedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if convErr(c, h.convSvc.SetPinned(c.Request.Context(), userID(c), c.Param("id"), req.Pinned)) {
		return
	}
	noContent(c)
}

// SetMuted godoc
// @ID          setConversationMuted
// @Summary     Mute or unmute a conversation
// @Tags        Conversations
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
// @Param       body       body    handlers.SetMutedRequest  true  "Mute payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/mute [put]
func (h *Handlers) SetMuted(c *gin.Context) {
	var req SetMutedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if convErr(c, h.convSvc.SetMuted(c.Request.Context(), userID(c), c.Param("id"), req.Muted)) {
		return
	}
	noContent(c)
}

// RecomputeUnread godoc
// @ID          recomputeUnread
// @Summary     Recompute the unread counter
// @Description Recounts unread messages from stored live and archived state
// @Description and persists the corrected counter. Used by clients to heal a
// @Description drifted badge.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID"
//
// @Success     200  {object} handlers.UnreadCountResponse
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/unread/recompute [post]
func (h *Handlers) RecomputeUnread(c *gin.Context) {
	conversationID := c.Param("id")
	n, err := h.convSvc.RecomputeUnread(c.Request.Context(), userID(c), conversationID)
	if convErr(c, err) {
		return
	}
	ok(c, http.StatusOK, UnreadCountResponse{ConversationID: conversationID, UnreadCount: n})
}
