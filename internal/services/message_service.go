// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the message lifecycle: validated sends into the live store, delivery
// and read receipts, merged live/archive history pagination, per-user
// deletion, and typing passthrough.
//
// A send commits to the live store first; everything after that point
// (directory preview, unread fan-out, the committed event, embedding, the
// archival trigger) is follow-up work that must not un-send the message.
// Follow-up failures are logged and swallowed.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include conversation/user identifiers where applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/directory"
	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/events"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
)

// SendInput is one message send request.
type SendInput struct {
	// MessageID is the client-generated id. It is preserved end to end as
	// the message's canonical identity; a blank id gets a server uuid.
	MessageID string

	Text       string
	Type       domain.MessageType
	SenderName string

	// Mentions lists user ids the sender mentioned. Mentioned members get
	// a per-user mention record; non-members and the sender are ignored.
	Mentions []string
}

// EmbedQueue accepts messages for background embedding. Enqueue reports
// whether the message was accepted; a full queue drops the message.
type EmbedQueue interface {
	Enqueue(msg domain.Message) bool
}

// MessageService coordinates message persistence across the live and
// archive stores.
type MessageService struct {
	Live      livestore.Store
	Archive   archivestore.Store
	Directory directory.Directory
	Archiver  Archiver
	Events    events.Publisher
	Embeds    EmbedQueue
	Saved     directory.SavedMessages

	// MaxTextRunes caps message length; zero disables the check.
	MaxTextRunes int

	// HistoryPageSize is the archive page size; zero means 20.
	HistoryPageSize int
}

// Send validates and commits a message, then runs the post-commit fan-out.
func (s *MessageService) Send(ctx context.Context, userID, conversationID string, in SendInput) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, ErrTooLong
	}
	msgType := in.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, ErrInvalidMessageType
	}

	conv, err := s.conversationFor(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:         in.MessageID,
		SenderID:   userID,
		SenderName: in.SenderName,
		Text:       text,
		Type:       msgType,
	}
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}

	if err := s.Live.Append(ctx, conv, msg); err != nil {
		if errors.Is(err, livestore.ErrNotAMember) {
			return nil, ErrNotAMember
		}
		return nil, err
	}

	s.fanOut(ctx, conv, msg, in.Mentions)
	return msg, nil
}

// fanOut runs the post-commit side effects of a send. The message is
// already durable; nothing here may fail the request.
func (s *MessageService) fanOut(ctx context.Context, conv *domain.Conversation, msg *domain.Message, mentions []string) {
	if _, err := s.Directory.UpdateLastMessage(ctx, conv.ID, domain.PreviewOf(msg)); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("last message preview update failed")
	}
	if err := s.Directory.BumpActivity(ctx, conv.ID, conv.MemberIDs, msg.SenderID, msg.CreatedAt); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("unread fan-out failed")
	}

	if s.Events != nil {
		err := s.Events.PublishMessageCommitted(ctx, events.MessageCommitted{
			ConversationID: conv.ID,
			SenderID:       msg.SenderID,
			SenderName:     msg.SenderName,
			Text:           msg.Text,
			IsGroupChat:    conv.Type == domain.ConversationGroup,
		})
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("message event publish failed")
		}
	}

	if s.Saved != nil {
		for _, mentioned := range mentions {
			if mentioned == msg.SenderID || !conv.HasMember(mentioned) {
				continue
			}
			err := s.Saved.Save(ctx, &domain.SavedMessage{
				UserID:         mentioned,
				ConversationID: conv.ID,
				MessageID:      msg.ID,
				Kind:           domain.SavedKindMentioned,
				CreatedAt:      msg.CreatedAt,
			})
			if err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Str("user_id", mentioned).Msg("mention record failed")
			}
		}
	}

	if s.Embeds != nil && msg.Type == domain.MessageTypeText {
		if !s.Embeds.Enqueue(*msg) {
			log.Warn().Str("message_id", msg.ID).Msg("embed queue full, dropping message embedding")
		}
	}

	if s.Archiver != nil {
		if _, err := s.Archiver.MaybeArchive(ctx, conv.ID); err != nil {
			log.Error().Err(err).Str("conversation_id", conv.ID).Msg("post-send archival failed")
		}
	}
}

// MarkDelivered records a delivery receipt for the acting user.
func (s *MessageService) MarkDelivered(ctx context.Context, userID, conversationID, messageID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkDelivered",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return err
	}
	err := s.Live.MarkDelivered(ctx, conversationID, messageID, userID, time.Now().UTC())
	if errors.Is(err, livestore.ErrMessageNotFound) {
		// Already archived: the receipt race is benign, the message was
		// certainly delivered before it aged out of the hot window.
		return nil
	}
	return err
}

// MarkRead records a read receipt and moves the user's read marker.
func (s *MessageService) MarkRead(ctx context.Context, userID, conversationID, messageID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := s.Live.MarkRead(ctx, conversationID, messageID, userID, now)
	if err != nil && !errors.Is(err, livestore.ErrMessageNotFound) {
		return err
	}
	if derr := s.Directory.SetLastRead(ctx, userID, conversationID, messageID, now); derr != nil {
		log.Warn().Err(derr).Str("conversation_id", conversationID).Msg("read marker update failed")
	}
	return nil
}

// History returns one page of conversation history for the user, oldest
// first. A zero cursor returns the full live window; an older cursor pages
// the archive with messages created strictly before it. Messages the user
// has deleted for themselves are filtered out.
func (s *MessageService) History(ctx context.Context, userID, conversationID string, before time.Time) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	var msgs []domain.Message
	if before.IsZero() {
		window, err := s.Live.Window(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		msgs = window
	} else {
		limit := s.HistoryPageSize
		if limit <= 0 {
			limit = 20
		}
		page, err := s.Archive.Page(ctx, conversationID, before, limit)
		if err != nil {
			return nil, err
		}
		// Archive pages come newest-first; flip to the canonical order.
		for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
			page[i], page[j] = page[j], page[i]
		}
		msgs = page
	}

	visible := msgs[:0]
	for _, m := range msgs {
		if m.DeletedForUser(userID) {
			continue
		}
		visible = append(visible, m)
	}
	return visible, nil
}

// DeleteForUser tombstones a live message for the acting user only.
func (s *MessageService) DeleteForUser(ctx context.Context, userID, conversationID, messageID string) error {
	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return err
	}
	err := s.Live.DeleteForUser(ctx, conversationID, messageID, userID)
	if errors.Is(err, livestore.ErrMessageNotFound) {
		return ErrMessageNotFound
	}
	return err
}

// Star bookmarks a message for the acting user.
func (s *MessageService) Star(ctx context.Context, userID, conversationID, messageID string) error {
	if s.Saved == nil {
		return ErrSavedUnavailable
	}
	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Saved.Save(ctx, &domain.SavedMessage{
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Kind:           domain.SavedKindStarred,
	})
}

// Unstar removes the user's bookmark; unstarring an unstarred message is a
// no-op.
func (s *MessageService) Unstar(ctx context.Context, userID, conversationID, messageID string) error {
	if s.Saved == nil {
		return ErrSavedUnavailable
	}
	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Saved.Delete(ctx, userID, conversationID, messageID, domain.SavedKindStarred)
}

// ListSaved returns the user's saved-message records of one kind across all
// conversations, newest first.
func (s *MessageService) ListSaved(ctx context.Context, userID string, kind domain.SavedKind) ([]domain.SavedMessage, error) {
	if s.Saved == nil {
		return nil, ErrSavedUnavailable
	}
	if !kind.Valid() {
		return nil, ErrInvalidSavedKind
	}
	return s.Saved.List(ctx, userID, kind)
}

// SetTyping sets or clears the user's typing indicator.
func (s *MessageService) SetTyping(ctx context.Context, userID, conversationID string, typing bool) error {
	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Live.SetTyping(ctx, conversationID, userID, typing)
}

// Typing lists users currently typing, excluding the asker.
func (s *MessageService) Typing(ctx context.Context, userID, conversationID string) ([]string, error) {
	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	users, err := s.Live.Typing(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	others := users[:0]
	for _, u := range users {
		if u != userID {
			others = append(others, u)
		}
	}
	return others, nil
}

// conversationFor loads the conversation and enforces membership.
func (s *MessageService) conversationFor(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	conv, err := s.Directory.Get(ctx, conversationID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(userID) {
		return nil, ErrNotAMember
	}
	return conv, nil
}
