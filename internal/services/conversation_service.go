// Package services – ConversationService
//
// This file implements ConversationService, which manages conversation
// lifecycle and per-user conversation state. Direct threads are
// deduplicated by participant set: creating a second direct conversation
// with the same two people returns the existing one.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/directory"
	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
)

// CreateConversationInput is one conversation create request.
type CreateConversationInput struct {
	Type          domain.ConversationType
	Name          string
	MemberIDs     []string
	MemberDetails map[string]domain.MemberDetail
}

// ConversationService provides conversation-level operations.
type ConversationService struct {
	Directory directory.Directory
	Live      livestore.Store
	Archive   archivestore.Store

	// Vectors, when set, is used for best-effort embedding cleanup when a
	// user hides a conversation.
	Vectors VectorIndex
}

// Create makes a new conversation owned by creatorID, reusing an existing
// direct thread when one already covers the same participant set.
func (s *ConversationService) Create(ctx context.Context, creatorID string, in CreateConversationInput) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", creatorID)),
	)
	defer span.End()

	typ := in.Type
	if typ == "" {
		typ = domain.ConversationDirect
	}
	if !typ.Valid() {
		return nil, ErrInvalidMembership
	}

	members := append([]string(nil), in.MemberIDs...)
	if creatorID != "" && !containsID(members, creatorID) {
		members = append(members, creatorID)
	}

	if typ == domain.ConversationDirect {
		existing, err := s.Directory.FindByParticipants(ctx, members)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, directory.ErrNotFound) {
			return nil, err
		}
	}

	conv := &domain.Conversation{
		ID:            uuid.NewString(),
		Type:          typ,
		Name:          strings.TrimSpace(in.Name),
		CreatedBy:     creatorID,
		MemberIDs:     members,
		MemberDetails: in.MemberDetails,
	}
	if err := s.Directory.Create(ctx, conv); err != nil {
		if errors.Is(err, directory.ErrInvalidMembership) {
			return nil, ErrInvalidMembership
		}
		return nil, err
	}
	return conv, nil
}

// Get returns the conversation if the user is a member.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
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

// List returns the user's visible conversations, most recently active
// first.
func (s *ConversationService) List(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return s.Directory.ListForUser(ctx, userID)
}

// Status returns the user's private state for a conversation.
func (s *ConversationService) Status(ctx context.Context, userID, conversationID string) (*domain.UserConversationStatus, error) {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.Directory.Status(ctx, userID, conversationID)
}

// Hide removes the conversation from the user's list without affecting
// other members. Embedding cleanup is best effort and never blocks the
// hide.
func (s *ConversationService) Hide(ctx context.Context, userID, conversationID string) error {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Hide",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.Directory.SetHidden(ctx, userID, conversationID, true); err != nil {
		return err
	}
	if s.Vectors != nil {
		if err := s.Vectors.DeleteByConversation(ctx, conversationID); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("embedding cleanup failed")
		}
	}
	return nil
}

// Unhide restores the conversation to the user's list.
func (s *ConversationService) Unhide(ctx context.Context, userID, conversationID string) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Directory.SetHidden(ctx, userID, conversationID, false)
}

// SetPinned pins or unpins the conversation for the user.
func (s *ConversationService) SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Directory.SetPinned(ctx, userID, conversationID, pinned)
}

// SetMuted mutes or unmutes the conversation for the user.
func (s *ConversationService) SetMuted(ctx context.Context, userID, conversationID string, muted bool) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.Directory.SetMuted(ctx, userID, conversationID, muted)
}

// RecomputeUnread rebuilds the user's unread count from stored messages:
// messages created after the user's read marker, by other senders, not
// tombstoned for the user. Idempotent; used to repair drifted counters.
func (s *ConversationService) RecomputeUnread(ctx context.Context, userID, conversationID string) (int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "RecomputeUnread",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	status, err := s.Directory.Status(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	var lastRead time.Time
	if status.LastReadTimestamp != nil {
		lastRead = *status.LastReadTimestamp
	}

	window, err := s.Live.Window(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	var unread int64
	for i := range window {
		if countsAsUnread(&window[i], userID, lastRead) {
			unread++
		}
	}

	// Walk archived messages newer than the read marker. The live window
	// holds the newest messages, so this only pages when the marker
	// predates the window.
	unread += s.archivedUnread(ctx, conversationID, userID, lastRead, oldestCreated(window))

	if err := s.Directory.SetUnread(ctx, userID, conversationID, unread); err != nil {
		return 0, err
	}
	return unread, nil
}

func (s *ConversationService) archivedUnread(ctx context.Context, conversationID, userID string, lastRead, before time.Time) int64 {
	if before.IsZero() || !before.After(lastRead) {
		return 0
	}
	var unread int64
	cursor := before
	for {
		page, err := s.Archive.Page(ctx, conversationID, cursor, 100)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("unread recompute archive walk failed")
			return unread
		}
		if len(page) == 0 {
			return unread
		}
		for i := range page {
			if !page[i].CreatedAt.After(lastRead) {
				return unread
			}
			if countsAsUnread(&page[i], userID, lastRead) {
				unread++
			}
		}
		cursor = page[len(page)-1].CreatedAt
	}
}

func countsAsUnread(m *domain.Message, userID string, lastRead time.Time) bool {
	return m.SenderID != userID &&
		m.CreatedAt.After(lastRead) &&
		!m.DeletedForUser(userID) &&
		!m.IsDeleted
}

func oldestCreated(window []domain.Message) time.Time {
	if len(window) == 0 {
		return time.Time{}
	}
	return window[0].CreatedAt
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
