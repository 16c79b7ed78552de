// Package services defines the business logic for conversations, messages,
// insights, and translations. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Conversation-related errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotAMember is returned when the acting user is not a member of the
	// conversation.
	ErrNotAMember = errors.New("user is not a conversation member")

	// ErrInvalidMembership is returned when a conversation is created with
	// an empty or malformed member list.
	ErrInvalidMembership = errors.New("invalid conversation membership")
)

// Message-related errors.
var (
	// ErrEmptyMessage is returned when a send request carries no text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrTooLong is returned when a message exceeds the maximum configured
	// length limit.
	ErrTooLong = errors.New("message too long")

	// ErrInvalidMessageType is returned when the message type is outside
	// the supported set.
	ErrInvalidMessageType = errors.New("unsupported message type")

	// ErrMessageNotFound indicates that the requested message does not
	// exist in the live window.
	ErrMessageNotFound = errors.New("message not found")

	// ErrSavedUnavailable is returned when the saved-message store is not
	// configured.
	ErrSavedUnavailable = errors.New("saved message store unavailable")

	// ErrInvalidSavedKind is returned for an unknown saved-record kind.
	ErrInvalidSavedKind = errors.New("unknown saved record kind")
)

// Insight- and translation-related errors.
var (
	// ErrEmptyQuery is returned when an insight request contains no query.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrInsightGenerationFailed wraps embed or completion failures during
	// insight generation.
	ErrInsightGenerationFailed = errors.New("insight generation failed")

	// ErrInvalidTargetLanguage is returned when the translation target is
	// not a parseable language tag.
	ErrInvalidTargetLanguage = errors.New("invalid target language")

	// ErrMalformedModelResponse is returned when the model's translation
	// output is not the expected strict JSON shape.
	ErrMalformedModelResponse = errors.New("malformed translation response")
)
