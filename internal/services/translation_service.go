// Package services – TranslationService
//
// This file implements message translation with a cache-first flow: a
// cached (message, target language) result is returned without touching
// the model at all. Cache misses call the model with a strict-JSON
// contract; anything that does not parse as exactly
// {"detectedLanguage": ..., "translatedText": ...} is rejected rather than
// guessed at.
//
// Rate limits are not retried here: a 429 from the model propagates as
// *genai.RateLimitError so the HTTP layer can surface Retry-After to the
// client, which owns the retry decision.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/KRushton218/swift-send-backend/internal/cache"
	"github.com/KRushton218/swift-send-backend/internal/genai"
)

const translationSystemPrompt = "You are a translation engine. " +
	"Translate the user's message into the requested language. " +
	"Respond with only a JSON object of the form " +
	`{"detectedLanguage": "<BCP 47 tag of the source>", "translatedText": "<translation>"}` +
	" and nothing else."

// TranslationResult is one translation, cached or fresh.
type TranslationResult struct {
	DetectedLanguage string `json:"detected_language"`
	TranslatedText   string `json:"translated_text"`
	TargetLanguage   string `json:"target_language"`
	FromCache        bool   `json:"from_cache"`
}

// TranslationService translates message text on demand.
type TranslationService struct {
	Model ModelClient
	Cache cache.TranslationCache
}

// Translate returns text translated into targetLanguage. Results are
// cached per (messageID, target language); a hit makes no model call.
func (s *TranslationService) Translate(ctx context.Context, messageID, text, targetLanguage string) (*TranslationResult, error) {
	tr := otel.Tracer("services/TranslationService")
	ctx, span := tr.Start(ctx, "Translate",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("translate.target", targetLanguage),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	tag, err := language.Parse(strings.TrimSpace(targetLanguage))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetLanguage, targetLanguage)
	}
	target := tag.String()

	if s.Cache != nil {
		cached, ok, cerr := s.Cache.Get(ctx, messageID, target)
		if cerr != nil {
			log.Warn().Err(cerr).Str("message_id", messageID).Msg("translation cache read failed")
		}
		if ok {
			span.SetAttributes(attribute.Bool("translate.cache_hit", true))
			return &TranslationResult{
				DetectedLanguage: cached.DetectedLanguage,
				TranslatedText:   cached.TranslatedText,
				TargetLanguage:   target,
				FromCache:        true,
			}, nil
		}
	}

	prompt := fmt.Sprintf("Target language: %s\nMessage: %s", target, text)
	reply, err := s.Model.ChatComplete(ctx, translationSystemPrompt,
		[]genai.ChatMessage{{Role: genai.RoleUser, Content: prompt}})
	if err != nil {
		// *genai.RateLimitError passes through untouched for the caller.
		return nil, err
	}

	parsed, err := parseTranslationReply(reply)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		if cerr := s.Cache.Put(ctx, messageID, target, *parsed); cerr != nil {
			log.Warn().Err(cerr).Str("message_id", messageID).Msg("translation cache write failed")
		}
	}
	return &TranslationResult{
		DetectedLanguage: parsed.DetectedLanguage,
		TranslatedText:   parsed.TranslatedText,
		TargetLanguage:   target,
	}, nil
}

// parseTranslationReply enforces the strict JSON contract on the model's
// reply.
func parseTranslationReply(reply string) (*cache.Translation, error) {
	var out struct {
		DetectedLanguage string `json:"detectedLanguage"`
		TranslatedText   string `json:"translatedText"`
	}
	dec := json.NewDecoder(strings.NewReader(reply))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModelResponse, err)
	}
	// Trailing content after the object is also a contract violation.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing content", ErrMalformedModelResponse)
	}
	if strings.TrimSpace(out.TranslatedText) == "" {
		return nil, fmt.Errorf("%w: empty translation", ErrMalformedModelResponse)
	}
	return &cache.Translation{
		DetectedLanguage: out.DetectedLanguage,
		TranslatedText:   out.TranslatedText,
	}, nil
}
