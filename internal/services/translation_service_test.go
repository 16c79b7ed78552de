package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/cache"
	"github.com/KRushton218/swift-send-backend/internal/genai"
)

func TestTranslate_CacheHitMakesNoModelCall(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{
		chatFn: func(system string, msgs []genai.ChatMessage) (string, error) {
			return `{"detectedLanguage": "en", "translatedText": "hola"}`, nil
		},
	}
	svc := &TranslationService{Model: model, Cache: cache.NewMemoryTranslationCache()}

	first, err := svc.Translate(ctx, "m1", "hello", "es")
	if err != nil {
		t.Fatalf("first translate: %v", err)
	}
	if first.FromCache || first.TranslatedText != "hola" || first.DetectedLanguage != "en" {
		t.Fatalf("first = %+v", first)
	}

	second, err := svc.Translate(ctx, "m1", "hello", "es")
	if err != nil {
		t.Fatalf("second translate: %v", err)
	}
	if !second.FromCache || second.TranslatedText != "hola" {
		t.Fatalf("second = %+v", second)
	}
	if model.chatCalls.Load() != 1 {
		t.Fatalf("model calls = %d, want exactly 1", model.chatCalls.Load())
	}

	// A different target language is a separate cache entry.
	if _, err := svc.Translate(ctx, "m1", "hello", "fr"); err != nil {
		t.Fatalf("fr translate: %v", err)
	}
	if model.chatCalls.Load() != 2 {
		t.Fatalf("model calls = %d, want 2", model.chatCalls.Load())
	}
}

func TestTranslate_ValidatesTargetLanguage(t *testing.T) {
	ctx := context.Background()
	svc := &TranslationService{Model: &stubModel{}, Cache: cache.NewMemoryTranslationCache()}

	if _, err := svc.Translate(ctx, "m1", "hello", "not a language!!"); !errors.Is(err, ErrInvalidTargetLanguage) {
		t.Fatalf("got %v, want ErrInvalidTargetLanguage", err)
	}
	if _, err := svc.Translate(ctx, "m1", "   ", "es"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("got %v, want ErrEmptyMessage", err)
	}
}

func TestTranslate_StrictJSONContract(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		reply string
	}{
		{"prose around json", "Sure! Here you go: {\"detectedLanguage\": \"en\", \"translatedText\": \"hola\"}"},
		{"unknown field", `{"detectedLanguage": "en", "translatedText": "hola", "confidence": 0.9}`},
		{"trailing content", `{"detectedLanguage": "en", "translatedText": "hola"} trailing`},
		{"empty translation", `{"detectedLanguage": "en", "translatedText": "  "}`},
		{"not json", "hola"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			model := &stubModel{
				chatFn: func(string, []genai.ChatMessage) (string, error) { return tc.reply, nil },
			}
			svc := &TranslationService{Model: model, Cache: cache.NewMemoryTranslationCache()}
			if _, err := svc.Translate(ctx, "m1", "hello", "es"); !errors.Is(err, ErrMalformedModelResponse) {
				t.Fatalf("got %v, want ErrMalformedModelResponse", err)
			}
		})
	}
}

func TestTranslate_RateLimitPropagatesUnwrapped(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{
		chatFn: func(string, []genai.ChatMessage) (string, error) {
			return "", &genai.RateLimitError{RetryAfter: 9 * time.Second}
		},
	}
	svc := &TranslationService{Model: model, Cache: cache.NewMemoryTranslationCache()}

	_, err := svc.Translate(ctx, "m1", "hello", "es")
	var rle *genai.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("got %v, want *genai.RateLimitError", err)
	}
	if rle.RetryAfter != 9*time.Second {
		t.Fatalf("retry after = %s", rle.RetryAfter)
	}
	// One attempt only: the service never retries a rate-limited call.
	if model.chatCalls.Load() != 1 {
		t.Fatalf("model calls = %d, want 1", model.chatCalls.Load())
	}
}

func TestTranslate_PromptCarriesTargetAndText(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{
		chatFn: func(system string, msgs []genai.ChatMessage) (string, error) {
			if !strings.Contains(system, "JSON") {
				t.Errorf("system prompt missing contract: %q", system)
			}
			prompt := msgs[0].Content
			if !strings.Contains(prompt, "de") || !strings.Contains(prompt, "good morning") {
				t.Errorf("prompt = %q", prompt)
			}
			return `{"detectedLanguage": "en", "translatedText": "guten Morgen"}`, nil
		},
	}
	svc := &TranslationService{Model: model, Cache: cache.NewMemoryTranslationCache()}

	res, err := svc.Translate(ctx, "m1", "good morning", "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TargetLanguage != "de" || res.TranslatedText != "guten Morgen" {
		t.Fatalf("result = %+v", res)
	}
}
