// Package cache holds the translation result cache. Translations are
// deterministic per (message, target language) and messages are immutable,
// so cached entries never need invalidation, only expiry to bound memory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTranslationTTL bounds cache residency; entries are immutable so
// the TTL exists only to cap memory, not for freshness.
const DefaultTranslationTTL = 30 * 24 * time.Hour

// Translation is one cached translation result.
type Translation struct {
	DetectedLanguage string `json:"detected_language"`
	TranslatedText   string `json:"translated_text"`
}

// TranslationCache stores translation results keyed by message and target
// language.
type TranslationCache interface {
	// Get returns the cached translation and whether it was present.
	Get(ctx context.Context, messageID, targetLanguage string) (*Translation, bool, error)

	// Put stores a translation result.
	Put(ctx context.Context, messageID, targetLanguage string, tr Translation) error
}

// RedisTranslationCache is the production cache.
type RedisTranslationCache struct {
	Client *redis.Client

	// Prefix namespaces cache keys, e.g. "swiftsend".
	Prefix string

	// TTL defaults to DefaultTranslationTTL.
	TTL time.Duration
}

func (c *RedisTranslationCache) key(messageID, targetLanguage string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "swiftsend"
	}
	return fmt.Sprintf("%s:trans:%s:%s", prefix, messageID, targetLanguage)
}

func (c *RedisTranslationCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTranslationTTL
}

// Get implements TranslationCache.
func (c *RedisTranslationCache) Get(ctx context.Context, messageID, targetLanguage string) (*Translation, bool, error) {
	raw, err := c.Client.Get(ctx, c.key(messageID, targetLanguage)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read translation cache: %w", err)
	}
	var tr Translation
	if err := json.Unmarshal([]byte(raw), &tr); err != nil {
		// A corrupt entry behaves like a miss; it will be overwritten.
		return nil, false, nil
	}
	return &tr, true, nil
}

// Put implements TranslationCache.
func (c *RedisTranslationCache) Put(ctx context.Context, messageID, targetLanguage string, tr Translation) error {
	raw, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode translation: %w", err)
	}
	if err := c.Client.Set(ctx, c.key(messageID, targetLanguage), raw, c.ttl()).Err(); err != nil {
		return fmt.Errorf("write translation cache: %w", err)
	}
	return nil
}

// MemoryTranslationCache is a process-local cache for tests and local
// development.
type MemoryTranslationCache struct {
	mu      sync.RWMutex
	entries map[string]Translation
}

// NewMemoryTranslationCache returns an empty in-memory cache.
func NewMemoryTranslationCache() *MemoryTranslationCache {
	return &MemoryTranslationCache{entries: make(map[string]Translation)}
}

// Get implements TranslationCache.
func (c *MemoryTranslationCache) Get(ctx context.Context, messageID, targetLanguage string) (*Translation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tr, ok := c.entries[messageID+":"+targetLanguage]
	if !ok {
		return nil, false, nil
	}
	return &tr, true, nil
}

// Put implements TranslationCache.
func (c *MemoryTranslationCache) Put(ctx context.Context, messageID, targetLanguage string, tr Translation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[messageID+":"+targetLanguage] = tr
	return nil
}
