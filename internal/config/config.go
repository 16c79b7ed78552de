// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, store endpoints, archival thresholds,
// rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "swift-send-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig locates the live message store and translation cache.
type RedisConfig struct {
	Addr      string // REDIS_ADDR (host:port)
	Password  string // REDIS_PASSWORD
	DB        int    // REDIS_DB
	KeyPrefix string // REDIS_KEY_PREFIX
}

// MongoConfig locates the archive store and conversation directory.
type MongoConfig struct {
	URI      string // MONGO_URI
	Database string // MONGO_DATABASE
}

// KafkaConfig locates the event broker. An empty broker list disables
// event publishing.
type KafkaConfig struct {
	Brokers []string // KAFKA_BROKERS (CSV)
	Topic   string   // KAFKA_TOPIC
}

// VectorIndexConfig locates the hosted vector index.
type VectorIndexConfig struct {
	BaseURL string        // VECTOR_INDEX_URL
	APIKey  string        // VECTOR_INDEX_API_KEY
	Timeout time.Duration // VECTOR_INDEX_TIMEOUT
}

// ModelConfig locates the hosted model API.
type ModelConfig struct {
	BaseURL        string        // MODEL_API_URL
	APIKey         string        // MODEL_API_KEY
	EmbeddingModel string        // MODEL_EMBEDDING_NAME
	ChatModel      string        // MODEL_CHAT_NAME
	Dimension      int           // MODEL_EMBEDDING_DIM
	Timeout        time.Duration // MODEL_API_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Stores
	DBPath string // SQLite path for the idempotency ledger
	Redis  RedisConfig
	Mongo  MongoConfig
	Kafka  KafkaConfig

	// Retrieval
	VectorIndex VectorIndexConfig
	Model       ModelConfig

	// ArchiveThreshold is the live window size per conversation.
	ArchiveThreshold int // ARCHIVE_THRESHOLD

	// SimilarityThreshold drops weak retrieval matches [0,1].
	SimilarityThreshold float64 // SIMILARITY_THRESHOLD

	// InsightTopK is the number of supporting messages per insight.
	InsightTopK int // INSIGHT_TOP_K

	// EmbedWorkers / EmbedQueueSize size the background embedding pool.
	EmbedWorkers   int // EMBED_WORKERS
	EmbedQueueSize int // EMBED_QUEUE_SIZE

	// MaxMessageRunes caps message length; 0 disables the check.
	MaxMessageRunes int // MAX_MESSAGE_RUNES

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Stores
		DBPath: getenv("DB_PATH", "app.db"),
		Redis: RedisConfig{
			Addr:      getenv("REDIS_ADDR", "localhost:6379"),
			Password:  getenv("REDIS_PASSWORD", ""),
			DB:        getint("REDIS_DB", 0),
			KeyPrefix: getenv("REDIS_KEY_PREFIX", "swiftsend"),
		},
		Mongo: MongoConfig{
			URI:      getenv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getenv("MONGO_DATABASE", "swiftsend"),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "message-committed"),
		},

		// Retrieval
		VectorIndex: VectorIndexConfig{
			BaseURL: getenv("VECTOR_INDEX_URL", ""),
			APIKey:  getenv("VECTOR_INDEX_API_KEY", ""),
			Timeout: getdur("VECTOR_INDEX_TIMEOUT", 10*time.Second),
		},
		Model: ModelConfig{
			BaseURL:        getenv("MODEL_API_URL", ""),
			APIKey:         getenv("MODEL_API_KEY", ""),
			EmbeddingModel: getenv("MODEL_EMBEDDING_NAME", "text-embedding-3-small"),
			ChatModel:      getenv("MODEL_CHAT_NAME", "gpt-4o-mini"),
			Dimension:      getint("MODEL_EMBEDDING_DIM", 1536),
			Timeout:        getdur("MODEL_API_TIMEOUT", 30*time.Second),
		},

		ArchiveThreshold:    getint("ARCHIVE_THRESHOLD", 50),
		SimilarityThreshold: getfloat("SIMILARITY_THRESHOLD", 0.75),
		InsightTopK:         getint("INSIGHT_TOP_K", 5),
		EmbedWorkers:        getint("EMBED_WORKERS", 2),
		EmbedQueueSize:      getint("EMBED_QUEUE_SIZE", 256),
		MaxMessageRunes:     getint("MAX_MESSAGE_RUNES", 4000),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "swift-send-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return cfg, errors.New("REDIS_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.Mongo.URI) == "" {
		return cfg, errors.New("MONGO_URI must not be empty")
	}
	if strings.TrimSpace(cfg.Mongo.Database) == "" {
		return cfg, errors.New("MONGO_DATABASE must not be empty")
	}
	if cfg.ArchiveThreshold < 1 {
		return cfg, errors.New("ARCHIVE_THRESHOLD must be >= 1")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return cfg, errors.New("SIMILARITY_THRESHOLD must be between 0 and 1")
	}
	if cfg.InsightTopK < 1 {
		return cfg, errors.New("INSIGHT_TOP_K must be >= 1")
	}
	if cfg.EmbedWorkers < 1 {
		return cfg, errors.New("EMBED_WORKERS must be >= 1")
	}
	if cfg.EmbedQueueSize < 1 {
		return cfg, errors.New("EMBED_QUEUE_SIZE must be >= 1")
	}
	if cfg.MaxMessageRunes < 0 {
		return cfg, errors.New("MAX_MESSAGE_RUNES must be >= 0")
	}
	if cfg.Model.Dimension < 1 {
		return cfg, errors.New("MODEL_EMBEDDING_DIM must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
