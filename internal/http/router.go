// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/cache"
	"github.com/KRushton218/swift-send-backend/internal/config"
	"github.com/KRushton218/swift-send-backend/internal/directory"
	"github.com/KRushton218/swift-send-backend/internal/events"
	"github.com/KRushton218/swift-send-backend/internal/http/handlers"
	"github.com/KRushton218/swift-send-backend/internal/http/middleware"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
	"github.com/KRushton218/swift-send-backend/internal/repo"
	"github.com/KRushton218/swift-send-backend/internal/search"
	"github.com/KRushton218/swift-send-backend/internal/services"
)

// Dependencies carries the store and client instances the HTTP layer needs.
// All fields except Live, Archive, and Directory are optional; nil values
// disable the corresponding feature (events, background embedding, vector
// cleanup, insights, translation).
type Dependencies struct {
	Live      livestore.Store
	Archive   archivestore.Store
	Directory directory.Directory
	Archiver  services.Archiver
	Events    events.Publisher
	Embeds    services.EmbedQueue
	Saved     directory.SavedMessages

	Model   services.ModelClient
	Vectors services.VectorIndex

	TranslationCache cache.TranslationCache
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Dependencies, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, conversationID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← stores/clients
	convSvc := &services.ConversationService{
		Directory: deps.Directory,
		Live:      deps.Live,
		Archive:   deps.Archive,
		Vectors:   deps.Vectors,
	}
	msgSvc := &services.MessageService{
		Live:         deps.Live,
		Archive:      deps.Archive,
		Directory:    deps.Directory,
		Archiver:     deps.Archiver,
		Events:       deps.Events,
		Embeds:       deps.Embeds,
		Saved:        deps.Saved,
		MaxTextRunes: cfg.MaxMessageRunes,
	}
	insightSvc := &services.InsightService{
		Directory:           deps.Directory,
		Model:               deps.Model,
		Vectors:             deps.Vectors,
		Reranker:            search.NewReranker(),
		SimilarityThreshold: cfg.SimilarityThreshold,
		TopK:                cfg.InsightTopK,
	}
	transSvc := &services.TranslationService{
		Model: deps.Model,
		Cache: deps.TranslationCache,
	}

	h := handlers.New(convSvc, msgSvc, insightSvc, transSvc, db, cfg.IdempotencyTTL)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Conversations
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.GET("/conversations/:id/status", h.GetConversationStatus)
		api.DELETE("/conversations/:id", h.HideConversation)
		api.POST("/conversations/:id/unhide", h.UnhideConversation)
		api.PUT("/conversations/:id/pin", h.SetPinned)
		api.PUT("/conversations/:id/mute", h.SetMuted)
		api.POST("/conversations/:id/unread/recompute", h.RecomputeUnread)

		// Messages
		api.POST("/conversations/:id/messages", h.PostMessage)
		api.GET("/conversations/:id/messages", h.History)
		api.POST("/conversations/:id/messages/:mid/delivered", h.MarkDelivered)
		api.POST("/conversations/:id/messages/:mid/read", h.MarkRead)
		api.DELETE("/conversations/:id/messages/:mid", h.DeleteMessageForUser)
		api.PUT("/conversations/:id/messages/:mid/star", h.StarMessage)
		api.DELETE("/conversations/:id/messages/:mid/star", h.UnstarMessage)
		api.GET("/saved-messages", h.ListSavedMessages)
		api.PUT("/conversations/:id/typing", h.SetTyping)
		api.GET("/conversations/:id/typing", h.Typing)

		// Insights
		api.POST("/conversations/:id/insights", h.AskInsight)

		// Translation
		api.POST("/messages/:id/translation", h.Translate)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
