// Command server runs the message-store HTTP API.
//
// Startup order: env + config, logging, tracing, stores (SQLite ledger,
// Redis live window, Mongo archive + directory), outbound clients (vector
// index, model API, Kafka), background embedder, then the Gin router with
// graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KRushton218/swift-send-backend/internal/archiver"
	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/cache"
	"github.com/KRushton218/swift-send-backend/internal/config"
	"github.com/KRushton218/swift-send-backend/internal/directory"
	"github.com/KRushton218/swift-send-backend/internal/events"
	"github.com/KRushton218/swift-send-backend/internal/genai"
	httpapi "github.com/KRushton218/swift-send-backend/internal/http"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
	"github.com/KRushton218/swift-send-backend/internal/observability"
	"github.com/KRushton218/swift-send-backend/internal/repo"
	"github.com/KRushton218/swift-send-backend/internal/services"
	"github.com/KRushton218/swift-send-backend/internal/sysutil"
	"github.com/KRushton218/swift-send-backend/internal/vectorindex"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Idempotency ledger (SQLite)
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open sqlite")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate sqlite")
	}

	// Live store (Redis)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping")
	}
	live := livestore.NewRedisStore(rdb, cfg.Redis.KeyPrefix)

	// Archive + directory (Mongo)
	mcli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect")
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mcli.Disconnect(dctx)
	}()
	mdb := mcli.Database(cfg.Mongo.Database)
	arch := archivestore.NewMongoStore(mdb.Collection(archivestore.CollectionName))
	if err := arch.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("archive indexes")
	}
	dir := directory.NewMongoDirectory(mdb)
	if err := dir.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("directory indexes")
	}
	saved := directory.NewMongoSaved(mdb)
	if err := saved.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("saved-message indexes")
	}

	// Events (Kafka; disabled without brokers)
	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := kp.Close(); err != nil {
				log.Warn().Err(err).Msg("kafka close")
			}
		}()
		pub = kp
	}

	// Outbound clients
	model := &genai.Client{
		BaseURL:        cfg.Model.BaseURL,
		APIKey:         cfg.Model.APIKey,
		EmbeddingModel: cfg.Model.EmbeddingModel,
		ChatModel:      cfg.Model.ChatModel,
		Dimension:      cfg.Model.Dimension,
		HTTPClient:     &http.Client{Timeout: cfg.Model.Timeout},
	}
	vectors := &vectorindex.Client{
		BaseURL:    cfg.VectorIndex.BaseURL,
		APIKey:     cfg.VectorIndex.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.VectorIndex.Timeout},
	}

	// Background embedding pipeline
	embedder := &services.Embedder{
		Model:     model,
		Vectors:   vectors,
		Live:      live,
		Workers:   cfg.EmbedWorkers,
		QueueSize: cfg.EmbedQueueSize,
	}
	embedder.Start(ctx)
	defer embedder.Close()

	coord := &archiver.Coordinator{
		Live:      live,
		Archive:   arch,
		Threshold: cfg.ArchiveThreshold,
	}

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Dependencies{
		Live:      live,
		Archive:   arch,
		Directory: dir,
		Archiver:  coord,
		Events:    pub,
		Embeds:    embedder,
		Saved:     saved,
		Model:     model,
		Vectors:   vectors,
		TranslationCache: &cache.RedisTranslationCache{
			Client: rdb,
			Prefix: cfg.Redis.KeyPrefix,
		},
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
