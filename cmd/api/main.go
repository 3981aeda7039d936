package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidyfile/tidyfile/internal/cache"
	"github.com/tidyfile/tidyfile/internal/config"
	"github.com/tidyfile/tidyfile/internal/database"
	"github.com/tidyfile/tidyfile/internal/dedupe"
	"github.com/tidyfile/tidyfile/internal/embedding"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
	"github.com/tidyfile/tidyfile/internal/normalize"
	"github.com/tidyfile/tidyfile/internal/search"
	"github.com/tidyfile/tidyfile/internal/server"
	"github.com/tidyfile/tidyfile/internal/session"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Msg("Starting tidyfile API server")

	// Initialize database connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Redis is an optional cache tier; a missing Redis degrades the
	// embedding cache to memory plus Postgres.
	var redisClient *cache.Redis
	if rc, err := cache.New(cfg.Redis.URL); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, embedding cache runs without it")
	} else {
		redisClient = rc
		defer redisClient.Close()
	}

	// Initialize Prometheus metrics
	monitoring.Init()
	log.Info().Msg("Prometheus metrics initialized")

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	// Embedding pipeline: Ollama generators behind the tiered cache.
	embStore := embedding.NewPgStore(db.Pool)
	embCache := embedding.NewCache(cfg.Cache.MaxEntries, redisClient, embStore)

	textGen, err := embedding.NewOllamaGenerator(&cfg.Embedding, cfg.Embedding.TextModel, string(models.EmbeddingKindText))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize text embedding generator")
	}
	imageGen, err := embedding.NewOllamaGenerator(&cfg.Embedding, cfg.Embedding.ImageModel, string(models.EmbeddingKindImage))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize image embedding generator")
	}

	// Session lifecycle and the background processing worker.
	manager, err := session.NewManager(&cfg.Session, &cfg.Upload, session.NewPgStore(db.Pool))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session manager")
	}

	worker := session.NewWorker(&cfg.Session, session.WorkerDeps{
		Manager:    manager,
		Normalizer: normalize.NewBasic(),
		Cache:      embCache,
		TextGen:    textGen,
		ImageGen:   imageGen,
		EmbStore:   embStore,
		Grouper:    dedupe.NewGrouper(&cfg.Dedupe),
	})

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	if err := worker.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start background worker")
	}

	searchSvc := search.NewService(db.Pool, &cfg.Search)

	srv := server.NewAPIServer(cfg, manager, worker, searchSvc, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.Health(ctx)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	worker.Stop()

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
