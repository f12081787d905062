package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/config"
	"github.com/stemsi/exstem-taker/internal/database"
	"github.com/stemsi/exstem-taker/internal/handler"
	"github.com/stemsi/exstem-taker/internal/logger"
	"github.com/stemsi/exstem-taker/internal/middleware"
	"github.com/stemsi/exstem-taker/internal/router"
	"github.com/stemsi/exstem-taker/internal/service"
	"github.com/stemsi/exstem-taker/internal/validator"
	"github.com/stemsi/exstem-taker/internal/worker"
)

func main() {
	var (
		migrationDir string
		autoMigrate  bool
		seed         bool
	)
	flag.StringVar(&migrationDir, "migrations", "migrations", "Path to migration files")
	flag.BoolVar(&autoMigrate, "migrate", false, "Apply pending migrations before serving (Postgres only)")
	flag.BoolVar(&seed, "seed", true, "Seed demo users and tests into an empty store")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting exam stub API")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Store ────────────────────────────────────────────────────
	if autoMigrate && cfg.DatabaseURL != "" {
		if err := database.MigrateUp(cfg.DatabaseURL, migrationDir, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}
	store, closeStore, err := database.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, store.Users)
	sessionService := service.NewSessionService(store.Tests, store.Attempts, log)

	if seed {
		if err := service.SeedDemo(ctx, store, authService); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed demo data")
		}
		log.Info().Str("password", service.DemoPassword).Msg("Demo users: student, student2")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	chatHandler := handler.NewChatHandler(log, cfg.AllowedOrigins)
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, log),
		Test:    handler.NewTestHandler(sessionService, log),
		Session: handler.NewSessionHandler(sessionService, log),
		Chat:    chatHandler,
	}
	if seed {
		chatHandler.Publish(1, 0, "Course", "Bot", "Welcome to the course channel.")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	expiryWorker := worker.NewExpiryWorker(store.Attempts, 15*time.Second, log)
	go expiryWorker.Start(workerCtx)

	// Rate limiter for the login route (30 requests per minute per IP).
	loginLimiter := middleware.NewRateLimiter(30, time.Minute)
	go loginLimiter.StartCleanup(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, loginLimiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers.
	workerCancel()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
