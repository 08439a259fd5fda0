// chatrelayd - browser-backed chat relay daemon
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/chatrelay/chatrelay/internal/api"
	"github.com/chatrelay/chatrelay/internal/browser"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/events"
	"github.com/chatrelay/chatrelay/internal/middleware"
	"github.com/chatrelay/chatrelay/internal/relay"
	"github.com/chatrelay/chatrelay/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting daemon", "port", cfg.Port, "base_url", cfg.BaseURL, "headless", cfg.Headless)

	// The persisted login state is a hard startup precondition.
	artifact, err := browser.LoadArtifact(cfg.SessionFile)
	if err != nil {
		slog.Error("Failed to load session artifact", "error", err)
		os.Exit(1)
	}
	slog.Info("Session artifact loaded", "path", cfg.SessionFile, "cookies", len(artifact.Cookies))

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := browser.NewSession(ctx, browser.Options{
		BaseURL:    cfg.BaseURL,
		Headless:   cfg.Headless,
		ChromePath: cfg.ChromePath,
		Artifact:   artifact,
	}, logger)
	if err != nil {
		slog.Error("Failed to start browser session", "error", err)
		os.Exit(1)
	}
	defer sess.Close()
	slog.Info("Browser session ready")

	// Initialize services.
	hub := events.NewHub(logger)
	svc := relay.NewService(sess, relay.ServiceConfig{
		DefaultTimeout: cfg.DefaultTimeout,
		PollInterval:   cfg.PollInterval,
		StablePolls:    cfg.StablePolls,
		QueueSize:      cfg.QueueSize,
	}, repo, hub, logger)
	svc.Start(ctx)

	// Initialize handlers.
	relayHandler := api.NewHandler(svc, repo)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := events.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.FrontendURL, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	relayHandler.RegisterRoutes(r)
	r.Get("/ws/events", wsHandler.ServeHTTP)

	// Create server.
	// Note: /ask blocks for the full relay timeout, so the write timeout
	// stays disabled; per-request deadlines are enforced by the relay core.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
