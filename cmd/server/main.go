// Pocketforge session server: keeps per-project conversations with the
// assistant backend and pushes their state to mobile clients.
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

	"github.com/pocketforge/pocketforge/internal/api"
	"github.com/pocketforge/pocketforge/internal/backend"
	"github.com/pocketforge/pocketforge/internal/config"
	"github.com/pocketforge/pocketforge/internal/conversation"
	"github.com/pocketforge/pocketforge/internal/files"
	"github.com/pocketforge/pocketforge/internal/health"
	"github.com/pocketforge/pocketforge/internal/identity"
	"github.com/pocketforge/pocketforge/internal/live"
	"github.com/pocketforge/pocketforge/internal/middleware"
	"github.com/pocketforge/pocketforge/web"
)

const reaperInterval = time.Minute

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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend_url", cfg.BackendURL)

	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL:        cfg.BackendURL,
		Token:          cfg.BackendToken,
		RequestTimeout: cfg.RequestTimeout,
		PromptTimeout:  cfg.PromptTimeout,
		Logger:         logger,
	})
	if err != nil {
		slog.Error("Failed to initialize backend client", "error", err)
		os.Exit(1)
	}

	// Health probe of the backend (optional).
	var checker api.Checker
	if cfg.BackendHealthAddr != "" {
		probe, err := health.Dial(health.DefaultProbeConfig(cfg.BackendHealthAddr), logger)
		if err != nil {
			slog.Error("Backend health endpoint unreachable", "address", cfg.BackendHealthAddr, "error", err)
			os.Exit(1)
		}
		defer probe.Close()

		if err := probe.Check(context.Background(), health.ServiceName); err != nil {
			slog.Warn("Backend reports unhealthy at startup", "error", err)
		}
		checker = probe
		slog.Info("Backend health probe connected", "address", cfg.BackendHealthAddr)
	} else {
		slog.Info("Backend health probe disabled (BACKEND_HEALTH_ADDR not set)")
	}

	// Initialize services.
	fileCache := files.NewCache(client, logger)
	sessions := conversation.NewManager(client, logger,
		conversation.WithPromptTimeout(cfg.PromptTimeout),
		conversation.WithPollInterval(cfg.PollInterval),
		conversation.WithFilesChanged(fileCache.OnFilesChanged),
	)
	registry := live.NewRegistry()

	// Initialize handlers.
	baseHandler := api.NewHandler(sessions, client, files.NewService(fileCache, client), logger)
	healthHandler := api.NewHealthHandler(baseHandler, checker, health.ServiceName)
	sessionHandler := api.NewSessionHandler(baseHandler)
	projectHandler := api.NewProjectHandler(baseHandler)
	liveHandler := live.NewHandler(sessions, registry, cfg.AllowedOrigins(), cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	projectHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/projects/{projectID}", liveHandler.ServeHTTP)

	// Serve embedded mobile shell (SPA catch-all).
	spa, err := web.SPAHandler()
	if err != nil {
		slog.Error("Failed to load web shell", "error", err)
		os.Exit(1)
	}
	r.Handle("/*", spa)

	// Prompt calls hold a request open for up to PROMPT_TIMEOUT; websockets
	// need no write timeout at all.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartReaper(ctx, cfg.SessionIdleTTL, reaperInterval)
	slog.Info("Session reaper started", "idle_ttl", cfg.SessionIdleTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Closing sessions ends their websocket streams, so Shutdown does not
	// wait on hijacked connections.
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
