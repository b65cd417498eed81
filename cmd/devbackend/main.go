// Pocketforge development backend: projects, assistant prompts, files and
// simulated deployments behind the API the session server consumes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/pocketforge/pocketforge/internal/config"
	"github.com/pocketforge/pocketforge/internal/devbackend"
	"github.com/pocketforge/pocketforge/internal/health"
	"github.com/pocketforge/pocketforge/internal/store"
)

const sweepInterval = time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadDevBackend()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting development backend", "port", cfg.Port, "grpc_port", cfg.GRPCPort)

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
	slog.Info("Database connected", "path", cfg.DBPath)

	var assistant devbackend.Assistant = devbackend.EchoAssistant{}
	if cfg.AnthropicAPIKey != "" {
		a, err := devbackend.NewAnthropicAssistant(cfg.AnthropicAPIKey, cfg.AssistantModel, cfg.AssistantMaxTokens, logger)
		if err != nil {
			slog.Error("Failed to initialize assistant", "error", err)
			os.Exit(1)
		}
		assistant = a
		slog.Info("Assistant enabled", "model", cfg.AssistantModel)
	} else {
		slog.Info("ANTHROPIC_API_KEY not set, using echo assistant")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := devbackend.NewBuilder(repo, cfg.BuildStepDelay, cfg.DeployBaseURL, logger)
	limiter := devbackend.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	server := devbackend.NewServer(repo, assistant, builder, limiter, cfg.Token, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	server.RegisterRoutes(r)

	// Deploy requests block for the whole build.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// gRPC health service for the session server's probe.
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
		os.Exit(1)
	}
	healthServer := health.NewServer(logger, health.ServiceName)
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	devbackend.StartSweeper(ctx, repo, sweepInterval, cfg.StaleDeploymentAfter, logger)

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
	healthServer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
