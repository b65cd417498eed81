package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Checker reports whether a dependency is healthy.
type Checker interface {
	Check(ctx context.Context, service string) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	backend Checker
	service string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. backend may be nil when no
// health endpoint is configured.
func NewHealthHandler(base *Handler, backend Checker, service string) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		service: service,
		timeout: 5 * time.Second,
		logger:  base.logger,
	}
}

// Health returns the health status of the server and its backend.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "backend": "unchecked"}
	status := map[string]any{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	if h.backend != nil {
		if err := h.backend.Check(ctx, h.service); err != nil {
			h.logger.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			checks["backend"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["backend"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the detailed health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
