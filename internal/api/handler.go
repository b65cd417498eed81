// Package api provides the HTTP handlers of the pocketforge session server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketforge/pocketforge/internal/backend"
	"github.com/pocketforge/pocketforge/internal/conversation"
	"github.com/pocketforge/pocketforge/internal/domain"
)

// SessionStore resolves and discards per-project sessions.
type SessionStore interface {
	Get(ctx context.Context, projectID string) (*conversation.Session, error)
	Close(projectID string) bool
}

// ProjectService is the project passthrough boundary.
type ProjectService interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateProject(ctx context.Context, req domain.CreateProjectRequest) (*domain.Project, error)
}

// FileService serves project files: the tree through the cache, content
// straight from the backend.
type FileService interface {
	Tree(ctx context.Context, projectID string) (*domain.FileTree, error)
	ReadFile(ctx context.Context, projectID, path string) (*domain.File, error)
}

// Handler provides common handler utilities.
type Handler struct {
	sessions SessionStore
	projects ProjectService
	files    FileService
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions SessionStore, projects ProjectService, files FileService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		projects: projects,
		files:    files,
		logger:   logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// upstreamError maps a backend failure onto a response.
func (h *Handler) upstreamError(w http.ResponseWriter, op string, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		h.logger.Warn("Backend rejected request", "op", op, "status", apiErr.Status, "error", err)
		Error(w, apiErr.Status, apiErr.Message)
	case errors.Is(err, backend.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		h.logger.Error("Backend timed out", "op", op, "error", err)
		Error(w, http.StatusGatewayTimeout, "backend timed out")
	default:
		h.logger.Error("Backend request failed", "op", op, "error", err)
		Error(w, http.StatusBadGateway, "backend unavailable")
	}
}
