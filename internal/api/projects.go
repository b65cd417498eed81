package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// ProjectHandler passes project and file requests through to the backend.
type ProjectHandler struct {
	*Handler
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(base *Handler) *ProjectHandler {
	return &ProjectHandler{Handler: base}
}

// RegisterRoutes registers project and file routes.
func (h *ProjectHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/projects", h.ListProjects)
	r.Post("/api/projects", h.CreateProject)
	r.Get("/api/projects/{projectID}/files", h.FileTree)
	r.Get("/api/projects/{projectID}/files/*", h.ReadFile)
}

// ListProjects returns the user's projects.
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.ListProjects(r.Context())
	if err != nil {
		h.upstreamError(w, "list_projects", err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	JSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// CreateProject creates a project.
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	project, err := h.projects.CreateProject(r.Context(), req)
	if err != nil {
		h.upstreamError(w, "create_project", err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"project": project})
}

// FileTree returns the project's file listing from the cache.
func (h *ProjectHandler) FileTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.files.Tree(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.upstreamError(w, "file_tree", err)
		return
	}
	JSON(w, http.StatusOK, tree)
}

// ReadFile returns one file's content.
func (h *ProjectHandler) ReadFile(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		Error(w, http.StatusBadRequest, "file path is required")
		return
	}

	file, err := h.files.ReadFile(r.Context(), chi.URLParam(r, "projectID"), path)
	if err != nil {
		h.upstreamError(w, "read_file", err)
		return
	}
	JSON(w, http.StatusOK, file)
}
