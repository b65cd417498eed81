package devbackend

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pocketforge/pocketforge/internal/domain"
	"github.com/pocketforge/pocketforge/internal/store"
)

const maxBodySize = 1 << 20

// Server exposes the backend HTTP API consumed by the session server.
type Server struct {
	repo      store.Repository
	assistant Assistant
	builder   *Builder
	limiter   *RateLimiter
	token     string
	logger    *slog.Logger
}

// NewServer creates the API server. An empty token disables authentication.
func NewServer(repo store.Repository, assistant Assistant, builder *Builder, limiter *RateLimiter, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		repo:      repo,
		assistant: assistant,
		builder:   builder,
		limiter:   limiter,
		token:     token,
		logger:    logger,
	}
}

// RegisterRoutes mounts the API under /api/projects.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/projects", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/", s.listProjects)
		r.Post("/", s.createProject)

		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.getProject)
			r.Put("/", s.updateProject)
			r.Delete("/", s.deleteProject)

			r.Post("/prompt", s.prompt)
			r.Get("/conversation", s.getConversation)

			r.Post("/deploy", s.deploy)
			r.Get("/deployments", s.listDeployments)
			r.Get("/deployment/latest", s.latestDeployment)

			r.Get("/files", s.fileTree)
			r.Post("/files", s.writeFile)
			r.Get("/files/*", s.readFile)
			r.Delete("/files/*", s.deleteFile)
		})
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// --- projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.repo.ListProjects(r.Context())
	if err != nil {
		s.internalError(w, "list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	p := &domain.Project{
		Name:        req.Name,
		Description: req.Description,
		TechStack:   techStack(req.TechStack),
	}
	if err := s.repo.CreateProject(r.Context(), p); err != nil {
		s.internalError(w, "create project", err)
		return
	}
	s.logger.Info("Project created", "project_id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusCreated, map[string]any{"project": p})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p})
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	var req domain.UpdateProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "name cannot be empty")
			return
		}
		p.Name = name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.TechStack != nil {
		p.TechStack = techStack(req.TechStack)
	}
	if req.Status != nil {
		p.Status = *req.Status
	}

	if err := s.repo.UpdateProject(r.Context(), p); err != nil {
		s.internalError(w, "update project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.repo.DeleteProject(r.Context(), chi.URLParam(r, "projectID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "project not found")
		return
	}
	if err != nil {
		s.internalError(w, "delete project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// project loads the addressed project, writing 404 when it is missing.
func (s *Server) project(w http.ResponseWriter, r *http.Request) (*domain.Project, bool) {
	p, err := s.repo.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.internalError(w, "get project", err)
		return nil, false
	}
	if p == nil || p.Status == domain.ProjectDeleted {
		writeError(w, http.StatusNotFound, "not_found", "project not found")
		return nil, false
	}
	return p, true
}

func techStack(stack []string) map[string]any {
	if len(stack) == 0 {
		return map[string]any{}
	}
	return map[string]any{"stack": stack}
}

// --- prompts ---

func (s *Server) prompt(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	var req domain.PromptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "message is required")
		return
	}
	if !s.limiter.Allow(p.ID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many prompts, slow down")
		return
	}

	ctx := r.Context()
	logger := s.logger.With("project_id", p.ID)

	reply, err := s.assistant.Reply(ctx, req.ConversationHistory, req.Message)
	if err != nil {
		logger.Error("Assistant failed", "error", err)
		writeError(w, http.StatusBadGateway, "assistant_error", "assistant failed to respond")
		return
	}

	ops := ParseFileOperations(reply.Text)
	for i, op := range ops {
		if op.Kind != domain.FileCreate {
			continue
		}
		if existing, err := s.repo.GetFile(ctx, p.ID, op.Path); err == nil && existing != nil {
			ops[i].Kind = domain.FileUpdate
		}
	}
	now := time.Now()
	conv, err := s.repo.RecordTurn(ctx, p.ID, []domain.Message{
		{Role: domain.RoleUser, Content: req.Message, Timestamp: now},
		{Role: domain.RoleAssistant, Content: reply.Text, Timestamp: now},
	}, reply.TokensUsed, ops)
	if err != nil {
		s.internalError(w, "record turn", err)
		return
	}

	if ops == nil {
		ops = []domain.FileOperation{}
	}
	logger.Info("Prompt answered", "tokens_used", reply.TokensUsed, "file_operations", len(ops))
	writeJSON(w, http.StatusOK, domain.PromptResponse{
		Response:       reply.Text,
		FileOperations: ops,
		TokensUsed:     reply.TokensUsed,
		ConversationID: conv.ID,
	})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.repo.GetConversation(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.internalError(w, "get conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
}

// --- deployments ---

// deploy blocks until the build finishes; pollers observe the intermediate
// statuses through the deployment endpoints meanwhile.
func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}

	d, err := s.builder.Deploy(r.Context(), p.ID)
	switch {
	case errors.Is(err, ErrNothingToDeploy):
		writeError(w, http.StatusUnprocessableEntity, "nothing_to_deploy", err.Error())
		return
	case err != nil:
		s.internalError(w, "deploy", err)
		return
	}

	writeJSON(w, http.StatusOK, domain.DeployResponse{
		Message:   "Deployment succeeded",
		DeployURL: d.URL,
		ProjectID: p.ID,
	})
}

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.repo.ListDeployments(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.internalError(w, "list deployments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (s *Server) latestDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.repo.LatestDeployment(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.internalError(w, "latest deployment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployment": d})
}

// --- files ---

func (s *Server) fileTree(w http.ResponseWriter, r *http.Request) {
	files, err := s.repo.ListFiles(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.internalError(w, "list files", err)
		return
	}
	writeJSON(w, http.StatusOK, buildTree(files))
}

func (s *Server) writeFile(w http.ResponseWriter, r *http.Request) {
	var f domain.File
	if !decodeBody(w, r, &f) {
		return
	}
	p, ok := cleanPath(f.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid file path")
		return
	}
	f.Path = p
	if err := s.repo.PutFile(r.Context(), chi.URLParam(r, "projectID"), f.Path, f.Content); err != nil {
		s.internalError(w, "write file", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file": f})
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request) {
	p, ok := wildcardPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid file path")
		return
	}
	f, err := s.repo.GetFile(r.Context(), chi.URLParam(r, "projectID"), p)
	if err != nil {
		s.internalError(w, "read file", err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	p, ok := wildcardPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid file path")
		return
	}
	err := s.repo.DeleteFile(r.Context(), chi.URLParam(r, "projectID"), p)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	if err != nil {
		s.internalError(w, "delete file", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func wildcardPath(r *http.Request) (string, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		return "", false
	}
	return cleanPath(raw)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("Request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}
