package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pocketforge/pocketforge/internal/conversation"
)

const maxMessageBody = 64 << 10

// SessionHandler handles conversation session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// acceptance is the response envelope of fire-and-forget commands.
type acceptance struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type messageRequest struct {
	Message string `json:"message"`
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/projects/{projectID}/session", h.GetSession)
	r.Delete("/api/projects/{projectID}/session", h.DeleteSession)
	r.Post("/api/projects/{projectID}/messages", h.PostMessage)
	r.Post("/api/projects/{projectID}/deploy", h.Deploy)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*conversation.Session, bool) {
	projectID := chi.URLParam(r, "projectID")
	s, err := h.sessions.Get(r.Context(), projectID)
	if err != nil {
		h.logger.Warn("Session lookup failed", "project_id", projectID, "error", err)
		Error(w, http.StatusBadRequest, "invalid project")
		return nil, false
	}
	return s, true
}

// GetSession returns the current view of the project's conversation.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// DeleteSession discards the local session; the next access rehydrates.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	closed := h.sessions.Close(projectID)
	JSON(w, http.StatusOK, map[string]any{"closed": closed})
}

// PostMessage submits a prompt. Acceptance is reported immediately; the
// outcome is observable through the session view.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.command(w, r, s, func(s *conversation.Session) error {
		return s.SendAsync(req.Message)
	})
}

// Deploy triggers a deployment of the project.
func (h *SessionHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.command(w, r, s, (*conversation.Session).DeployAsync)
}

// command runs fn against s. A session closed underneath the request (by the
// idle reaper or a concurrent DELETE) is reopened once and fn retried.
func (h *SessionHandler) command(w http.ResponseWriter, r *http.Request, s *conversation.Session, fn func(*conversation.Session) error) {
	err := fn(s)
	if errors.Is(err, conversation.ErrSessionClosed) {
		h.logger.Debug("Session closed during command, reopening", "project_id", s.ProjectID())
		if s, err = h.sessions.Get(r.Context(), s.ProjectID()); err == nil {
			err = fn(s)
		}
	}
	h.respondAcceptance(w, err)
}

func (h *SessionHandler) respondAcceptance(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		JSON(w, http.StatusAccepted, acceptance{Accepted: true})
	case conversation.IsRejection(err):
		JSON(w, http.StatusOK, acceptance{Accepted: false, Reason: rejectionReason(err)})
	case errors.Is(err, conversation.ErrSessionClosed):
		Error(w, http.StatusServiceUnavailable, "session closed, retry")
	default:
		h.logger.Error("Command failed", "error", err)
		Error(w, http.StatusInternalServerError, "command failed")
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, conversation.ErrPromptPending):
		return "prompt_pending"
	case errors.Is(err, conversation.ErrDeployPending):
		return "deploy_pending"
	default:
		return ""
	}
}
