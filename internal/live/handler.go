package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pocketforge/pocketforge/internal/conversation"
	"github.com/pocketforge/pocketforge/internal/identity"
)

const writeTimeout = 10 * time.Second

// Event types pushed to clients.
const (
	EventView         = "view"
	EventFilesChanged = "files_changed"
	EventPong         = "pong"
)

// Command types accepted from clients.
const (
	CommandSend   = "send"
	CommandDeploy = "deploy"
	CommandPing   = "ping"
)

// Event is a server-to-client frame.
type Event struct {
	Type string             `json:"type"`
	View *conversation.View `json:"view,omitempty"`
}

// Command is a client-to-server frame.
type Command struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// SessionSource resolves a project's session.
type SessionSource interface {
	Get(ctx context.Context, projectID string) (*conversation.Session, error)
}

// Handler upgrades requests to WebSocket and streams session changes.
type Handler struct {
	sessions       SessionSource
	registry       *Registry
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a live view handler.
func NewHandler(sessions SessionSource, registry *Registry, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:       sessions,
		registry:       registry,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		clientID = uuid.NewString()
	}
	logger := h.logger.With("project_id", projectID, "client_id", clientID)
	logger.Info("Live connection request", "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	session, err := h.sessions.Get(r.Context(), projectID)
	if err != nil {
		logger.Warn("Live connection without session", "error", err)
		http.Error(w, "session unavailable", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.registry.Register(projectID, clientID, ws)
	defer h.registry.Unregister(projectID, clientID, ws)

	sub := session.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, session, logger)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, session, sub, logger)
	}()

	wg.Wait()
	logger.Info("Live connection ended")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, session *conversation.Session, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				logger.Debug("WebSocket closed", "error", err)
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			logger.Debug("Ignoring malformed command", "error", err)
			continue
		}

		switch cmd.Type {
		case CommandSend:
			err = session.SendAsync(cmd.Message)
		case CommandDeploy:
			err = session.DeployAsync()
		case CommandPing:
			err = writeEvent(ctx, ws, Event{Type: EventPong})
		default:
			logger.Debug("Ignoring unknown command", "type", cmd.Type)
			continue
		}

		// The session was discarded; ending the stream makes the client
		// reconnect to a fresh one.
		if errors.Is(err, conversation.ErrSessionClosed) {
			logger.Info("Session closed, ending stream")
			return
		}
		// Rejected commands are dropped without feedback.
		if err != nil && !conversation.IsRejection(err) {
			logger.Warn("Command failed", "type", cmd.Type, "error", err)
		}
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, session *conversation.Session, sub *conversation.Subscription, logger *slog.Logger) {
	if err := pushView(ctx, ws, session); err != nil {
		logger.Debug("Initial view push failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				logger.Info("Session closed, ending live stream")
				_ = ws.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if sub.TakeFilesChanged() {
				if err := writeEvent(ctx, ws, Event{Type: EventFilesChanged}); err != nil {
					logger.Debug("Files-changed push failed", "error", err)
					return
				}
			}
			if err := pushView(ctx, ws, session); err != nil {
				logger.Debug("View push failed", "error", err)
				return
			}
		}
	}
}

func pushView(ctx context.Context, ws *websocket.Conn, session *conversation.Session) error {
	view := session.View()
	return writeEvent(ctx, ws, Event{Type: EventView, View: &view})
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}
