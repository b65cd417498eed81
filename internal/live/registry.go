// Package live pushes conversation view updates to connected clients over
// WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks one live connection per client and project.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn // project -> client -> conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection; an older connection of the same client is
// closed and replaced.
func (r *Registry) Register(projectID, clientID string, conn *websocket.Conn) {
	r.mu.Lock()
	if _, exists := r.active[projectID]; !exists {
		r.active[projectID] = make(map[string]*websocket.Conn)
	}
	existing := r.active[projectID][clientID]
	r.active[projectID][clientID] = conn
	r.mu.Unlock()

	// The close handshake waits on the peer; keep it outside the lock.
	if existing != nil && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	slog.Info("Live connection registered", "project_id", projectID, "client_id", clientID)
}

// Unregister removes conn if it is still the client's current connection.
func (r *Registry) Unregister(projectID, clientID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if clients, ok := r.active[projectID]; ok {
		if current, exists := clients[clientID]; exists && current == conn {
			delete(clients, clientID)
			if len(clients) == 0 {
				delete(r.active, projectID)
			}
			slog.Info("Live connection unregistered", "project_id", projectID, "client_id", clientID)
		}
	}
}

// Count returns the number of connections watching a project.
func (r *Registry) Count(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[projectID])
}
