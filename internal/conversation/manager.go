package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultReapInterval = 5 * time.Minute

type managedSession struct {
	ready      chan struct{}
	session    *Session
	lastAccess time.Time
}

// Manager holds one Session per project.
type Manager struct {
	backend Backend
	opts    []Option
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewManager creates a manager that opens sessions against backend with opts.
func NewManager(backend Backend, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  backend,
		opts:     append([]Option{WithLogger(logger)}, opts...),
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*managedSession),
	}
}

// Get returns the project's session, opening and hydrating it on first use.
// Concurrent first calls share one hydration.
func (m *Manager) Get(ctx context.Context, projectID string) (*Session, error) {
	if projectID == "" {
		return nil, errEmptyProjectID
	}

	m.mu.Lock()
	entry, ok := m.sessions[projectID]
	if ok {
		entry.lastAccess = m.now()
		m.mu.Unlock()
		select {
		case <-entry.ready:
			return entry.session, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry = &managedSession{ready: make(chan struct{}), lastAccess: m.now()}
	m.sessions[projectID] = entry
	m.mu.Unlock()

	// Hydration must not be cut short by the caller that happened to arrive
	// first.
	session, err := Open(context.WithoutCancel(ctx), projectID, m.backend, m.opts...)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, projectID)
		m.mu.Unlock()
		close(entry.ready)
		return nil, err
	}
	entry.session = session
	close(entry.ready)

	m.logger.Info("Session opened", "project_id", projectID)
	return session, nil
}

// Close discards a project's local session state.
func (m *Manager) Close(projectID string) bool {
	return m.closeIf(projectID, nil)
}

// closeIf discards the project's session if keep is nil or still reports
// true. keep runs under the same lock Get takes, so a session handed out
// after the decision is never closed.
func (m *Manager) closeIf(projectID string, keep func(*managedSession) bool) bool {
	m.mu.Lock()
	entry, ok := m.sessions[projectID]
	if !ok || (keep != nil && !keep(entry)) {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, projectID)
	m.mu.Unlock()

	<-entry.ready
	if entry.session != nil {
		entry.session.Close()
	}
	m.logger.Info("Session closed", "project_id", projectID)
	return true
}

// CloseAll discards every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartReaper runs a background goroutine that discards sessions idle for
// longer than ttl. Sessions with an outstanding prompt or deployment, or with
// live subscribers, are kept.
func (m *Manager) StartReaper(ctx context.Context, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Session reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.reapIdle(ttl)
			case <-ctx.Done():
				m.logger.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) reapIdle(ttl time.Duration) int {
	threshold := m.now().Add(-ttl)
	idle := func(entry *managedSession) bool {
		select {
		case <-entry.ready:
		default:
			return false
		}
		if entry.session == nil || entry.lastAccess.After(threshold) {
			return false
		}
		return !entry.session.Busy() && entry.session.Subscribers() == 0
	}

	m.mu.Lock()
	var candidates []string
	for id, entry := range m.sessions {
		if idle(entry) {
			candidates = append(candidates, id)
		}
	}
	m.mu.Unlock()

	// A candidate may have been handed out since the scan; closeIf decides
	// again.
	reaped := 0
	for _, id := range candidates {
		if m.closeIf(id, idle) {
			reaped++
		}
	}
	if reaped > 0 {
		m.logger.Info("Session reaper closed idle sessions", "count", reaped)
	}
	return reaped
}
