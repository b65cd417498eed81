package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// DefaultPollInterval is the latest-deployment refresh cadence while a
// deploy trigger is outstanding.
const DefaultPollInterval = 3 * time.Second

// DeploymentAPI is the deployment backend boundary.
type DeploymentAPI interface {
	Deploy(ctx context.Context, projectID string) (*domain.DeployResponse, error)
	GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
}

// Monitor triggers deployments one at a time and keeps the latest
// deployment snapshot fresh while a trigger is outstanding.
type Monitor struct {
	projectID string
	api       DeploymentAPI
	interval  time.Duration
	logger    *slog.Logger
	changed   func()

	mu         sync.Mutex
	stopped    bool
	deploying  bool
	latest     *domain.Deployment
	lastErr    error
	lastResult *domain.DeployResponse
	wg         sync.WaitGroup
}

// MonitorConfig holds optional Monitor collaborators.
type MonitorConfig struct {
	PollInterval time.Duration
	Logger       *slog.Logger
	Changed      func()
}

// NewMonitor creates an idle monitor with no known deployment.
func NewMonitor(projectID string, api DeploymentAPI, cfg MonitorConfig) *Monitor {
	m := &Monitor{
		projectID: projectID,
		api:       api,
		interval:  cfg.PollInterval,
		logger:    cfg.Logger,
		changed:   cfg.Changed,
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("project_id", projectID)
	if m.changed == nil {
		m.changed = func() {}
	}
	return m
}

// Deploy triggers a deployment and blocks until the trigger settles.
func (m *Monitor) Deploy(ctx context.Context) (*domain.DeployResponse, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()
	return m.run(ctx)
}

// Start triggers a deployment in the background. ctx bounds the trigger and
// the polling that accompanies it.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	go func() {
		defer m.wg.Done()
		_, _ = m.run(ctx)
	}()
	return nil
}

func (m *Monitor) begin() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if m.deploying {
		m.mu.Unlock()
		return ErrDeployPending
	}
	m.deploying = true
	m.lastErr = nil
	m.wg.Add(1)
	m.mu.Unlock()
	m.changed()
	return nil
}

func (m *Monitor) run(ctx context.Context) (*domain.DeployResponse, error) {
	pollCtx, stopPolling := context.WithCancel(ctx)
	var poller sync.WaitGroup
	poller.Add(1)
	go func() {
		defer poller.Done()
		m.poll(pollCtx)
	}()

	m.logger.Info("Deployment triggered", "poll_interval", m.interval)
	resp, err := m.api.Deploy(ctx, m.projectID)

	// The poller must be gone before anything else writes the snapshot.
	stopPolling()
	poller.Wait()

	if err == nil && resp == nil {
		err = errEmptyDeployResponse
	}
	if err != nil {
		deployErr := &DeployError{Err: err}
		m.settle(nil, deployErr)
		m.logger.Error("Deployment trigger failed", "error", err)
		return nil, deployErr
	}

	if err := m.Refresh(ctx); err != nil {
		m.logger.Debug("Post-deploy refresh failed", "error", err)
	}
	m.settle(resp, nil)
	m.logger.Info("Deployment trigger settled", "deploy_url", resp.DeployURL)
	return resp, nil
}

// poll refreshes the snapshot every interval until ctx is cancelled.
func (m *Monitor) poll(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Debug("Deployment poll failed, retrying next tick", "error", err)
			}
		}
	}
}

// Refresh fetches the latest deployment once and replaces the snapshot.
// An absent deployment leaves a known snapshot in place.
func (m *Monitor) Refresh(ctx context.Context) error {
	dep, err := m.api.GetLatestDeployment(ctx, m.projectID)
	if err != nil {
		return err
	}
	if dep == nil {
		return nil
	}

	m.mu.Lock()
	prev := m.latest
	m.latest = dep
	m.mu.Unlock()

	if prev == nil || prev.Status != dep.Status || prev.ID != dep.ID {
		m.logger.Info("Deployment status observed",
			"deployment_id", dep.ID,
			"status", dep.Status,
		)
	}
	m.changed()
	return nil
}

func (m *Monitor) settle(resp *domain.DeployResponse, err error) {
	m.mu.Lock()
	m.deploying = false
	m.lastErr = err
	if resp != nil {
		m.lastResult = resp
	}
	m.mu.Unlock()
	m.changed()
}

// Stop makes every later trigger fail with ErrSessionClosed. A trigger
// already accepted still settles; use Wait to await it.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

// Deploying reports whether a trigger is outstanding.
func (m *Monitor) Deploying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deploying
}

// Latest returns a copy of the latest known deployment, or nil.
func (m *Monitor) Latest() *domain.Deployment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil
	}
	dep := *m.latest
	return &dep
}

// LastError returns the failure of the most recent trigger, if any.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// LastResult returns the response of the most recent successful trigger.
func (m *Monitor) LastResult() *domain.DeployResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// Wait blocks until no trigger is outstanding.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
