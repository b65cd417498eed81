package devbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketforge/pocketforge/internal/domain"
	"github.com/pocketforge/pocketforge/internal/store"
)

// ErrNothingToDeploy is returned when a project has no files.
var ErrNothingToDeploy = errors.New("project has no files to deploy")

// Builder runs the simulated build pipeline of a deployment.
type Builder struct {
	repo      store.Repository
	stepDelay time.Duration
	baseURL   string
	logger    *slog.Logger
}

// NewBuilder creates a builder publishing under baseURL.
func NewBuilder(repo store.Repository, stepDelay time.Duration, baseURL string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		repo:      repo,
		stepDelay: stepDelay,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

type buildStep struct {
	name string
	run  func(files []domain.File) string
}

var buildSteps = []buildStep{
	{"install", func([]domain.File) string { return "dependencies resolved" }},
	{"bundle", func(files []domain.File) string {
		var size int
		for _, f := range files {
			size += len(f.Content)
		}
		return fmt.Sprintf("bundled %d files (%d bytes)", len(files), size)
	}},
	{"upload", func([]domain.File) string { return "assets uploaded" }},
}

// Deploy records a pending deployment and drives it through building to a
// terminal status. Each transition is persisted so pollers observe it. The
// returned deployment is terminal unless ctx ends first.
func (b *Builder) Deploy(ctx context.Context, projectID string) (*domain.Deployment, error) {
	d := &domain.Deployment{ProjectID: projectID, Status: domain.DeploymentPending}
	if err := b.repo.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	logs := NewLogBuffer(defaultLogSize)
	logger := b.logger.With("project_id", projectID, "deployment_id", d.ID)

	fail := func(cause error) (*domain.Deployment, error) {
		logs.Logf("build failed: %v", cause)
		d.Status = domain.DeploymentFailed
		d.Logs = logs.String()
		// Record the failure even when the request context is gone.
		if err := b.repo.UpdateDeployment(context.WithoutCancel(ctx), d); err != nil {
			logger.Error("Failed to record failed deployment", "error", err)
		}
		logger.Warn("Deployment failed", "error", cause)
		return d, cause
	}

	files, err := b.repo.ListFiles(ctx, projectID)
	if err != nil {
		return fail(fmt.Errorf("list files: %w", err))
	}
	if len(files) == 0 {
		return fail(ErrNothingToDeploy)
	}

	d.Status = domain.DeploymentBuilding
	logs.Logf("build started for %d files", len(files))
	d.Logs = logs.String()
	if err := b.repo.UpdateDeployment(ctx, d); err != nil {
		return fail(fmt.Errorf("mark building: %w", err))
	}

	for _, step := range buildSteps {
		if err := sleepCtx(ctx, b.stepDelay); err != nil {
			return fail(fmt.Errorf("step %s: %w", step.name, err))
		}
		logs.Logf("[%s] %s", step.name, step.run(files))
		logger.Debug("Build step finished", "step", step.name)
	}

	d.Status = domain.DeploymentSuccess
	d.URL = b.deployURL(projectID, d.ID)
	logs.Logf("published to %s", d.URL)
	d.Logs = logs.String()
	if err := b.repo.UpdateDeployment(ctx, d); err != nil {
		return fail(fmt.Errorf("mark success: %w", err))
	}

	if p, err := b.repo.GetProject(ctx, projectID); err == nil && p != nil {
		p.DeployURL = d.URL
		if err := b.repo.UpdateProject(ctx, p); err != nil {
			logger.Warn("Failed to store project deploy url", "error", err)
		}
	}

	logger.Info("Deployment succeeded", "deploy_url", d.URL)
	return d, nil
}

func (b *Builder) deployURL(projectID, deploymentID string) string {
	short := deploymentID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s/%s-%s", b.baseURL, projectID, short)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
