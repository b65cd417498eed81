package backend

import (
	"context"
	"fmt"

	"github.com/pocketforge/pocketforge/internal/domain"
)

type projectEnvelope struct {
	Project *domain.Project `json:"project"`
}

// ListProjects returns all projects of the authenticated user.
func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var resp struct {
		Projects []domain.Project `json:"projects"`
	}
	if err := c.get(ctx, "/api/projects", &resp); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return resp.Projects, nil
}

// GetProject returns a single project.
func (c *Client) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var resp projectEnvelope
	if err := c.get(ctx, projectPath(id), &resp); err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return resp.Project, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, req domain.CreateProjectRequest) (*domain.Project, error) {
	var resp projectEnvelope
	if err := c.post(ctx, "/api/projects", req, &resp); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return resp.Project, nil
}

// UpdateProject applies a partial update.
func (c *Client) UpdateProject(ctx context.Context, id string, req domain.UpdateProjectRequest) (*domain.Project, error) {
	var resp projectEnvelope
	if err := c.put(ctx, projectPath(id), req, &resp); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return resp.Project, nil
}

// DeleteProject deletes a project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	if err := c.delete(ctx, projectPath(id), nil); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
