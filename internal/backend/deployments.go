package backend

import (
	"context"
	"fmt"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// Deploy triggers a deployment of the project.
func (c *Client) Deploy(ctx context.Context, projectID string) (*domain.DeployResponse, error) {
	var resp domain.DeployResponse
	if err := c.post(ctx, projectPath(projectID, "deploy"), nil, &resp); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	return &resp, nil
}

// GetDeployments returns the deployment history, newest first.
func (c *Client) GetDeployments(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	var resp struct {
		Deployments []domain.Deployment `json:"deployments"`
	}
	if err := c.get(ctx, projectPath(projectID, "deployments"), &resp); err != nil {
		return nil, fmt.Errorf("get deployments: %w", err)
	}
	return resp.Deployments, nil
}

// GetLatestDeployment returns the newest deployment, or nil if there is none.
func (c *Client) GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	var resp struct {
		Deployment *domain.Deployment `json:"deployment"`
	}
	if err := c.get(ctx, projectPath(projectID, "deployment", "latest"), &resp); err != nil {
		return nil, fmt.Errorf("get latest deployment: %w", err)
	}
	return resp.Deployment, nil
}
