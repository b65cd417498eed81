package domain

import (
	"time"
)

// DeploymentStatus is assigned by the deployment backend only.
type DeploymentStatus string

const (
	DeploymentPending  DeploymentStatus = "pending"
	DeploymentBuilding DeploymentStatus = "building"
	DeploymentSuccess  DeploymentStatus = "success"
	DeploymentFailed   DeploymentStatus = "failed"
)

// Terminal reports whether no further transitions follow this status.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentSuccess || s == DeploymentFailed
}

// Deployment is a snapshot of one deployment as reported by the backend.
type Deployment struct {
	ID         string           `json:"id"`
	ProjectID  string           `json:"project_id"`
	URL        string           `json:"deploy_url"`
	Status     DeploymentStatus `json:"status"`
	Logs       string           `json:"logs,omitempty"`
	DeployedAt time.Time        `json:"deployed_at"`
}

// DeployResponse is returned by the deployment trigger call.
type DeployResponse struct {
	Message   string `json:"message"`
	DeployURL string `json:"deployUrl"`
	ProjectID string `json:"projectId"`
}
