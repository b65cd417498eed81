// Package store provides data persistence for the development backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// ErrNotFound is returned by mutations addressing a missing record.
var ErrNotFound = errors.New("not found")

// Repository defines the persistence contract of the development backend.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// ListProjects returns all non-deleted projects, newest first.
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// GetProject retrieves a project; nil when it does not exist.
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// CreateProject inserts a project.
	CreateProject(ctx context.Context, project *domain.Project) error

	// UpdateProject overwrites a project's mutable fields.
	UpdateProject(ctx context.Context, project *domain.Project) error

	// DeleteProject removes a project with its conversation, deployments and files.
	DeleteProject(ctx context.Context, id string) error

	// GetConversation retrieves a project's conversation; nil when none exists.
	GetConversation(ctx context.Context, projectID string) (*domain.Conversation, error)

	// AppendTurn appends messages to the project's conversation, creating it
	// on first use, and adds tokens to the running total.
	AppendTurn(ctx context.Context, projectID string, messages []domain.Message, tokens int) (*domain.Conversation, error)

	// RecordTurn applies a turn's file operations and appends its messages
	// atomically.
	RecordTurn(ctx context.Context, projectID string, messages []domain.Message, tokens int, ops []domain.FileOperation) (*domain.Conversation, error)

	// CreateDeployment inserts a deployment.
	CreateDeployment(ctx context.Context, d *domain.Deployment) error

	// UpdateDeployment stores a deployment's status, URL and logs.
	UpdateDeployment(ctx context.Context, d *domain.Deployment) error

	// ListDeployments returns a project's deployments, newest first.
	ListDeployments(ctx context.Context, projectID string) ([]domain.Deployment, error)

	// LatestDeployment returns the newest deployment; nil when none exists.
	LatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)

	// FailStaleDeployments marks deployments stuck in pending or building
	// for longer than olderThan as failed.
	FailStaleDeployments(ctx context.Context, olderThan time.Duration) (int64, error)

	// ListFiles returns a project's files ordered by path.
	ListFiles(ctx context.Context, projectID string) ([]domain.File, error)

	// GetFile retrieves a file; nil when it does not exist.
	GetFile(ctx context.Context, projectID, path string) (*domain.File, error)

	// PutFile creates or replaces a file.
	PutFile(ctx context.Context, projectID, path, content string) error

	// DeleteFile removes a file.
	DeleteFile(ctx context.Context, projectID, path string) error

	// ApplyFileOperations applies ops atomically.
	ApplyFileOperations(ctx context.Context, projectID string, ops []domain.FileOperation) error
}
