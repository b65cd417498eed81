// Package domain contains core domain types for pocketforge.
package domain

import (
	"time"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
	ProjectDeleted  ProjectStatus = "deleted"
)

// Project is a user's generated software project.
type Project struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	TechStack   map[string]any `json:"tech_stack"`
	DeployURL   string         `json:"deploy_url,omitempty"`
	Status      ProjectStatus  `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsDeployed returns true if the project has a live URL.
func (p *Project) IsDeployed() bool {
	return p.DeployURL != ""
}

// CreateProjectRequest is the body for creating a project.
type CreateProjectRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TechStack   []string `json:"techStack,omitempty"`
}

// UpdateProjectRequest is the body for a partial project update.
type UpdateProjectRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	TechStack   []string       `json:"techStack,omitempty"`
	Status      *ProjectStatus `json:"status,omitempty"`
}

// FileNode is an entry in a project's file tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"` // "file" or "directory"
	Size     int64      `json:"size,omitempty"`
	Children []FileNode `json:"children,omitempty"`
}

// FileTree is the listing returned for a project.
type FileTree struct {
	Files       []FileNode `json:"files"`
	TotalSize   int64      `json:"totalSize"`
	TotalSizeMB string     `json:"totalSizeMB"`
}

// File is a single file with its content.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
