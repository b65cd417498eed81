package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// FileTree returns the project's file listing.
func (c *Client) FileTree(ctx context.Context, projectID string) (*domain.FileTree, error) {
	var resp domain.FileTree
	if err := c.get(ctx, projectPath(projectID, "files"), &resp); err != nil {
		return nil, fmt.Errorf("get file tree: %w", err)
	}
	return &resp, nil
}

// ReadFile returns a single file.
func (c *Client) ReadFile(ctx context.Context, projectID, path string) (*domain.File, error) {
	var resp domain.File
	if err := c.get(ctx, projectPath(projectID, "files", escapeFilePath(path)), &resp); err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return &resp, nil
}

// WriteFile creates or replaces a file.
func (c *Client) WriteFile(ctx context.Context, projectID, path, content string) error {
	body := domain.File{Path: path, Content: content}
	if err := c.post(ctx, projectPath(projectID, "files"), body, nil); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file.
func (c *Client) DeleteFile(ctx context.Context, projectID, path string) error {
	if err := c.delete(ctx, projectPath(projectID, "files", escapeFilePath(path)), nil); err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return nil
}

// escapeFilePath escapes each segment but keeps the slashes.
func escapeFilePath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
