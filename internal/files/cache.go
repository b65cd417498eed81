// Package files caches project file listings for the session server.
package files

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// TreeSource fetches a project's file tree from the backend.
type TreeSource interface {
	FileTree(ctx context.Context, projectID string) (*domain.FileTree, error)
}

type entry struct {
	ready chan struct{}
	tree  *domain.FileTree
	err   error
}

// Cache holds one file tree per project. Concurrent readers of a missing
// entry share a single fetch; Invalidate forces the next read to refetch.
type Cache struct {
	src    TreeSource
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates an empty cache in front of src.
func NewCache(src TreeSource, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		src:     src,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Tree returns the project's file tree, fetching it when not cached.
func (c *Cache) Tree(ctx context.Context, projectID string) (*domain.FileTree, error) {
	c.mu.Lock()
	e, ok := c.entries[projectID]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		c.entries[projectID] = e
		c.mu.Unlock()
		c.fetch(ctx, projectID, e)
	} else {
		c.mu.Unlock()
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.tree, nil
}

func (c *Cache) fetch(ctx context.Context, projectID string, e *entry) {
	// Other readers may be waiting on this fetch after ctx is gone.
	tree, err := c.src.FileTree(context.WithoutCancel(ctx), projectID)

	c.mu.Lock()
	e.tree, e.err = tree, err
	if err != nil && c.entries[projectID] == e {
		delete(c.entries, projectID)
	}
	c.mu.Unlock()
	close(e.ready)

	if err != nil {
		c.logger.Warn("File tree fetch failed", "project_id", projectID, "error", err)
	}
}

// Invalidate drops the project's entry. A fetch already in flight still
// answers its waiters but is not reused.
func (c *Cache) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
	c.logger.Debug("File tree invalidated", "project_id", projectID)
}

// OnFilesChanged adapts Invalidate to the session's files-changed signal.
func (c *Cache) OnFilesChanged(projectID string, ops []domain.FileOperation) {
	c.Invalidate(projectID)
}

// Reader reads single files from the backend.
type Reader interface {
	ReadFile(ctx context.Context, projectID, path string) (*domain.File, error)
}

// Service serves file trees from the cache and file contents from the
// backend.
type Service struct {
	*Cache
	reader Reader
}

// NewService combines a cache with a content reader.
func NewService(cache *Cache, reader Reader) *Service {
	return &Service{Cache: cache, reader: reader}
}

// ReadFile returns one file's content; contents are never cached.
func (s *Service) ReadFile(ctx context.Context, projectID, path string) (*domain.File, error) {
	return s.reader.ReadFile(ctx, projectID, path)
}
