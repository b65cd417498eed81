package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pocketforge/pocketforge/internal/domain"
)

const (
	maxRetries     = 3
	retryBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	convMu sync.Mutex // serializes read-modify-write of conversations
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; busy_timeout before surfacing SQLITE_BUSY.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		tech_stack_json TEXT NOT NULL DEFAULT '{}',
		deploy_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL UNIQUE,
		messages_json TEXT NOT NULL,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		deploy_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		logs TEXT NOT NULL DEFAULT '',
		deployed_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deployments_project ON deployments(project_id, deployed_at);
	CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status, updated_at);

	CREATE TABLE IF NOT EXISTS files (
		project_id TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (project_id, path)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLite lock conflicts with exponential backoff.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := range maxRetries {
		err = fn()
		if err == nil || !isConflict(err) || i == maxRetries-1 {
			return err
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// --- projects ---

const projectColumns = `id, user_id, name, description, tech_stack_json, deploy_url, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var techStack string
	var createdAt, updatedAt int64

	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &techStack,
		&p.DeployURL, &p.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(techStack), &p.TechStack); err != nil {
		return nil, fmt.Errorf("decode tech stack of %s: %w", p.ID, err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

func encodeTechStack(stack map[string]any) (string, error) {
	if stack == nil {
		stack = map[string]any{}
	}
	data, err := json.Marshal(stack)
	if err != nil {
		return "", fmt.Errorf("encode tech stack: %w", err)
	}
	return string(data), nil
}

// ListProjects returns all non-deleted projects, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE status != ? ORDER BY created_at DESC, rowid DESC`
	rows, err := s.db.QueryContext(ctx, query, domain.ProjectDeleted)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close project rows", "error", closeErr)
		}
	}()

	projects := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// GetProject retrieves a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}
	return p, nil
}

// CreateProject inserts a project, assigning an ID and timestamps when unset.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *domain.Project) error {
	now := s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.ProjectActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	techStack, err := encodeTechStack(p.TechStack)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Description, techStack, p.DeployURL, p.Status,
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// UpdateProject overwrites a project's mutable fields.
func (s *SQLiteStore) UpdateProject(ctx context.Context, p *domain.Project) error {
	p.UpdatedAt = s.now()
	techStack, err := encodeTechStack(p.TechStack)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, tech_stack_json = ?, deploy_url = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, techStack, p.DeployURL, p.Status, p.UpdatedAt.Unix(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(result, "project")
}

// DeleteProject removes a project and everything that belongs to it.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return s.withRetry(ctx, "delete_project", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete project: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		if err := requireRow(result, "project"); err != nil {
			return err
		}
		for _, table := range []string{"conversations", "deployments", "files"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id = ?`, id); err != nil {
				return fmt.Errorf("delete project %s: %w", table, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete project: %w", err)
		}
		return nil
	})
}

func requireRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}

// --- conversations ---

// GetConversation retrieves the conversation of a project.
func (s *SQLiteStore) GetConversation(ctx context.Context, projectID string) (*domain.Conversation, error) {
	return getConversation(ctx, s.db, projectID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getConversation(ctx context.Context, q queryRower, projectID string) (*domain.Conversation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, project_id, messages_json, total_tokens, created_at, updated_at
		FROM conversations WHERE project_id = ?`, projectID)

	var conv domain.Conversation
	var messagesJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&conv.ID, &conv.ProjectID, &messagesJSON, &conv.TotalTokens, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, fmt.Errorf("decode conversation messages: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	return &conv, nil
}

// AppendTurn appends messages to the project's conversation.
func (s *SQLiteStore) AppendTurn(ctx context.Context, projectID string, messages []domain.Message, tokens int) (*domain.Conversation, error) {
	return s.RecordTurn(ctx, projectID, messages, tokens, nil)
}

// RecordTurn applies a turn's file operations and appends its messages in
// one transaction: either both land or neither does.
func (s *SQLiteStore) RecordTurn(ctx context.Context, projectID string, messages []domain.Message, tokens int, ops []domain.FileOperation) (*domain.Conversation, error) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	var out *domain.Conversation
	err := s.inTx(ctx, "record_turn", func(tx *sql.Tx) error {
		if err := s.applyFileOperations(ctx, tx, projectID, ops); err != nil {
			return err
		}
		conv, err := s.appendTurn(ctx, tx, projectID, messages, tokens)
		if err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) appendTurn(ctx context.Context, tx *sql.Tx, projectID string, messages []domain.Message, tokens int) (*domain.Conversation, error) {
	conv, err := getConversation(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if conv == nil {
		conv = &domain.Conversation{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Messages:  []domain.Message{},
			CreatedAt: now,
		}
	}
	conv.Messages = append(conv.Messages, messages...)
	conv.TotalTokens += tokens
	conv.UpdatedAt = now

	data, err := json.Marshal(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode conversation messages: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, project_id, messages_json, total_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			total_tokens = excluded.total_tokens,
			updated_at = excluded.updated_at`,
		conv.ID, conv.ProjectID, string(data), conv.TotalTokens,
		conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return conv, nil
}

// inTx runs fn in a transaction, retrying lock conflicts. fn must not commit.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", op, err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", op, err)
		}
		return nil
	})
}

// --- deployments ---

const deploymentColumns = `id, project_id, deploy_url, status, logs, deployed_at`

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	var deployedAt int64
	if err := row.Scan(&d.ID, &d.ProjectID, &d.URL, &d.Status, &d.Logs, &deployedAt); err != nil {
		return nil, err
	}
	d.DeployedAt = time.Unix(deployedAt, 0)
	return &d, nil
}

// CreateDeployment inserts a deployment, assigning an ID when unset.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DeployedAt.IsZero() {
		d.DeployedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (`+deploymentColumns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.URL, d.Status, d.Logs, d.DeployedAt.Unix(), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// UpdateDeployment stores a deployment's status, URL and logs.
func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *domain.Deployment) error {
	return s.withRetry(ctx, "update_deployment", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE deployments SET deploy_url = ?, status = ?, logs = ?, updated_at = ? WHERE id = ?`,
			d.URL, d.Status, d.Logs, s.now().Unix(), d.ID,
		)
		if err != nil {
			return fmt.Errorf("update deployment: %w", err)
		}
		return requireRow(result, "deployment")
	})
}

// ListDeployments returns a project's deployments, newest first.
func (s *SQLiteStore) ListDeployments(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments WHERE project_id = ?
		ORDER BY deployed_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close deployment rows", "error", closeErr)
		}
	}()

	deployments := []domain.Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment row: %w", err)
		}
		deployments = append(deployments, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return deployments, nil
}

// LatestDeployment returns the newest deployment of a project.
func (s *SQLiteStore) LatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments WHERE project_id = ?
		ORDER BY deployed_at DESC, rowid DESC LIMIT 1`, projectID)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan deployment row: %w", err)
	}
	return d, nil
}

// FailStaleDeployments marks deployments stuck in flight as failed.
func (s *SQLiteStore) FailStaleDeployments(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	threshold := now.Add(-olderThan).Unix()

	var affected int64
	err := s.withRetry(ctx, "fail_stale_deployments", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE deployments
			SET status = ?, logs = logs || ?, updated_at = ?
			WHERE status IN (?, ?) AND updated_at < ?`,
			domain.DeploymentFailed, "\nbuild abandoned: no progress reported", now.Unix(),
			domain.DeploymentPending, domain.DeploymentBuilding, threshold,
		)
		if err != nil {
			return fmt.Errorf("fail stale deployments: %w", err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

// --- files ---

// ListFiles returns a project's files ordered by path.
func (s *SQLiteStore) ListFiles(ctx context.Context, projectID string) ([]domain.File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, content FROM files WHERE project_id = ? ORDER BY path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close file rows", "error", closeErr)
		}
	}()

	files := []domain.File{}
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.Path, &f.Content); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// GetFile retrieves a single file.
func (s *SQLiteStore) GetFile(ctx context.Context, projectID, path string) (*domain.File, error) {
	f := domain.File{Path: path}
	err := s.db.QueryRowContext(ctx, `SELECT content FROM files WHERE project_id = ? AND path = ?`,
		projectID, path).Scan(&f.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &f, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) putFile(ctx context.Context, ex execer, projectID, path, content string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO files (project_id, path, content, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		projectID, path, content, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put file %s: %w", path, err)
	}
	return nil
}

// PutFile creates or replaces a file.
func (s *SQLiteStore) PutFile(ctx context.Context, projectID, path, content string) error {
	return s.withRetry(ctx, "put_file", func() error {
		return s.putFile(ctx, s.db, projectID, path, content)
	})
}

// DeleteFile removes a file.
func (s *SQLiteStore) DeleteFile(ctx context.Context, projectID, path string) error {
	return s.withRetry(ctx, "delete_file", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ? AND path = ?`, projectID, path)
		if err != nil {
			return fmt.Errorf("delete file %s: %w", path, err)
		}
		return requireRow(result, "file")
	})
}

// ApplyFileOperations applies ops in one transaction. Deleting a missing
// file is not an error.
func (s *SQLiteStore) ApplyFileOperations(ctx context.Context, projectID string, ops []domain.FileOperation) error {
	if len(ops) == 0 {
		return nil
	}
	return s.inTx(ctx, "apply_file_operations", func(tx *sql.Tx) error {
		return s.applyFileOperations(ctx, tx, projectID, ops)
	})
}

func (s *SQLiteStore) applyFileOperations(ctx context.Context, tx *sql.Tx, projectID string, ops []domain.FileOperation) error {
	for _, op := range ops {
		switch op.Kind {
		case domain.FileCreate, domain.FileUpdate:
			if err := s.putFile(ctx, tx, projectID, op.Path, op.Content); err != nil {
				return err
			}
		case domain.FileDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE project_id = ? AND path = ?`, projectID, op.Path); err != nil {
				return fmt.Errorf("delete file %s: %w", op.Path, err)
			}
		default:
			return fmt.Errorf("unknown file operation %q for %s", op.Kind, op.Path)
		}
	}
	return nil
}
