package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// ConversationStore is the server-side transcript store, read once per
// session.
type ConversationStore interface {
	GetConversation(ctx context.Context, projectID string) (*domain.Conversation, error)
}

// Backend is everything a session needs from the remote service.
type Backend interface {
	PromptAPI
	DeploymentAPI
	ConversationStore
}

// View is the read-only projection handed to the presentation layer.
type View struct {
	ProjectID        string             `json:"project_id"`
	Messages         []domain.Message   `json:"messages"`
	Responding       bool               `json:"responding"`
	Deploying        bool               `json:"deploying"`
	LatestDeployment *domain.Deployment `json:"latest_deployment"`
	PromptError      string             `json:"prompt_error,omitempty"`
	FailedMessage    string             `json:"failed_message,omitempty"`
	DeployError      string             `json:"deploy_error,omitempty"`
	LastDeployURL    string             `json:"last_deploy_url,omitempty"`
	TokensUsed       int                `json:"tokens_used,omitempty"`
	ConversationID   string             `json:"conversation_id,omitempty"`
}

// Option configures a Session.
type Option func(*options)

type options struct {
	promptTimeout time.Duration
	pollInterval  time.Duration
	logger        *slog.Logger
	now           func() time.Time
	filesChanged  FilesChangedFunc
}

// WithPromptTimeout overrides the prompt round-trip deadline.
func WithPromptTimeout(d time.Duration) Option {
	return func(o *options) { o.promptTimeout = d }
}

// WithPollInterval overrides the deployment poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFilesChanged registers the files-changed signal receiver.
func WithFilesChanged(fn FilesChangedFunc) Option {
	return func(o *options) { o.filesChanged = fn }
}

// Session is one project's conversation: it exclusively owns the transcript
// and the latest deployment snapshot.
type Session struct {
	projectID  string
	transcript *Transcript
	dispatcher *Dispatcher
	monitor    *Monitor
	logger     *slog.Logger

	// ctx bounds background work started by the async entry points.
	ctx    context.Context
	cancel context.CancelFunc

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

var errEmptyProjectID = errors.New("project id is required")

// Open creates a session and hydrates it. Hydration failures are logged and
// leave the session empty; they never fail Open.
func Open(ctx context.Context, projectID string, backend Backend, opts ...Option) (*Session, error) {
	if projectID == "" {
		return nil, errEmptyProjectID
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("project_id", projectID)

	s := &Session{
		projectID:  projectID,
		transcript: NewTranscript(nil),
		logger:     logger,
		subs:       make(map[*Subscription]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	filesChanged := o.filesChanged
	s.dispatcher = NewDispatcher(projectID, backend, s.transcript, DispatcherConfig{
		Timeout: o.promptTimeout,
		Now:     o.now,
		Logger:  o.logger,
		FilesChanged: func(projectID string, ops []domain.FileOperation) {
			if filesChanged != nil {
				filesChanged(projectID, ops)
			}
			s.notifyFilesChanged()
		},
		Changed: s.notify,
	})
	s.monitor = NewMonitor(projectID, backend, MonitorConfig{
		PollInterval: o.pollInterval,
		Logger:       o.logger,
		Changed:      s.notify,
	})

	s.hydrate(ctx, backend)
	return s, nil
}

func (s *Session) hydrate(ctx context.Context, store ConversationStore) {
	conv, err := store.GetConversation(ctx, s.projectID)
	switch {
	case err != nil:
		s.logger.Warn("Conversation hydration failed, starting empty", "error", err)
	case conv == nil:
		s.logger.Debug("No stored conversation, starting empty")
	default:
		s.transcript.Replace(conv.Messages)
		s.logger.Info("Conversation hydrated", "messages", len(conv.Messages))
	}

	if err := s.monitor.Refresh(ctx); err != nil {
		s.logger.Warn("Latest deployment lookup failed", "error", err)
	}
}

// ProjectID returns the project this session belongs to.
func (s *Session) ProjectID() string {
	return s.projectID
}

// Send runs one prompt round trip and blocks until it settles.
func (s *Session) Send(ctx context.Context, text string) (*domain.PromptResponse, error) {
	return s.dispatcher.Send(ctx, text)
}

// SendAsync accepts a prompt and completes it in the background; progress is
// observable through View and Subscribe.
func (s *Session) SendAsync(text string) error {
	return s.dispatcher.Start(s.ctx, text)
}

// Deploy triggers a deployment and blocks until the trigger settles.
func (s *Session) Deploy(ctx context.Context) (*domain.DeployResponse, error) {
	return s.monitor.Deploy(ctx)
}

// DeployAsync triggers a deployment in the background.
func (s *Session) DeployAsync() error {
	return s.monitor.Start(s.ctx)
}

// Responding reports whether the assistant is answering.
func (s *Session) Responding() bool {
	return s.dispatcher.Pending()
}

// Deploying reports whether a deployment trigger is outstanding.
func (s *Session) Deploying() bool {
	return s.monitor.Deploying()
}

// View returns the current projection.
func (s *Session) View() View {
	v := View{
		ProjectID:        s.projectID,
		Messages:         s.transcript.Snapshot(),
		Responding:       s.dispatcher.Pending(),
		Deploying:        s.monitor.Deploying(),
		LatestDeployment: s.monitor.Latest(),
	}

	if err := s.dispatcher.LastError(); err != nil {
		v.PromptError = err.Error()
		var promptErr *PromptError
		if errors.As(err, &promptErr) {
			v.FailedMessage = promptErr.Message
		}
	}
	if reply := s.dispatcher.LastReply(); reply != nil {
		v.TokensUsed = reply.TokensUsed
		v.ConversationID = reply.ConversationID
	}
	if err := s.monitor.LastError(); err != nil {
		v.DeployError = err.Error()
	}
	if res := s.monitor.LastResult(); res != nil {
		v.LastDeployURL = res.DeployURL
	}
	return v
}

// Busy reports whether a prompt or deployment is outstanding.
func (s *Session) Busy() bool {
	return s.Responding() || s.Deploying()
}

// Wait blocks until no prompt or deployment is outstanding.
func (s *Session) Wait() {
	s.dispatcher.Wait()
	s.monitor.Wait()
}

// Close refuses further commands with ErrSessionClosed, cancels background
// work, waits for it to settle and closes all subscriptions.
func (s *Session) Close() {
	s.dispatcher.Stop()
	s.monitor.Stop()
	s.cancel()
	s.Wait()

	s.subsMu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[*Subscription]struct{})
	s.subsMu.Unlock()

	for sub := range subs {
		sub.close()
	}
}
