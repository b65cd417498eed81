package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// DefaultPromptTimeout bounds one assistant round trip.
const DefaultPromptTimeout = 90 * time.Second

// PromptAPI is the assistant backend boundary.
type PromptAPI interface {
	SendPrompt(ctx context.Context, projectID string, req domain.PromptRequest) (*domain.PromptResponse, error)
}

// PromptState is the state of the most recent prompt invocation.
type PromptState int

const (
	PromptIdle PromptState = iota
	PromptPending
	PromptSucceeded
	PromptFailed
)

func (s PromptState) String() string {
	switch s {
	case PromptIdle:
		return "idle"
	case PromptPending:
		return "pending"
	case PromptSucceeded:
		return "succeeded"
	case PromptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FilesChangedFunc receives the file operations of a successful response.
// It is called at most once per response, only when ops is non-empty, and
// before the prompt is reported settled.
type FilesChangedFunc func(projectID string, ops []domain.FileOperation)

// Dispatcher runs prompt round trips against one transcript, at most one at
// a time.
type Dispatcher struct {
	projectID    string
	api          PromptAPI
	transcript   *Transcript
	timeout      time.Duration
	now          func() time.Time
	logger       *slog.Logger
	filesChanged FilesChangedFunc
	changed      func()

	mu        sync.Mutex
	stopped   bool
	state     PromptState
	lastErr   error
	lastReply *domain.PromptResponse
	wg        sync.WaitGroup
}

// DispatcherConfig holds optional Dispatcher collaborators.
type DispatcherConfig struct {
	Timeout      time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
	FilesChanged FilesChangedFunc
	Changed      func()
}

// NewDispatcher creates a dispatcher writing to transcript.
func NewDispatcher(projectID string, api PromptAPI, transcript *Transcript, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		projectID:    projectID,
		api:          api,
		transcript:   transcript,
		timeout:      cfg.Timeout,
		now:          cfg.Now,
		logger:       cfg.Logger,
		filesChanged: cfg.FilesChanged,
		changed:      cfg.Changed,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultPromptTimeout
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("project_id", projectID)
	if d.changed == nil {
		d.changed = func() {}
	}
	return d
}

type promptCall struct {
	text    string
	preCall []domain.Message
}

// Send runs one round trip and blocks until it settles.
func (d *Dispatcher) Send(ctx context.Context, text string) (*domain.PromptResponse, error) {
	call, err := d.begin(text)
	if err != nil {
		return nil, err
	}
	defer d.wg.Done()
	return d.run(ctx, call)
}

// Start applies the optimistic append synchronously and finishes the round
// trip in the background. ctx bounds the background call.
func (d *Dispatcher) Start(ctx context.Context, text string) error {
	call, err := d.begin(text)
	if err != nil {
		return err
	}
	go func() {
		defer d.wg.Done()
		_, _ = d.run(ctx, call)
	}()
	return nil
}

func (d *Dispatcher) begin(text string) (*promptCall, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if d.state == PromptPending {
		d.mu.Unlock()
		return nil, ErrPromptPending
	}
	d.state = PromptPending
	d.lastErr = nil
	d.wg.Add(1)
	d.mu.Unlock()

	call := &promptCall{text: text, preCall: d.transcript.Snapshot()}
	d.transcript.Append(domain.Message{
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: d.now().UTC(),
	})
	d.changed()
	return call, nil
}

func (d *Dispatcher) run(ctx context.Context, call *promptCall) (*domain.PromptResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.now()
	resp, err := d.api.SendPrompt(callCtx, d.projectID, domain.PromptRequest{
		Message:             call.text,
		ConversationHistory: call.preCall,
	})
	if err == nil && resp == nil {
		err = errEmptyPromptResponse
	}
	if err != nil {
		promptErr := &PromptError{
			Message: call.text,
			Timeout: errors.Is(callCtx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
		d.transcript.Replace(call.preCall)
		d.settle(PromptFailed, promptErr, nil)
		d.logger.Error("Prompt failed, transcript rolled back",
			"timeout", promptErr.Timeout,
			"transcript_len", len(call.preCall),
			"error", err,
		)
		return nil, promptErr
	}

	d.transcript.Append(domain.Message{
		Role:      domain.RoleAssistant,
		Content:   resp.Response,
		Timestamp: d.now().UTC(),
	})
	// File listings are invalidated before the idle state is published, so a
	// read triggered by that state sees the mutation.
	if len(resp.FileOperations) > 0 && d.filesChanged != nil {
		d.filesChanged(d.projectID, resp.FileOperations)
	}
	d.settle(PromptSucceeded, nil, resp)

	d.logger.Info("Prompt answered",
		"file_operations", len(resp.FileOperations),
		"tokens_used", resp.TokensUsed,
		"duration_ms", d.now().Sub(start).Milliseconds(),
	)
	return resp, nil
}

func (d *Dispatcher) settle(state PromptState, err error, reply *domain.PromptResponse) {
	d.mu.Lock()
	d.state = state
	d.lastErr = err
	if reply != nil {
		d.lastReply = reply
	}
	d.mu.Unlock()
	d.changed()
}

// Stop makes every later invocation fail with ErrSessionClosed. A round trip
// already accepted still runs to completion; use Wait to await it.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// State returns the state of the most recent invocation.
func (d *Dispatcher) State() PromptState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending reports whether a round trip is outstanding.
func (d *Dispatcher) Pending() bool {
	return d.State() == PromptPending
}

// LastError returns the failure of the most recent invocation, if any.
func (d *Dispatcher) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// LastReply returns the most recent successful response.
func (d *Dispatcher) LastReply() *domain.PromptResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReply
}

// Wait blocks until no round trip is outstanding.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
