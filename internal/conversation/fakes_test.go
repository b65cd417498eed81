package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pocketforge/pocketforge/internal/domain"
)

var errServer = errors.New("500 internal server error")

type sendFunc func(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error)
type deployFunc func(ctx context.Context) (*domain.DeployResponse, error)
type latestFunc func(ctx context.Context, call int) (*domain.Deployment, error)

// fakeBackend records calls and delegates to per-test functions.
type fakeBackend struct {
	mu       sync.Mutex
	requests []domain.PromptRequest

	send   sendFunc
	deploy deployFunc
	latest latestFunc

	conversation    *domain.Conversation
	conversationErr error

	sendCalls         atomic.Int32
	deployCalls       atomic.Int32
	latestCalls       atomic.Int32
	conversationCalls atomic.Int32
}

func (f *fakeBackend) SendPrompt(ctx context.Context, _ string, req domain.PromptRequest) (*domain.PromptResponse, error) {
	f.sendCalls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.send
	f.mu.Unlock()
	if fn == nil {
		return &domain.PromptResponse{Response: "ok: " + req.Message}, nil
	}
	return fn(ctx, req)
}

func (f *fakeBackend) GetConversation(_ context.Context, _ string) (*domain.Conversation, error) {
	f.conversationCalls.Add(1)
	return f.conversation, f.conversationErr
}

func (f *fakeBackend) Deploy(ctx context.Context, projectID string) (*domain.DeployResponse, error) {
	f.deployCalls.Add(1)
	if f.deploy == nil {
		return &domain.DeployResponse{DeployURL: "https://" + projectID + ".dev", ProjectID: projectID}, nil
	}
	return f.deploy(ctx)
}

func (f *fakeBackend) GetLatestDeployment(ctx context.Context, _ string) (*domain.Deployment, error) {
	call := int(f.latestCalls.Add(1))
	if f.latest == nil {
		return nil, nil
	}
	return f.latest(ctx, call)
}

func (f *fakeBackend) lastRequest() domain.PromptRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// gate blocks a fake call until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) open() {
	close(g.release)
}

func (g *gate) awaitEntered(timeout time.Duration) bool {
	select {
	case <-g.entered:
		return true
	case <-time.After(timeout):
		return false
	}
}

func fixedClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func msg(role domain.Role, content string) domain.Message {
	return domain.Message{Role: role, Content: content}
}

// contents strips timestamps so transcripts compare by role and content.
func contents(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = msg(m.Role, m.Content)
	}
	return out
}
