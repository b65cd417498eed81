package conversation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketforge/pocketforge/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openSession(t *testing.T, backend *fakeBackend, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithClock(fixedClock()), WithPollInterval(testInterval)}, opts...)
	s, err := Open(context.Background(), "p1", backend, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func receive(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case _, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change signal")
	}
}

func TestOpenRejectsEmptyProject(t *testing.T) {
	_, err := Open(context.Background(), "", &fakeBackend{})
	require.Error(t, err)
}

func TestOpenHydratesStoredConversation(t *testing.T) {
	stored := []domain.Message{msg(domain.RoleUser, "U1"), msg(domain.RoleAssistant, "A1")}
	backend := &fakeBackend{conversation: &domain.Conversation{ID: "c1", ProjectID: "p1", Messages: stored}}

	s := openSession(t, backend)

	assert.Equal(t, stored, s.View().Messages)
	assert.Equal(t, int32(1), backend.conversationCalls.Load())
}

func TestOpenStartsEmptyWhenHydrationFails(t *testing.T) {
	for name, backend := range map[string]*fakeBackend{
		"error": {conversationErr: errServer},
		"none":  {},
	} {
		t.Run(name, func(t *testing.T) {
			s := openSession(t, backend)
			v := s.View()
			assert.NotNil(t, v.Messages)
			assert.Empty(t, v.Messages)
			assert.False(t, v.Responding)
		})
	}
}

func TestOpenLoadsLatestDeployment(t *testing.T) {
	backend := &fakeBackend{latest: func(context.Context, int) (*domain.Deployment, error) {
		return deployment("d9", domain.DeploymentSuccess), nil
	}}

	s := openSession(t, backend)

	require.NotNil(t, s.View().LatestDeployment)
	assert.Equal(t, "d9", s.View().LatestDeployment.ID)
	assert.False(t, s.View().Deploying)
}

func TestSessionScenarioFailureThenManualRetry(t *testing.T) {
	prior := []domain.Message{msg(domain.RoleUser, "U1"), msg(domain.RoleAssistant, "A1")}
	var failing = true
	backend := &fakeBackend{conversation: &domain.Conversation{Messages: prior}}
	backend.send = func(_ context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
		if failing {
			return nil, errServer
		}
		return &domain.PromptResponse{Response: "done: " + req.Message}, nil
	}
	s := openSession(t, backend)

	_, err := s.Send(context.Background(), "U2")
	require.Error(t, err)

	v := s.View()
	assert.Equal(t, prior, v.Messages)
	assert.Equal(t, "U2", v.FailedMessage)
	assert.NotEmpty(t, v.PromptError)

	failing = false
	_, err = s.Send(context.Background(), v.FailedMessage)
	require.NoError(t, err)

	v = s.View()
	assert.Empty(t, v.PromptError)
	assert.Equal(t, []domain.Message{
		msg(domain.RoleUser, "U1"),
		msg(domain.RoleAssistant, "A1"),
		msg(domain.RoleUser, "U2"),
		msg(domain.RoleAssistant, "done: U2"),
	}, contents(v.Messages))
}

func TestSessionPromptAndDeployRunConcurrently(t *testing.T) {
	promptGate, deployGate := newGate(), newGate()
	backend := &fakeBackend{
		send: func(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
			if err := promptGate.wait(ctx); err != nil {
				return nil, err
			}
			return &domain.PromptResponse{Response: "ok"}, nil
		},
		deploy: func(ctx context.Context) (*domain.DeployResponse, error) {
			if err := deployGate.wait(ctx); err != nil {
				return nil, err
			}
			return &domain.DeployResponse{DeployURL: "https://p1.dev"}, nil
		},
	}
	s := openSession(t, backend)

	require.NoError(t, s.SendAsync("build it"))
	require.NoError(t, s.DeployAsync())
	require.True(t, promptGate.awaitEntered(time.Second))
	require.True(t, deployGate.awaitEntered(time.Second))

	v := s.View()
	assert.True(t, v.Responding)
	assert.True(t, v.Deploying)
	assert.True(t, s.Busy())

	require.ErrorIs(t, s.SendAsync("again"), ErrPromptPending)
	require.ErrorIs(t, s.DeployAsync(), ErrDeployPending)

	deployGate.open()
	promptGate.open()
	s.Wait()

	v = s.View()
	assert.False(t, v.Responding)
	assert.False(t, v.Deploying)
	assert.Equal(t, "https://p1.dev", v.LastDeployURL)
	assert.Len(t, v.Messages, 2)
}

func TestSessionDeployFailureSurfacesInView(t *testing.T) {
	backend := &fakeBackend{deploy: func(context.Context) (*domain.DeployResponse, error) {
		return nil, errors.New("no files to deploy")
	}}
	s := openSession(t, backend)

	_, err := s.Deploy(context.Background())
	require.Error(t, err)

	v := s.View()
	assert.Contains(t, v.DeployError, "no files to deploy")
	assert.False(t, v.Deploying)
	assert.Empty(t, v.LastDeployURL)
}

func TestSubscriptionSignalsAndFilesChanged(t *testing.T) {
	var notified []string
	backend := &fakeBackend{send: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
		return &domain.PromptResponse{
			Response:       "Added",
			FileOperations: []domain.FileOperation{{Kind: domain.FileCreate, Path: "main.go"}},
		}, nil
	}}
	s := openSession(t, backend, WithFilesChanged(func(projectID string, _ []domain.FileOperation) {
		notified = append(notified, projectID)
	}))

	sub := s.Subscribe()
	defer sub.Close()
	assert.Equal(t, 1, s.Subscribers())

	_, err := s.Send(context.Background(), "add main.go")
	require.NoError(t, err)

	receive(t, sub)
	assert.True(t, sub.TakeFilesChanged())
	assert.False(t, sub.TakeFilesChanged(), "flag clears once taken")
	assert.Equal(t, []string{"p1"}, notified)
}

func TestSubscriptionNoFilesChangedWithoutOperations(t *testing.T) {
	s := openSession(t, &fakeBackend{})
	sub := s.Subscribe()
	defer sub.Close()

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	receive(t, sub)
	assert.False(t, sub.TakeFilesChanged())
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	s := openSession(t, &fakeBackend{})
	sub := s.Subscribe()
	sub.Close()
	sub.Close()

	assert.Zero(t, s.Subscribers())
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestSessionCloseClosesSubscriptions(t *testing.T) {
	s, err := Open(context.Background(), "p1", &fakeBackend{}, WithLogger(quietLogger()))
	require.NoError(t, err)

	sub := s.Subscribe()
	s.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	late := s.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok, "subscribing to a closed session yields a closed subscription")
}

func TestSessionCloseCancelsBackgroundPrompt(t *testing.T) {
	backend := &fakeBackend{send: func(ctx context.Context, _ domain.PromptRequest) (*domain.PromptResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s, err := Open(context.Background(), "p1", backend, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, s.SendAsync("never answered"))
	s.Close()

	assert.False(t, s.Responding())
	assert.Empty(t, s.View().Messages)
}

func TestSessionRefusesCommandsAfterClose(t *testing.T) {
	backend := &fakeBackend{}
	s, err := Open(context.Background(), "p1", backend, WithLogger(quietLogger()))
	require.NoError(t, err)
	s.Close()

	err = s.SendAsync("hello")
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, IsRejection(err), "a closed session is not a silent rejection")
	require.ErrorIs(t, s.DeployAsync(), ErrSessionClosed)

	_, err = s.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Deploy(context.Background())
	require.ErrorIs(t, err, ErrSessionClosed)

	assert.Zero(t, backend.sendCalls.Load())
	assert.Zero(t, backend.deployCalls.Load())
	assert.Empty(t, s.View().Messages)
	assert.False(t, s.Busy())
}

func TestFilesChangedPublishedBeforeIdleView(t *testing.T) {
	backend := &fakeBackend{send: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
		return &domain.PromptResponse{
			Response:       "Added",
			FileOperations: []domain.FileOperation{{Kind: domain.FileCreate, Path: "index.html"}},
		}, nil
	}}
	var respondingAtInvalidation atomic.Bool
	var s *Session
	s = openSession(t, backend, WithFilesChanged(func(string, []domain.FileOperation) {
		respondingAtInvalidation.Store(s.Responding())
	}))
	sub := s.Subscribe()
	defer sub.Close()

	require.NoError(t, s.SendAsync("add a page"))

	flagged := false
	for {
		receive(t, sub)
		flagged = sub.TakeFilesChanged() || flagged
		v := s.View()
		if !v.Responding && len(v.Messages) == 2 {
			assert.True(t, flagged, "idle view with the reply observed before files changed")
			break
		}
	}
	assert.True(t, respondingAtInvalidation.Load())
}

func TestSessionLogsCarryProjectOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	backend := &fakeBackend{}
	s := openSession(t, backend, WithLogger(logger))

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	_, err = s.Deploy(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"project_id"`), line)
	}
}
