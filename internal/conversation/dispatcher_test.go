package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketforge/pocketforge/internal/domain"
)

func newTestDispatcher(backend *fakeBackend, tr *Transcript, cfg DispatcherConfig) *Dispatcher {
	if cfg.Now == nil {
		cfg.Now = fixedClock()
	}
	return NewDispatcher("p1", backend, tr, cfg)
}

func TestSendRejectsBlankInput(t *testing.T) {
	backend := &fakeBackend{}
	tr := NewTranscript([]domain.Message{msg(domain.RoleUser, "U1")})
	var changes atomic.Int32
	d := newTestDispatcher(backend, tr, DispatcherConfig{Changed: func() { changes.Add(1) }})

	for _, input := range []string{"", "   ", "\n\t "} {
		_, err := d.Send(context.Background(), input)
		require.ErrorIs(t, err, ErrEmptyMessage)
		assert.True(t, IsRejection(err))
	}

	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, PromptIdle, d.State())
	assert.Zero(t, backend.sendCalls.Load())
	assert.Zero(t, changes.Load(), "rejections must not emit changes")
}

func TestSendScenarioPlainReply(t *testing.T) {
	backend := &fakeBackend{send: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
		return &domain.PromptResponse{Response: "Here's your counter", TokensUsed: 12, ConversationID: "c1"}, nil
	}}
	tr := NewTranscript(nil)
	var signals atomic.Int32
	d := newTestDispatcher(backend, tr, DispatcherConfig{
		FilesChanged: func(string, []domain.FileOperation) { signals.Add(1) },
	})

	resp, err := d.Send(context.Background(), "Build a counter")
	require.NoError(t, err)
	assert.Equal(t, "Here's your counter", resp.Response)

	assert.Equal(t, []domain.Message{
		msg(domain.RoleUser, "Build a counter"),
		msg(domain.RoleAssistant, "Here's your counter"),
	}, contents(tr.Snapshot()))
	assert.Zero(t, signals.Load(), "no file operations means no signal")
	assert.Equal(t, PromptSucceeded, d.State())
	assert.Equal(t, "c1", d.LastReply().ConversationID)
}

func TestSendStampsTimestamps(t *testing.T) {
	d := newTestDispatcher(&fakeBackend{}, NewTranscript(nil), DispatcherConfig{})
	tr := d.transcript

	_, err := d.Send(context.Background(), "hi")
	require.NoError(t, err)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	for _, m := range snap {
		assert.False(t, m.Timestamp.IsZero(), "%s message must carry a timestamp", m.Role)
	}
	assert.True(t, snap[1].Timestamp.After(snap[0].Timestamp))
}

func TestSendSignalsFilesChangedOnceAfterAppend(t *testing.T) {
	backend := &fakeBackend{send: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
		return &domain.PromptResponse{
			Response:       "Added",
			FileOperations: []domain.FileOperation{{Kind: domain.FileUpdate, Path: "app/page.tsx"}},
		}, nil
	}}
	tr := NewTranscript(nil)

	var signals atomic.Int32
	var lenAtSignal atomic.Int32
	var pendingAtSignal atomic.Bool
	var gotOps []domain.FileOperation
	var d *Dispatcher
	d = newTestDispatcher(backend, tr, DispatcherConfig{
		FilesChanged: func(projectID string, ops []domain.FileOperation) {
			assert.Equal(t, "p1", projectID)
			signals.Add(1)
			lenAtSignal.Store(int32(tr.Len()))
			pendingAtSignal.Store(d.Pending())
			gotOps = ops
		},
	})

	_, err := d.Send(context.Background(), "Add a button")
	require.NoError(t, err)

	assert.Equal(t, int32(1), signals.Load())
	assert.Equal(t, int32(2), lenAtSignal.Load(), "signal must follow the assistant append")
	assert.True(t, pendingAtSignal.Load(), "signal must precede the settled state")
	require.Len(t, gotOps, 1)
	assert.Equal(t, domain.FileUpdate, gotOps[0].Kind)
}

func TestSendSendsPreAppendHistory(t *testing.T) {
	backend := &fakeBackend{}
	prior := []domain.Message{msg(domain.RoleUser, "U1"), msg(domain.RoleAssistant, "A1")}
	d := newTestDispatcher(backend, NewTranscript(prior), DispatcherConfig{})

	_, err := d.Send(context.Background(), "U2")
	require.NoError(t, err)

	req := backend.lastRequest()
	assert.Equal(t, "U2", req.Message)
	assert.Equal(t, prior, req.ConversationHistory, "history must not include the current message")
}

func TestSendFailureRollsBackExactly(t *testing.T) {
	g := newGate()
	backend := &fakeBackend{send: func(ctx context.Context, _ domain.PromptRequest) (*domain.PromptResponse, error) {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		return nil, errServer
	}}
	prior := []domain.Message{msg(domain.RoleUser, "U1"), msg(domain.RoleAssistant, "A1")}
	tr := NewTranscript(prior)
	d := newTestDispatcher(backend, tr, DispatcherConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := d.Send(context.Background(), "U2")
		done <- err
	}()

	require.True(t, g.awaitEntered(time.Second))
	assert.Equal(t, []domain.Message{
		msg(domain.RoleUser, "U1"),
		msg(domain.RoleAssistant, "A1"),
		msg(domain.RoleUser, "U2"),
	}, contents(tr.Snapshot()), "user message is visible while pending")
	assert.True(t, d.Pending())

	g.open()
	err := <-done

	require.ErrorIs(t, err, errServer)
	var promptErr *PromptError
	require.True(t, errors.As(err, &promptErr))
	assert.Equal(t, "U2", promptErr.Message)
	assert.False(t, promptErr.Timeout)

	assert.Equal(t, prior, tr.Snapshot())
	assert.Equal(t, PromptFailed, d.State())
	assert.ErrorIs(t, d.LastError(), errServer)
}

func TestSendRetryAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	backend := &fakeBackend{send: func(_ context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
		if fail.Load() {
			return nil, errServer
		}
		return &domain.PromptResponse{Response: "done"}, nil
	}}
	tr := NewTranscript(nil)
	d := newTestDispatcher(backend, tr, DispatcherConfig{})

	_, err := d.Send(context.Background(), "make it blue")
	require.Error(t, err)
	assert.Zero(t, tr.Len())

	fail.Store(false)
	_, err = d.Send(context.Background(), "make it blue")
	require.NoError(t, err)
	assert.Nil(t, d.LastError(), "accepted send clears the previous failure")
	assert.Equal(t, []domain.Message{
		msg(domain.RoleUser, "make it blue"),
		msg(domain.RoleAssistant, "done"),
	}, contents(tr.Snapshot()))
	assert.Empty(t, backend.lastRequest().ConversationHistory)
}

func TestSendSingleFlight(t *testing.T) {
	g := newGate()
	backend := &fakeBackend{send: func(ctx context.Context, req domain.PromptRequest) (*domain.PromptResponse, error) {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		return &domain.PromptResponse{Response: "reply to " + req.Message}, nil
	}}
	tr := NewTranscript(nil)
	d := newTestDispatcher(backend, tr, DispatcherConfig{})

	require.NoError(t, d.Start(context.Background(), "a"))
	require.True(t, g.awaitEntered(time.Second))

	_, err := d.Send(context.Background(), "b")
	require.ErrorIs(t, err, ErrPromptPending)
	require.ErrorIs(t, d.Start(context.Background(), "c"), ErrPromptPending)

	assert.Equal(t, []domain.Message{msg(domain.RoleUser, "a")}, contents(tr.Snapshot()))

	g.open()
	d.Wait()

	assert.Equal(t, int32(1), backend.sendCalls.Load())
	assert.Equal(t, []domain.Message{
		msg(domain.RoleUser, "a"),
		msg(domain.RoleAssistant, "reply to a"),
	}, contents(tr.Snapshot()))
}

func TestSendOrderingAlternates(t *testing.T) {
	tr := NewTranscript(nil)
	d := newTestDispatcher(&fakeBackend{}, tr, DispatcherConfig{})

	inputs := []string{"one", "two", "three"}
	for _, in := range inputs {
		_, err := d.Send(context.Background(), in)
		require.NoError(t, err)
	}

	snap := tr.Snapshot()
	require.Len(t, snap, 2*len(inputs))
	for i, in := range inputs {
		assert.Equal(t, msg(domain.RoleUser, in), contents(snap)[2*i])
		assert.Equal(t, msg(domain.RoleAssistant, "ok: "+in), contents(snap)[2*i+1])
	}
}

func TestSendTimeoutRollsBack(t *testing.T) {
	backend := &fakeBackend{send: func(ctx context.Context, _ domain.PromptRequest) (*domain.PromptResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	prior := []domain.Message{msg(domain.RoleUser, "U1"), msg(domain.RoleAssistant, "A1")}
	tr := NewTranscript(prior)
	d := newTestDispatcher(backend, tr, DispatcherConfig{Timeout: 20 * time.Millisecond})

	_, err := d.Send(context.Background(), "slow one")

	var promptErr *PromptError
	require.True(t, errors.As(err, &promptErr))
	assert.True(t, promptErr.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, prior, tr.Snapshot())
	assert.False(t, d.Pending())
}

func TestSendNilResponseIsFailure(t *testing.T) {
	backend := &fakeBackend{send: func(context.Context, domain.PromptRequest) (*domain.PromptResponse, error) {
		return nil, nil
	}}
	tr := NewTranscript(nil)
	d := newTestDispatcher(backend, tr, DispatcherConfig{})

	_, err := d.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Zero(t, tr.Len())
}

func TestPromptStateString(t *testing.T) {
	assert.Equal(t, "idle", PromptIdle.String())
	assert.Equal(t, "pending", PromptPending.String())
	assert.Equal(t, "succeeded", PromptSucceeded.String())
	assert.Equal(t, "failed", PromptFailed.String())
}

func TestSendAfterStop(t *testing.T) {
	backend := &fakeBackend{}
	tr := NewTranscript(nil)
	d := newTestDispatcher(backend, tr, DispatcherConfig{})
	d.Stop()

	_, err := d.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, IsRejection(err))
	require.ErrorIs(t, d.Start(context.Background(), "hello"), ErrSessionClosed)

	assert.Zero(t, backend.sendCalls.Load())
	assert.Zero(t, tr.Len())
	assert.Equal(t, PromptIdle, d.State())
}
