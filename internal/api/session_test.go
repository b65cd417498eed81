//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pocketforge/pocketforge/internal/conversation"
)

func TestGetSessionReturnsView(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/projects/p1/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	view := decode[conversation.View](t, rr)
	if view.ProjectID != "p1" {
		t.Errorf("Expected project p1, got %q", view.ProjectID)
	}
	if view.Messages == nil {
		t.Error("Expected an empty message list, got null")
	}
}

func TestPostMessageAccepted(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/projects/p1/messages", `{"message":"Build a counter"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rr.Code)
	}
	if got := decode[acceptance](t, rr); !got.Accepted {
		t.Fatalf("Expected accepted=true, got %+v", got)
	}

	s, err := f.manager.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	s.Wait()

	msgs := s.View().Messages
	if len(msgs) != 2 || msgs[1].Content != "reply: Build a counter" {
		t.Fatalf("Unexpected transcript: %+v", msgs)
	}
}

func TestPostMessageBlankIsSilentlyRejected(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/projects/p1/messages", `{"message":"   "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	got := decode[acceptance](t, rr)
	if got.Accepted || got.Reason != "empty_message" {
		t.Fatalf("Expected silent rejection, got %+v", got)
	}
}

func TestPostMessageWhilePendingIsRejected(t *testing.T) {
	f := newFixture(t)
	f.backend.release = make(chan struct{})

	if rr := f.do(t, http.MethodPost, "/api/projects/p1/messages", `{"message":"first"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("Expected first send accepted, got %d", rr.Code)
	}

	rr := f.do(t, http.MethodPost, "/api/projects/p1/messages", `{"message":"second"}`)
	got := decode[acceptance](t, rr)
	if got.Accepted || got.Reason != "prompt_pending" {
		t.Fatalf("Expected prompt_pending rejection, got %+v", got)
	}

	close(f.backend.release)
	s, _ := f.manager.Get(context.Background(), "p1")
	s.Wait()
	if n := len(s.View().Messages); n != 2 {
		t.Fatalf("Expected only the first exchange, got %d messages", n)
	}
}

func TestPostMessageInvalidBody(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/projects/p1/messages", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
}

func TestDeploySingleFlight(t *testing.T) {
	f := newFixture(t)
	f.backend.release = make(chan struct{})

	if rr := f.do(t, http.MethodPost, "/api/projects/p1/deploy", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rr.Code)
	}
	rr := f.do(t, http.MethodPost, "/api/projects/p1/deploy", "")
	got := decode[acceptance](t, rr)
	if got.Accepted || got.Reason != "deploy_pending" {
		t.Fatalf("Expected deploy_pending rejection, got %+v", got)
	}

	close(f.backend.release)
	s, _ := f.manager.Get(context.Background(), "p1")
	s.Wait()

	f.backend.mu.Lock()
	deploys := f.backend.deploys
	f.backend.mu.Unlock()
	if deploys != 1 {
		t.Fatalf("Expected one deploy call, got %d", deploys)
	}
	if url := s.View().LastDeployURL; url != "https://p1.dev" {
		t.Errorf("Expected deploy url, got %q", url)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/projects/p1/session", "")

	rr := f.do(t, http.MethodDelete, "/api/projects/p1/session", "")
	if got := decode[map[string]bool](t, rr); !got["closed"] {
		t.Fatalf("Expected closed=true, got %v", got)
	}
	if f.manager.Len() != 0 {
		t.Fatalf("Expected no sessions, got %d", f.manager.Len())
	}

	rr = f.do(t, http.MethodDelete, "/api/projects/p1/session", "")
	if got := decode[map[string]bool](t, rr); got["closed"] {
		t.Fatalf("Expected closed=false for an unknown session, got %v", got)
	}
}

// staleSessions hands out a closed session first, as the idle reaper can,
// and the live one afterwards.
type staleSessions struct {
	*conversation.Manager
	stale *conversation.Session
	calls int
}

func (s *staleSessions) Get(ctx context.Context, projectID string) (*conversation.Session, error) {
	s.calls++
	if s.calls == 1 {
		return s.stale, nil
	}
	return s.Manager.Get(ctx, projectID)
}

func TestPostMessageReopensClosedSession(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stale, err := conversation.Open(context.Background(), "p1", f.backend, conversation.WithLogger(logger))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stale.Close()

	store := &staleSessions{Manager: f.manager, stale: stale}
	r := chi.NewRouter()
	NewSessionHandler(NewHandler(store, f.projects, f.files, logger)).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/messages", strings.NewReader(`{"message":"hello"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d (%s)", rr.Code, rr.Body.String())
	}
	if store.calls != 2 {
		t.Errorf("Expected the session to be looked up again, got %d lookups", store.calls)
	}

	s, err := f.manager.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	s.Wait()
	if n := len(s.View().Messages); n != 2 {
		t.Fatalf("Expected the message on the live session, got %d messages", n)
	}
}
