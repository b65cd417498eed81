package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketforge/pocketforge/internal/domain"
)

func newTestClient(t *testing.T, h http.Handler, cfg ClientConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "/api"})
	require.Error(t, err)
}

func TestSendPromptRequestShape(t *testing.T) {
	var got map[string]json.RawMessage
	var auth string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/projects/p1/prompt", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"hi","fileOperations":[{"type":"update","path":"a.go"}],"tokensUsed":42,"conversationId":"c1"}`))
	}), ClientConfig{Token: "secret"})

	resp, err := client.SendPrompt(context.Background(), "p1", domain.PromptRequest{Message: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.JSONEq(t, `"hello"`, string(got["message"]))
	assert.JSONEq(t, `[]`, string(got["conversationHistory"]), "nil history must be sent as an empty array")

	assert.Equal(t, "hi", resp.Response)
	require.Len(t, resp.FileOperations, 1)
	assert.Equal(t, domain.FileUpdate, resp.FileOperations[0].Kind)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Equal(t, "c1", resp.ConversationID)
}

func TestSendPromptUsesPromptTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), ClientConfig{RequestTimeout: time.Hour, PromptTimeout: 50 * time.Millisecond})

	_, err := client.SendPrompt(context.Background(), "p1", domain.PromptRequest{Message: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGetConversationNull(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/p1/conversation", r.URL.Path)
		_, _ = w.Write([]byte(`{"conversation":null}`))
	}), ClientConfig{})

	conv, err := client.GetConversation(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestGetConversationMessages(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversation":{"id":"c1","project_id":"p1","messages":[
			{"role":"user","content":"U1","timestamp":"2026-01-02T03:04:05Z"},
			{"role":"assistant","content":"A1"}],"total_tokens":7}}`))
	}), ClientConfig{})

	conv, err := client.GetConversation(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, domain.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, 2026, conv.Messages[0].Timestamp.Year())
	assert.True(t, conv.Messages[1].Timestamp.IsZero())
	assert.Equal(t, 7, conv.TotalTokens)
}

func TestLatestDeploymentPath(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/p1/deployment/latest", r.URL.Path)
		_, _ = w.Write([]byte(`{"deployment":{"id":"d1","project_id":"p1","deploy_url":"https://x.dev","status":"building"}}`))
	}), ClientConfig{})

	dep, err := client.GetLatestDeployment(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, domain.DeploymentBuilding, dep.Status)
	assert.Equal(t, "https://x.dev", dep.URL)
}

func TestAPIErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{"object", http.StatusBadGateway, `{"error":{"code":"VERCEL_DOWN","message":"deploy failed"}}`, "VERCEL_DOWN", "deploy failed"},
		{"string", http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`, "", "rate limit exceeded"},
		{"plain", http.StatusInternalServerError, `boom`, "", "boom"},
		{"empty", http.StatusNotFound, ``, "", "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}), ClientConfig{})

			_, err := client.Deploy(context.Background(), "p1")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestIsNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"project not found"}`, http.StatusNotFound)
	}), ClientConfig{})

	_, err := client.GetProject(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestFilePathsKeepSlashes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/p1/files/src/app/page%20one.tsx", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"path":"src/app/page one.tsx","content":"x"}`))
	}), ClientConfig{})

	file, err := client.ReadFile(context.Background(), "p1", "src/app/page one.tsx")
	require.NoError(t, err)
	assert.Equal(t, "x", file.Content)
}
