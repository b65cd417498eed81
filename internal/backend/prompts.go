package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// SendPrompt sends one user turn with its prior history. Assistant
// generation is slow, so the call runs under the extended prompt timeout.
func (c *Client) SendPrompt(ctx context.Context, projectID string, req domain.PromptRequest) (*domain.PromptResponse, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []domain.Message{}
	}
	var resp domain.PromptResponse
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "prompt"), req, &resp, c.promptTimeout); err != nil {
		return nil, fmt.Errorf("send prompt: %w", err)
	}
	return &resp, nil
}

// GetConversation returns the stored conversation, or nil if the project has
// none yet.
func (c *Client) GetConversation(ctx context.Context, projectID string) (*domain.Conversation, error) {
	var resp struct {
		Conversation *domain.Conversation `json:"conversation"`
	}
	if err := c.get(ctx, projectPath(projectID, "conversation"), &resp); err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return resp.Conversation, nil
}
