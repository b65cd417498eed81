// Package devbackend implements the assistant and deployment backend the
// session server talks to, for local development and integration tests.
package devbackend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// Reply is one generated assistant turn.
type Reply struct {
	Text       string
	TokensUsed int
}

// Assistant generates the reply to a user message given the prior turns.
type Assistant interface {
	Reply(ctx context.Context, history []domain.Message, message string) (*Reply, error)
}

const systemPrompt = `You are a coding assistant that builds small web projects from a phone.
Answer briefly. When you create or change a file, emit the complete file in a fenced
code block whose info string names the path, for example:

` + "```html path=index.html" + `
<h1>Hello</h1>
` + "```" + `

To remove a file, write a line of the form "delete: path/to/file".`

// AnthropicAssistant generates replies with the Anthropic Messages API.
type AnthropicAssistant struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicAssistant creates an assistant backed by the given model.
func NewAnthropicAssistant(apiKey, model string, maxTokens int, logger *slog.Logger) (*AnthropicAssistant, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicAssistant{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
		logger:    logger,
	}, nil
}

// Reply implements Assistant.
func (a *AnthropicAssistant) Reply(ctx context.Context, history []domain.Message, message string) (*Reply, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case domain.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(message)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  messages,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
	}

	a.logger.Debug("Sending assistant request", "model", a.model, "message_count", len(messages))
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		b.WriteString(block.Text)
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("empty response content")
	}

	return &Reply{
		Text:       b.String(),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}

// EchoAssistant answers deterministically without a model. Messages that
// already contain file blocks are echoed back verbatim so tests can drive
// file operations; anything else produces a starter page.
type EchoAssistant struct{}

// Reply implements Assistant.
func (EchoAssistant) Reply(_ context.Context, history []domain.Message, message string) (*Reply, error) {
	var text string
	if len(ParseFileOperations(message)) > 0 {
		text = message
	} else {
		text = fmt.Sprintf("Turn %d: %s\n\n```html path=index.html\n<!doctype html>\n<title>%s</title>\n<h1>%s</h1>\n```\n",
			len(history)/2+1, message, message, message)
	}
	return &Reply{
		Text:       text,
		TokensUsed: len(strings.Fields(message)) + len(strings.Fields(text)),
	}, nil
}
