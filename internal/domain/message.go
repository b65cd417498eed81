package domain

import (
	"time"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message generated by the assistant backend.
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. It is never modified after it has been
// appended to a transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Conversation is the server-side record of a project's transcript.
type Conversation struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Messages    []Message `json:"messages"`
	TotalTokens int       `json:"total_tokens"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileOperationKind is the mutation a FileOperation describes.
type FileOperationKind string

const (
	FileCreate FileOperationKind = "create"
	FileUpdate FileOperationKind = "update"
	FileDelete FileOperationKind = "delete"
)

// FileOperation is a project file mutation reported by the assistant backend.
type FileOperation struct {
	Kind    FileOperationKind `json:"type"`
	Path    string            `json:"path"`
	Content string            `json:"content,omitempty"`
}

// PromptRequest is the body sent to the assistant backend for one turn.
// ConversationHistory never contains Message itself.
type PromptRequest struct {
	Message             string    `json:"message"`
	ConversationHistory []Message `json:"conversationHistory"`
}

// PromptResponse is the assistant backend's answer to one turn.
// TokensUsed and ConversationID are passed through untouched.
type PromptResponse struct {
	Response       string          `json:"response"`
	FileOperations []FileOperation `json:"fileOperations"`
	TokensUsed     int             `json:"tokensUsed"`
	ConversationID string          `json:"conversationId"`
}
