// Package conversation records the question/answer exchanges flowing
// through the service. One conversation groups the messages a session
// exchanges with one assistant; project owners read them back for
// review and debugging.
package conversation

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound indicates the conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation groups one session's exchange with one assistant.
type Conversation struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ProjectID   string    `json:"project_id"`
	AssistantID string    `json:"assistant_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is one utterance within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ContextUsed    bool      `json:"context_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// Log persists conversations and their messages.
//
// Ensure returns the conversation for (sessionID, assistantID),
// creating it on first use. Append adds a message. Messages returns a
// conversation's messages oldest first, capped at limit when limit is
// positive.
type Log interface {
	Ensure(ctx context.Context, sessionID, projectID, assistantID string) (*Conversation, error)
	Append(ctx context.Context, m *Message) error
	Messages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}
