// Package session provides durable conversation storage: an append-only
// log of turns keyed by conversation, scoped by owning user.
package session

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist for the given
// owner. Ownership mismatches and missing rows are indistinguishable so
// that callers cannot probe for other users' conversations.
var ErrNotFound = errors.New("conversation not found")

// Turn roles. Tool turns record structured tool results and are excluded
// from user-facing transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Conversation is a chat thread owned by a single user.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one immutable entry in a conversation transcript.
type Turn struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	// ToolName is set on tool-result turns and on assistant turns that
	// requested the call; empty otherwise.
	ToolName  string    `json:"tool_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
