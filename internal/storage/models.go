package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Credential is a stored API key for one provider. At most one row exists
// per provider; the schema enforces this with a UNIQUE constraint.
type Credential struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Secret    string    `json:"secret"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single chat message. Messages are immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered message history. Conversations are listed
// most-recent-first; new ones are inserted at the head.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Session-state keys.
const (
	KeyActiveConversation = "active_conversation_id"
	KeyActiveModel        = "active_model"
	KeyFreeTierUsage      = "free_tier_usage"
)
