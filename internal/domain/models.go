// Package domain defines the core domain models for the assistant.
package domain

import (
	"encoding/json"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Conversation is one assistant conversation owned by a user.
// Messages are ordered by Seq, which is the order the store accepted them in.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	RawText        string    `json:"raw_text,omitempty"`
	Deleted        bool      `json:"deleted,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Messages       []Message `json:"messages,omitempty"`
}

// Message is a single entry in a conversation's history.
//
// Assistant messages recording a tool-dispatch step have empty Content and a
// non-empty ToolCalls list. Tool messages answer exactly one of those calls
// and carry the matching ToolCallID.
type Message struct {
	MessageID      string     `json:"message_id"`
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Images         []string   `json:"images,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID     string     `json:"tool_call_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ToolCall is a model-issued request to invoke a named tool.
// Arguments stay a structured JSON value in memory; they are only flattened
// to the OpenAI wire string inside the llm adapter.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// PlaceholderName is the display name a conversation starts with until the
// naming worker derives a real one.
const PlaceholderName = "New conversation"
