package chat

import (
	"fmt"
	"time"
)

// Role identifies the author of a context message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversational context, ordered oldest-first.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResponseRecord stores one completed prompt/response exchange.
type ResponseRecord struct {
	ID             string `json:"id"`
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Timestamp      int64  `json:"timestamp"`
	ConversationID string `json:"conversationId"`
}

// Conversation is the durable record of a single conversation: its full
// message context plus the command lines entered while it was current.
type Conversation struct {
	ID             string    `json:"id"`
	Context        []Message `json:"context"`
	CommandHistory []string  `json:"history"`
}

// SessionState is the mutable cross-conversation state. At most one
// conversation is active; at most one is paused, held as a snapshot that
// never aliases the active context.
type SessionState struct {
	LastResponseID        string    `json:"lastResponseId"`
	Context               []Message `json:"conversationContext"`
	CurrentConversationID string    `json:"currentConversationId"`
	Paused                bool      `json:"pausedConversation"`
	PausedContext         []Message `json:"pausedConversationContext"`
	PausedConversationID  string    `json:"pausedConversationId"`
}

const conversationIDPrefix = "conv_"

// NewConversationID derives a conversation identifier from its creation time.
func NewConversationID(at time.Time) string {
	return fmt.Sprintf("%s%d", conversationIDPrefix, at.UnixMilli())
}
