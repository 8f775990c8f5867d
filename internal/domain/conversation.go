package domain

import (
	"fmt"
	"time"
)

// MessageRole identifies the author of a conversation message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ConversationMessage is one message of a support-channel conversation
type ConversationMessage struct {
	ID             string
	ConversationID string
	Role           MessageRole
	UserID         string
	Content        string
	Timestamp      time.Time
	GroupID        string
	Source         string
}

// Transcripts groups conversation messages by conversation ID
type Transcripts map[string][]ConversationMessage

// Len returns the total number of messages across all conversations
func (t Transcripts) Len() int {
	n := 0
	for _, msgs := range t {
		n += len(msgs)
	}
	return n
}

// ChatMessage is a single prompt message sent to a language model
type ChatMessage struct {
	Role    MessageRole
	Content string
}

// ValidateConversationMessage validates a ConversationMessage instance
func ValidateConversationMessage(m *ConversationMessage) error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}

	if m.ConversationID == "" {
		return fmt.Errorf("message ConversationID is required")
	}

	switch m.Role {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
	default:
		return fmt.Errorf("message Role is invalid: %s", m.Role)
	}

	if m.Content == "" {
		return fmt.Errorf("message Content is required")
	}

	return nil
}
