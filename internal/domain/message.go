package domain

import (
	"fmt"
	"time"
)

// MessageRole represents the author role of a chat message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Message represents a single chat message. Messages are immutable once created.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Role           MessageRole
	Content        string
	Model          string // Set for assistant messages
	TokenCount     int32  // Total tokens reported by the model, 0 if unknown
	CreatedAt      time.Time
}

// NewMessage creates a new Message instance
func NewMessage(
	id, conversationID, userID string,
	role MessageRole,
	content string,
	createdAt time.Time,
) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		CreatedAt:      createdAt,
	}
}

// ValidateMessage validates a Message instance
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}

	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}

	if m.ConversationID == "" {
		return fmt.Errorf("message ConversationID is required")
	}

	if m.UserID == "" {
		return fmt.Errorf("message UserID is required")
	}

	if m.Content == "" {
		return fmt.Errorf("message Content is required")
	}

	if !isValidMessageRole(m.Role) {
		return fmt.Errorf("message Role is invalid: %s", m.Role)
	}

	return nil
}

// isValidMessageRole checks if a MessageRole is valid
func isValidMessageRole(r MessageRole) bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	}
	return false
}
