package domain

import (
	"fmt"
	"time"
)

// Conversation groups the messages of one chat thread for a single user.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewConversation creates a new Conversation instance
func NewConversation(id, userID, title string, createdAt time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// ValidateConversation validates a Conversation instance
func ValidateConversation(c *Conversation) error {
	if c == nil {
		return fmt.Errorf("conversation cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("conversation ID is required")
	}

	if c.UserID == "" {
		return fmt.Errorf("conversation UserID is required")
	}

	return nil
}

// UserRole represents the role of a user account
type UserRole string

const (
	UserRoleMember UserRole = "member"
	UserRoleAdmin  UserRole = "admin"
)

// User represents a team member account
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        UserRole
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
