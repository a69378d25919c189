package domain

import (
	"fmt"
	"strings"
	"time"
)

// Visibility controls who can see a knowledge card
type Visibility string

const (
	VisibilityTeam    Visibility = "team"
	VisibilityPrivate Visibility = "private"
)

const (
	// MaxTitleLength is the maximum length of a knowledge card title
	MaxTitleLength = 80
	// MaxTags is the maximum number of tags on a knowledge card
	MaxTags = 7
)

// KnowledgeCard is a persisted, structured summary of one question/answer
// exchange. Cards are created once by the ingestion pipeline and never
// updated afterward.
type KnowledgeCard struct {
	ID              string
	SourceMessageID string // Assistant message the card was distilled from, may be empty
	UserID          string
	Title           string
	Summary         string
	MainAnswer      string
	Tags            []string
	Visibility      Visibility
	ImportanceScore float64
	CreatedAt       time.Time
}

// NewKnowledgeCard creates a new KnowledgeCard instance with default
// visibility and importance
func NewKnowledgeCard(
	id, sourceMessageID, userID string,
	title, summary, mainAnswer string,
	tags []string,
	createdAt time.Time,
) *KnowledgeCard {
	return &KnowledgeCard{
		ID:              id,
		SourceMessageID: sourceMessageID,
		UserID:          userID,
		Title:           title,
		Summary:         summary,
		MainAnswer:      mainAnswer,
		Tags:            tags,
		Visibility:      VisibilityTeam,
		ImportanceScore: 0,
		CreatedAt:       createdAt,
	}
}

// ValidateKnowledgeCard validates a KnowledgeCard instance
func ValidateKnowledgeCard(c *KnowledgeCard) error {
	if c == nil {
		return fmt.Errorf("knowledge card cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("knowledge card ID is required")
	}

	if c.UserID == "" {
		return fmt.Errorf("knowledge card UserID is required")
	}

	if c.Title == "" {
		return fmt.Errorf("knowledge card Title is required")
	}

	if len(c.Title) > MaxTitleLength {
		return fmt.Errorf("knowledge card Title exceeds %d characters", MaxTitleLength)
	}

	if c.Summary == "" {
		return fmt.Errorf("knowledge card Summary is required")
	}

	if c.MainAnswer == "" {
		return fmt.Errorf("knowledge card MainAnswer is required")
	}

	if len(c.Tags) > MaxTags {
		return fmt.Errorf("knowledge card has more than %d tags", MaxTags)
	}

	for _, tag := range c.Tags {
		if tag == "" {
			return fmt.Errorf("knowledge card tags cannot be empty")
		}
		if tag != strings.ToLower(tag) || tag != strings.TrimSpace(tag) {
			return fmt.Errorf("knowledge card tag is not normalized: %q", tag)
		}
	}

	if !isValidVisibility(c.Visibility) {
		return fmt.Errorf("knowledge card Visibility is invalid: %s", c.Visibility)
	}

	return nil
}

// isValidVisibility checks if a Visibility is valid
func isValidVisibility(v Visibility) bool {
	switch v {
	case VisibilityTeam, VisibilityPrivate:
		return true
	}
	return false
}
