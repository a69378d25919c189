package domain

import (
	"fmt"
	"time"
)

// ReferenceType identifies the kind of record an embedding belongs to
type ReferenceType string

const (
	ReferenceTypeMessage       ReferenceType = "message"
	ReferenceTypeKnowledgeCard ReferenceType = "knowledge_card"
)

// Embedding stores the vector representation of a referenced record.
// An embedding is only created after its referenced record exists; a
// record without an embedding is a valid, tolerated state.
type Embedding struct {
	ID            string
	ReferenceType ReferenceType
	ReferenceID   string
	Vector        []float32
	CreatedAt     time.Time
}

// NewEmbedding creates a new Embedding instance
func NewEmbedding(
	id string,
	referenceType ReferenceType,
	referenceID string,
	vector []float32,
	createdAt time.Time,
) *Embedding {
	return &Embedding{
		ID:            id,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		Vector:        vector,
		CreatedAt:     createdAt,
	}
}

// ValidateEmbedding validates an Embedding instance against the expected
// vector dimension
func ValidateEmbedding(e *Embedding, dimensions int) error {
	if e == nil {
		return fmt.Errorf("embedding cannot be nil")
	}

	if e.ID == "" {
		return fmt.Errorf("embedding ID is required")
	}

	if e.ReferenceID == "" {
		return fmt.Errorf("embedding ReferenceID is required")
	}

	if !isValidReferenceType(e.ReferenceType) {
		return fmt.Errorf("embedding ReferenceType is invalid: %s", e.ReferenceType)
	}

	if dimensions > 0 && len(e.Vector) != dimensions {
		return fmt.Errorf("embedding vector has %d components, expected %d", len(e.Vector), dimensions)
	}

	return nil
}

// isValidReferenceType checks if a ReferenceType is valid
func isValidReferenceType(t ReferenceType) bool {
	switch t {
	case ReferenceTypeMessage, ReferenceTypeKnowledgeCard:
		return true
	}
	return false
}
