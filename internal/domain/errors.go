package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeExternalService = "EXTERNAL_SERVICE_ERROR"
	ErrCodePersistence     = "PERSISTENCE_ERROR"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidMessageRole   = NewDomainError(ErrCodeValidation, "invalid message role")
	ErrInvalidVisibility    = NewDomainError(ErrCodeValidation, "invalid visibility")
	ErrInvalidReferenceType = NewDomainError(ErrCodeValidation, "invalid embedding reference type")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrMessageNotFound       = NewDomainError(ErrCodeNotFound, "message not found")
	ErrConversationNotFound  = NewDomainError(ErrCodeNotFound, "conversation not found")
	ErrKnowledgeCardNotFound = NewDomainError(ErrCodeNotFound, "knowledge card not found")
	ErrUserNotFound          = NewDomainError(ErrCodeNotFound, "user not found")
)
