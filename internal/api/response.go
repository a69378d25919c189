package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/openai"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// ErrorWithCode writes an error JSON response carrying a machine-readable code
func ErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeExternalService:
		return http.StatusBadGateway
	case domain.ErrCodePersistence:
		return http.StatusInternalServerError
	case domain.ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ServiceErrorToHTTP maps upstream model errors to HTTP status codes
func ServiceErrorToHTTP(err *openai.ServiceError) int {
	switch err.Code {
	case openai.CodeInvalidAPIKey:
		return http.StatusBadGateway
	case openai.CodeRateLimited:
		return http.StatusTooManyRequests
	case openai.CodeTimedOut:
		return http.StatusGatewayTimeout
	case openai.CodeServerError:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// HandleError writes an appropriate error response based on the error type
func HandleError(w http.ResponseWriter, err error) {
	var svcErr *openai.ServiceError
	if errors.As(err, &svcErr) {
		ErrorWithCode(w, ServiceErrorToHTTP(svcErr), svcErr.Code, svcErr.Message)
		return
	}

	status := DomainErrorToHTTP(err)
	Error(w, status, err.Error())
}
