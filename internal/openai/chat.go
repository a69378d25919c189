package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatMessage is a single message in a chat completion request
type ChatMessage struct {
	Role    string
	Content string
}

// TokenUsage reports token counts from a completion
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResult is the outcome of a chat completion call
type ChatResult struct {
	Content   string
	Model     string
	Usage     TokenUsage
	RequestID string
}

// ChatCompletion sends a chat completion request and returns the first choice.
func (c *Client) ChatCompletion(ctx context.Context, model string, messages []ChatMessage) (*ChatResult, error) {
	return c.complete(ctx, model, messages, false)
}

// StructuredCompletion sends a chat completion request demanding a JSON
// object response and returns the raw content.
func (c *Client) StructuredCompletion(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	result, err := c.complete(ctx, model, messages, true)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (c *Client) complete(ctx context.Context, model string, messages []ChatMessage, structured bool) (*ChatResult, error) {
	if model == "" {
		model = DefaultChatModel
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if structured {
		req.Temperature = 0.3
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrNoContent
	}

	return &ChatResult{
		Content:   resp.Choices[0].Message.Content,
		Model:     resp.Model,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		RequestID: resp.ID,
	}, nil
}

// Error codes for classified OpenAI failures
const (
	CodeRateLimited   = "RATE_LIMIT"
	CodeTimedOut      = "TIMEOUT"
	CodeServerError   = "SERVER_ERROR"
	CodeInvalidAPIKey = "INVALID_API_KEY"
	CodeAPIError      = "API_ERROR"
)

// ServiceError is an OpenAI failure classified into a fixed set of codes,
// each carrying a retriability hint.
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Retriable  bool
	Err        error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// classifyError maps API and transport failures onto the fixed ServiceError
// set. Unrecognized errors become generic, non-retriable API errors.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &ServiceError{
				Code:       CodeInvalidAPIKey,
				Message:    "invalid OpenAI API key",
				StatusCode: apiErr.HTTPStatusCode,
				Retriable:  false,
				Err:        err,
			}
		case apiErr.HTTPStatusCode == 429:
			return &ServiceError{
				Code:       CodeRateLimited,
				Message:    "OpenAI rate limit exceeded",
				StatusCode: apiErr.HTTPStatusCode,
				Retriable:  true,
				Err:        err,
			}
		case apiErr.HTTPStatusCode >= 500:
			return &ServiceError{
				Code:       CodeServerError,
				Message:    "OpenAI service is temporarily unavailable",
				StatusCode: apiErr.HTTPStatusCode,
				Retriable:  true,
				Err:        err,
			}
		default:
			return &ServiceError{
				Code:       CodeAPIError,
				Message:    apiErr.Message,
				StatusCode: apiErr.HTTPStatusCode,
				Retriable:  false,
				Err:        err,
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout") {
		return &ServiceError{
			Code:       CodeTimedOut,
			Message:    "request to OpenAI timed out",
			StatusCode: 504,
			Retriable:  true,
			Err:        err,
		}
	}

	return &ServiceError{
		Code:      CodeAPIError,
		Message:   err.Error(),
		Retriable: false,
		Err:       err,
	}
}
