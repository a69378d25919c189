package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/teammemory/teammemory/internal/api"
	"github.com/teammemory/teammemory/internal/api/middleware"
	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/openai"
	"github.com/teammemory/teammemory/internal/service"
)

const chatSystemPrompt = "You are a helpful assistant for an internal team knowledge base. " +
	"Answer questions clearly and concisely. When you are not sure, say so."

// maxConversationTitleLength bounds the auto-generated conversation title
const maxConversationTitleLength = 80

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, c *domain.Conversation) error
	GetByIDForUser(ctx context.Context, id, userID string) (*domain.Conversation, error)
	Touch(ctx context.Context, id string) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error)
}

type ChatClient interface {
	ChatCompletion(ctx context.Context, model string, messages []openai.ChatMessage) (*openai.ChatResult, error)
}

type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, questionText string) []*service.DuplicateSuggestion
}

type KnowledgeIngestor interface {
	RunDetached(assistantMessageID, userID string)
}

type ChatHandler struct {
	users         UserRepository
	conversations ConversationRepository
	messages      MessageRepository
	chat          ChatClient
	duplicates    DuplicateFinder
	ingestor      KnowledgeIngestor
	uuidGen       service.UUIDGenerator
	model         string
}

func NewChatHandler(
	users UserRepository,
	conversations ConversationRepository,
	messages MessageRepository,
	chat ChatClient,
	duplicates DuplicateFinder,
	ingestor KnowledgeIngestor,
	model string,
) *ChatHandler {
	return &ChatHandler{
		users:         users,
		conversations: conversations,
		messages:      messages,
		chat:          chat,
		duplicates:    duplicates,
		ingestor:      ingestor,
		uuidGen:       &service.DefaultUUIDGenerator{},
		model:         model,
	}
}

// WithUUIDGenerator replaces the UUID generator (for testing)
func (h *ChatHandler) WithUUIDGenerator(gen service.UUIDGenerator) *ChatHandler {
	h.uuidGen = gen
	return h
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ChatUsageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type DuplicateSuggestionResponse struct {
	KnowledgeCardID string  `json:"knowledge_card_id"`
	Title           string  `json:"title"`
	Summary         string  `json:"summary"`
	Score           float64 `json:"score"`
}

type ChatResponse struct {
	ConversationID string                         `json:"conversation_id"`
	MessageID      string                         `json:"message_id"`
	Content        string                         `json:"content"`
	Model          string                         `json:"model"`
	Usage          ChatUsageResponse              `json:"usage"`
	SimilarResults []*DuplicateSuggestionResponse `json:"similar_results"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	if _, err := h.users.GetByID(r.Context(), userID); err != nil {
		api.HandleError(w, err)
		return
	}

	conversation, err := h.resolveConversation(r.Context(), req.ConversationID, userID, req.Message)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	now := time.Now().UTC()
	userMsg := domain.NewMessage(h.uuidGen.NewString(), conversation.ID, userID, domain.MessageRoleUser, req.Message, now)
	if err := h.messages.Create(r.Context(), userMsg); err != nil {
		api.HandleError(w, err)
		return
	}

	// Duplicate suggestions ride along with the answer; they never block it
	suggestions := h.duplicates.FindDuplicates(r.Context(), req.Message)

	history, err := h.messages.ListByConversation(r.Context(), conversation.ID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	result, err := h.chat.ChatCompletion(r.Context(), h.model, buildChatMessages(history))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	assistantMsg := domain.NewMessage(h.uuidGen.NewString(), conversation.ID, userID, domain.MessageRoleAssistant, result.Content, time.Now().UTC())
	assistantMsg.Model = result.Model
	assistantMsg.TokenCount = int32(result.Usage.TotalTokens)
	if err := h.messages.Create(r.Context(), assistantMsg); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.conversations.Touch(r.Context(), conversation.ID); err != nil {
		// The answer is already stored; a stale sort order is acceptable
		log.Printf("failed to touch conversation %s: %v", conversation.ID, err)
	}

	h.ingestor.RunDetached(assistantMsg.ID, userID)

	similar := make([]*DuplicateSuggestionResponse, len(suggestions))
	for i, s := range suggestions {
		similar[i] = &DuplicateSuggestionResponse{
			KnowledgeCardID: s.KnowledgeCardID,
			Title:           s.Title,
			Summary:         s.Summary,
			Score:           s.Score,
		}
	}

	api.Success(w, http.StatusOK, ChatResponse{
		ConversationID: conversation.ID,
		MessageID:      assistantMsg.ID,
		Content:        result.Content,
		Model:          result.Model,
		Usage: ChatUsageResponse{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		SimilarResults: similar,
	})
}

// resolveConversation loads an existing conversation for the user or
// starts a new one titled after the first message.
func (h *ChatHandler) resolveConversation(ctx context.Context, conversationID, userID, message string) (*domain.Conversation, error) {
	if conversationID != "" {
		return h.conversations.GetByIDForUser(ctx, conversationID, userID)
	}

	title := strings.TrimSpace(message)
	if runes := []rune(title); len(runes) > maxConversationTitleLength {
		title = string(runes[:maxConversationTitleLength])
	}

	conversation := domain.NewConversation(h.uuidGen.NewString(), userID, title, time.Now().UTC())
	if err := h.conversations.Create(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func buildChatMessages(history []*domain.Message) []openai.ChatMessage {
	messages := make([]openai.ChatMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatMessage{Role: "system", Content: chatSystemPrompt})
	for _, m := range history {
		messages = append(messages, openai.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return messages
}
