package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teammemory/teammemory/internal/domain"
)

// MockPipelineMessageRepository is a mock implementation of PipelineMessageRepository
type MockPipelineMessageRepository struct {
	mock.Mock
}

func (m *MockPipelineMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockPipelineMessageRepository) GetPrecedingUserMessage(ctx context.Context, conversationID string, before time.Time) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

// MockPipelineCardRepository is a mock implementation of PipelineCardRepository
type MockPipelineCardRepository struct {
	mock.Mock
}

func (m *MockPipelineCardRepository) Create(ctx context.Context, card *domain.KnowledgeCard) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}

// MockPipelineEmbeddingRepository is a mock implementation of PipelineEmbeddingRepository
type MockPipelineEmbeddingRepository struct {
	mock.Mock
}

func (m *MockPipelineEmbeddingRepository) Create(ctx context.Context, embedding *domain.Embedding) error {
	args := m.Called(ctx, embedding)
	return args.Error(0)
}

// MockPipelineSummarizer is a mock implementation of PipelineSummarizer
type MockPipelineSummarizer struct {
	mock.Mock
}

func (m *MockPipelineSummarizer) SummarizeQA(ctx context.Context, question, answer string) CardDraft {
	args := m.Called(ctx, question, answer)
	return args.Get(0).(CardDraft)
}

// syncRunner executes submitted tasks inline so tests observe the full
// pipeline without scheduling
type syncRunner struct {
	submitErr error
	submitted int
}

func (r *syncRunner) Submit(task func()) error {
	if r.submitErr != nil {
		return r.submitErr
	}
	r.submitted++
	task()
	return nil
}

// MockUUIDGenerator returns queued UUIDs in order
type MockUUIDGenerator struct {
	uuids []string
	index int
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (g *MockUUIDGenerator) NewString() string {
	if g.index >= len(g.uuids) {
		return "out-of-uuids"
	}
	id := g.uuids[g.index]
	g.index++
	return id
}

type pipelineMocks struct {
	messages   *MockPipelineMessageRepository
	cards      *MockPipelineCardRepository
	embeddings *MockPipelineEmbeddingRepository
	summarizer *MockPipelineSummarizer
	embedder   *MockEmbedder
	runner     *syncRunner
}

func newTestPipeline(uuids ...string) (*IngestionPipeline, *pipelineMocks) {
	m := &pipelineMocks{
		messages:   new(MockPipelineMessageRepository),
		cards:      new(MockPipelineCardRepository),
		embeddings: new(MockPipelineEmbeddingRepository),
		summarizer: new(MockPipelineSummarizer),
		embedder:   new(MockEmbedder),
		runner:     &syncRunner{},
	}
	p := NewIngestionPipelineWithUUIDGen(
		m.messages, m.cards, m.embeddings, m.summarizer, m.embedder, m.runner,
		NewMockUUIDGenerator(uuids...),
	)
	return p, m
}

func assistantMessage(id, conversationID string) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         "user-1",
		Role:           domain.MessageRoleAssistant,
		Content:        "Use vercel deploy with the --prod flag.",
		CreatedAt:      time.Now().UTC(),
	}
}

func userMessage(id, conversationID string) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         "user-1",
		Role:           domain.MessageRoleUser,
		Content:        "How do I deploy to production?",
		CreatedAt:      time.Now().UTC().Add(-time.Minute),
	}
}

func TestIngestionPipeline_Run(t *testing.T) {
	p, m := newTestPipeline("card-uuid", "embedding-uuid")
	ctx := context.Background()

	assistant := assistantMessage("msg-2", "conv-1")
	user := userMessage("msg-1", "conv-1")

	m.messages.On("GetByID", ctx, "msg-2").Return(assistant, nil)
	m.messages.On("GetPrecedingUserMessage", ctx, "conv-1", assistant.CreatedAt).Return(user, nil)
	m.summarizer.On("SummarizeQA", ctx, user.Content, assistant.Content).Return(CardDraft{
		Title:      "Deploying to production",
		Summary:    "Use the prod flag.",
		MainAnswer: assistant.Content,
		Tags:       []string{"deploy"},
	})
	m.cards.On("Create", ctx, mock.MatchedBy(func(card *domain.KnowledgeCard) bool {
		return card.ID == "card-uuid" &&
			card.SourceMessageID == "msg-2" &&
			card.UserID == "user-1" &&
			card.Title == "Deploying to production" &&
			card.Visibility == domain.VisibilityTeam
	})).Return(nil)
	m.embedder.On("GenerateEmbedding", ctx, mock.AnythingOfType("string")).
		Return(make([]float32, 1536), nil)
	m.embeddings.On("Create", ctx, mock.MatchedBy(func(e *domain.Embedding) bool {
		return e.ID == "embedding-uuid" &&
			e.ReferenceType == domain.ReferenceTypeKnowledgeCard &&
			e.ReferenceID == "card-uuid"
	})).Return(nil)

	result := p.Run(ctx, "msg-2", "user-1")

	assert.True(t, result.Success)
	assert.Equal(t, "card-uuid", result.KnowledgeCardID)
	assert.Equal(t, "embedding-uuid", result.EmbeddingID)
	assert.Empty(t, result.Error)
	m.messages.AssertExpectations(t)
	m.cards.AssertExpectations(t)
	m.embeddings.AssertExpectations(t)
}

func TestIngestionPipeline_Run_AssistantMessageNotFound(t *testing.T) {
	p, m := newTestPipeline()
	ctx := context.Background()

	m.messages.On("GetByID", ctx, "missing").Return(nil, domain.ErrMessageNotFound)

	result := p.Run(ctx, "missing", "user-1")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "assistant message not found")
	m.summarizer.AssertNotCalled(t, "SummarizeQA", mock.Anything, mock.Anything, mock.Anything)
	m.cards.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestionPipeline_Run_RejectsNonAssistantMessage(t *testing.T) {
	p, m := newTestPipeline()
	ctx := context.Background()

	m.messages.On("GetByID", ctx, "msg-1").Return(userMessage("msg-1", "conv-1"), nil)

	result := p.Run(ctx, "msg-1", "user-1")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not an assistant message")
	m.messages.AssertNotCalled(t, "GetPrecedingUserMessage", mock.Anything, mock.Anything, mock.Anything)
	m.summarizer.AssertNotCalled(t, "SummarizeQA", mock.Anything, mock.Anything, mock.Anything)
	m.cards.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestionPipeline_Run_NoPrecedingUserMessage(t *testing.T) {
	p, m := newTestPipeline()
	ctx := context.Background()

	assistant := assistantMessage("msg-2", "conv-1")
	m.messages.On("GetByID", ctx, "msg-2").Return(assistant, nil)
	m.messages.On("GetPrecedingUserMessage", ctx, "conv-1", assistant.CreatedAt).
		Return(nil, errors.New("no rows"))

	result := p.Run(ctx, "msg-2", "user-1")

	assert.False(t, result.Success)
	assert.Equal(t, "no preceding user message found", result.Error)
	m.summarizer.AssertNotCalled(t, "SummarizeQA", mock.Anything, mock.Anything, mock.Anything)
	m.cards.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestionPipeline_Run_CardPersistenceFailureAborts(t *testing.T) {
	p, m := newTestPipeline("card-uuid")
	ctx := context.Background()

	assistant := assistantMessage("msg-2", "conv-1")
	m.messages.On("GetByID", ctx, "msg-2").Return(assistant, nil)
	m.messages.On("GetPrecedingUserMessage", ctx, "conv-1", assistant.CreatedAt).
		Return(userMessage("msg-1", "conv-1"), nil)
	m.summarizer.On("SummarizeQA", ctx, mock.Anything, mock.Anything).Return(CardDraft{
		Title:      "T",
		Summary:    "S",
		MainAnswer: "A",
		Tags:       []string{FallbackTag},
	})
	m.cards.On("Create", ctx, mock.Anything).Return(errors.New("insert failed"))

	result := p.Run(ctx, "msg-2", "user-1")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "failed to insert knowledge card")
	m.embedder.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
	m.embeddings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestionPipeline_Run_EmbeddingFailureIsTolerated(t *testing.T) {
	embeddingFailures := map[string]func(m *pipelineMocks){
		"GenerateFails": func(m *pipelineMocks) {
			m.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
				Return(nil, errors.New("embedding service down"))
		},
		"PersistFails": func(m *pipelineMocks) {
			m.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
				Return(make([]float32, 1536), nil)
			m.embeddings.On("Create", mock.Anything, mock.Anything).
				Return(errors.New("insert failed"))
		},
	}

	for name, arrange := range embeddingFailures {
		t.Run(name, func(t *testing.T) {
			p, m := newTestPipeline("card-uuid", "embedding-uuid")
			ctx := context.Background()

			assistant := assistantMessage("msg-2", "conv-1")
			m.messages.On("GetByID", ctx, "msg-2").Return(assistant, nil)
			m.messages.On("GetPrecedingUserMessage", ctx, "conv-1", assistant.CreatedAt).
				Return(userMessage("msg-1", "conv-1"), nil)
			m.summarizer.On("SummarizeQA", ctx, mock.Anything, mock.Anything).Return(CardDraft{
				Title:      "T",
				Summary:    "S",
				MainAnswer: "A",
				Tags:       []string{FallbackTag},
			})
			m.cards.On("Create", ctx, mock.Anything).Return(nil)
			arrange(m)

			result := p.Run(ctx, "msg-2", "user-1")

			// The card survives; only the embedding is missing.
			assert.True(t, result.Success)
			assert.Equal(t, "card-uuid", result.KnowledgeCardID)
			assert.Empty(t, result.EmbeddingID)
		})
	}
}

func TestIngestionPipeline_RunDetached(t *testing.T) {
	p, m := newTestPipeline("card-uuid", "embedding-uuid")

	assistant := assistantMessage("msg-2", "conv-1")
	m.messages.On("GetByID", mock.Anything, "msg-2").Return(assistant, nil)
	m.messages.On("GetPrecedingUserMessage", mock.Anything, "conv-1", assistant.CreatedAt).
		Return(userMessage("msg-1", "conv-1"), nil)
	m.summarizer.On("SummarizeQA", mock.Anything, mock.Anything, mock.Anything).Return(CardDraft{
		Title:      "T",
		Summary:    "S",
		MainAnswer: "A",
		Tags:       []string{FallbackTag},
	})
	m.cards.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).
		Return(make([]float32, 1536), nil)
	m.embeddings.On("Create", mock.Anything, mock.Anything).Return(nil)

	p.RunDetached("msg-2", "user-1")

	require.Equal(t, 1, m.runner.submitted)
	m.cards.AssertExpectations(t)
	m.embeddings.AssertExpectations(t)
}

func TestIngestionPipeline_RunDetached_SubmitFailureDoesNotPanic(t *testing.T) {
	p, m := newTestPipeline()
	m.runner.submitErr = errors.New("pool closed")

	assert.NotPanics(t, func() {
		p.RunDetached("msg-2", "user-1")
	})
	m.messages.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
