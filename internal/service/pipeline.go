package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/openai"
	"github.com/teammemory/teammemory/internal/telemetry"
)

// PipelineMessageRepository defines the message lookups the pipeline needs
type PipelineMessageRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetPrecedingUserMessage(ctx context.Context, conversationID string, before time.Time) (*domain.Message, error)
}

// PipelineCardRepository defines the knowledge card persistence interface
type PipelineCardRepository interface {
	Create(ctx context.Context, card *domain.KnowledgeCard) error
}

// PipelineEmbeddingRepository defines the embedding persistence interface
type PipelineEmbeddingRepository interface {
	Create(ctx context.Context, embedding *domain.Embedding) error
}

// PipelineSummarizer defines the summarizer interface used by the pipeline
type PipelineSummarizer interface {
	SummarizeQA(ctx context.Context, question, answer string) CardDraft
}

// PipelineEmbeddingClient defines the embedding client interface used by
// the pipeline
type PipelineEmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// DetachedRunner executes a task without the caller waiting on it
type DetachedRunner interface {
	Submit(task func()) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// PipelineResult reports the outcome of one ingestion run
type PipelineResult struct {
	Success         bool
	KnowledgeCardID string
	EmbeddingID     string
	Error           string
}

// IngestionPipeline turns a freshly answered question into a durable,
// embeddable knowledge card. Each stage either advances or terminates the
// run with a structured result; no stage is retried.
type IngestionPipeline struct {
	messages   PipelineMessageRepository
	cards      PipelineCardRepository
	embeddings PipelineEmbeddingRepository
	summarizer PipelineSummarizer
	embedder   PipelineEmbeddingClient
	runner     DetachedRunner
	uuidGen    UUIDGenerator
}

// NewIngestionPipeline creates a new IngestionPipeline instance
func NewIngestionPipeline(
	messages PipelineMessageRepository,
	cards PipelineCardRepository,
	embeddings PipelineEmbeddingRepository,
	summarizer PipelineSummarizer,
	embedder PipelineEmbeddingClient,
	runner DetachedRunner,
) *IngestionPipeline {
	return &IngestionPipeline{
		messages:   messages,
		cards:      cards,
		embeddings: embeddings,
		summarizer: summarizer,
		embedder:   embedder,
		runner:     runner,
		uuidGen:    &DefaultUUIDGenerator{},
	}
}

// NewIngestionPipelineWithUUIDGen creates an IngestionPipeline with a
// custom UUID generator (for testing)
func NewIngestionPipelineWithUUIDGen(
	messages PipelineMessageRepository,
	cards PipelineCardRepository,
	embeddings PipelineEmbeddingRepository,
	summarizer PipelineSummarizer,
	embedder PipelineEmbeddingClient,
	runner DetachedRunner,
	uuidGen UUIDGenerator,
) *IngestionPipeline {
	p := NewIngestionPipeline(messages, cards, embeddings, summarizer, embedder, runner)
	p.uuidGen = uuidGen
	return p
}

// Run executes the ingestion pipeline for an assistant message
func (p *IngestionPipeline) Run(ctx context.Context, assistantMessageID, userID string) PipelineResult {
	ctx, span := telemetry.StartSpan(ctx, "IngestionPipeline.Run", telemetry.SpanAttributes{
		UserID:    userID,
		MessageID: assistantMessageID,
		Operation: "ingest",
	})
	defer span.End()

	// 1. Resolve the assistant message
	assistantMsg, err := p.messages.GetByID(ctx, assistantMessageID)
	if err != nil {
		return failure(fmt.Sprintf("assistant message not found: %s", assistantMessageID))
	}
	if assistantMsg.Role != domain.MessageRoleAssistant {
		return failure(fmt.Sprintf("message is not an assistant message: %s", assistantMessageID))
	}

	// 2. Resolve the nearest preceding user message
	userMsg, err := p.messages.GetPrecedingUserMessage(ctx, assistantMsg.ConversationID, assistantMsg.CreatedAt)
	if err != nil || userMsg == nil {
		log.Printf("no preceding user message found for assistant message %s", assistantMessageID)
		return failure("no preceding user message found")
	}

	// 3. Summarize; never fails past its boundary
	draft := p.summarizer.SummarizeQA(ctx, userMsg.Content, assistantMsg.Content)

	// 4. Persist the knowledge card; the card is the anchor entity and has
	// no substitute, so persistence failure aborts the run.
	card := domain.NewKnowledgeCard(
		p.uuidGen.NewString(),
		assistantMessageID,
		userID,
		draft.Title,
		draft.Summary,
		draft.MainAnswer,
		draft.Tags,
		time.Now().UTC(),
	)
	if err := p.cards.Create(ctx, card); err != nil {
		log.Printf("failed to insert knowledge card: %v", err)
		telemetry.CaptureError(ctx, err)
		return failure(fmt.Sprintf("failed to insert knowledge card: %v", err))
	}

	// 5. Embed the card. A card without an embedding is still
	// keyword-searchable, so embedding failures are logged and tolerated.
	embeddingID := p.embedCard(ctx, card)

	log.Printf("knowledge pipeline completed: card=%s, embedding=%s", card.ID, orFailed(embeddingID))

	return PipelineResult{
		Success:         true,
		KnowledgeCardID: card.ID,
		EmbeddingID:     embeddingID,
	}
}

// RunDetached runs the pipeline without the caller waiting for or
// observing its result; outcomes are only visible through logs.
func (p *IngestionPipeline) RunDetached(assistantMessageID, userID string) {
	err := p.runner.Submit(func() {
		result := p.Run(context.Background(), assistantMessageID, userID)
		if !result.Success {
			log.Printf("knowledge pipeline failed for message %s: %s", assistantMessageID, result.Error)
		}
	})
	if err != nil {
		log.Printf("failed to schedule knowledge pipeline for message %s: %v", assistantMessageID, err)
	}
}

// embedCard generates and persists the card embedding, returning the
// embedding id or empty string on failure
func (p *IngestionPipeline) embedCard(ctx context.Context, card *domain.KnowledgeCard) string {
	text := openai.PrepareEmbeddingText(card.Title, card.Summary, card.MainAnswer)

	vector, err := p.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		log.Printf("failed to create embedding for card %s: %v", card.ID, err)
		telemetry.CaptureError(ctx, err)
		return ""
	}

	embedding := domain.NewEmbedding(
		p.uuidGen.NewString(),
		domain.ReferenceTypeKnowledgeCard,
		card.ID,
		vector,
		time.Now().UTC(),
	)
	if err := p.embeddings.Create(ctx, embedding); err != nil {
		log.Printf("failed to persist embedding for card %s: %v", card.ID, err)
		telemetry.CaptureError(ctx, err)
		return ""
	}

	return embedding.ID
}

func failure(message string) PipelineResult {
	return PipelineResult{Success: false, Error: message}
}

func orFailed(id string) string {
	if id == "" {
		return "failed"
	}
	return id
}
