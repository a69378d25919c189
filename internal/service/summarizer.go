package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/teammemory/teammemory/internal/openai"
)

// FallbackTag marks cards whose draft was built without the summarizer
const FallbackTag = "auto-generated"

const maxSummaryFallbackLength = 500

const summarizerSystemPrompt = `You are a Knowledge Compressor. Your task is to extract and structure knowledge from Q&A pairs into reusable knowledge cards.

Given a question and answer, create a knowledge card with:
1. **title**: A concise, searchable title (max 80 chars) that captures the main topic
2. **summary**: 2-4 sentences summarizing the key information
3. **mainAnswer**: A clean, standalone answer that can be understood without the original question
4. **tags**: 3-7 lowercase keyword tags for categorization (e.g., "process", "troubleshooting", "how-to", "ops", "policy")

Respond ONLY with valid JSON in this exact format:
{
  "title": "string",
  "summary": "string",
  "mainAnswer": "string",
  "tags": ["string", "string", ...]
}

Guidelines:
- Title should be clear and searchable
- Summary should be concise but complete
- MainAnswer should be self-contained and actionable
- Tags should be relevant keywords, lowercase, no special characters
- Preserve technical accuracy
- Keep the same language as the input`

// CardDraft is the structured output of summarizing a Q&A pair
type CardDraft struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	MainAnswer string   `json:"mainAnswer"`
	Tags       []string `json:"tags"`
}

// SummarizerChatClient defines the LLM interface used for summarization
type SummarizerChatClient interface {
	StructuredCompletion(ctx context.Context, model string, messages []openai.ChatMessage) (string, error)
}

// Summarizer turns a question/answer pair into a knowledge card draft.
// It never fails: any LLM or parsing error degrades to a deterministic
// fallback built from the raw input, so ingestion is never blocked by
// summarization failure.
type Summarizer struct {
	client SummarizerChatClient
	model  string
}

// NewSummarizer creates a new Summarizer instance
func NewSummarizer(client SummarizerChatClient, model string) *Summarizer {
	if model == "" {
		model = openai.DefaultChatModel
	}
	return &Summarizer{
		client: client,
		model:  model,
	}
}

// SummarizeQA summarizes a question/answer pair into a CardDraft
func (s *Summarizer) SummarizeQA(ctx context.Context, question, answer string) CardDraft {
	userPrompt := fmt.Sprintf("Question: %s\n\nAnswer: %s", question, answer)

	content, err := s.client.StructuredCompletion(ctx, s.model, []openai.ChatMessage{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		log.Printf("summarization failed, using fallback card: %v", err)
		return fallbackCard(question, answer)
	}

	var draft CardDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		log.Printf("summarization returned malformed JSON, using fallback card: %v", err)
		return fallbackCard(question, answer)
	}

	if draft.Title == "" || draft.Summary == "" || draft.MainAnswer == "" {
		log.Printf("summarization response missing required fields, using fallback card")
		return fallbackCard(question, answer)
	}

	draft.Tags = normalizeTags(draft.Tags)
	draft.Title = truncateWithEllipsis(draft.Title, 80)

	return draft
}

// fallbackCard builds a draft directly from the raw Q&A pair
func fallbackCard(question, answer string) CardDraft {
	return CardDraft{
		Title:      truncateWithEllipsis(question, 80),
		Summary:    truncateWithEllipsis(answer, maxSummaryFallbackLength),
		MainAnswer: answer,
		Tags:       []string{FallbackTag},
	}
}

// normalizeTags lowercases and trims tags, drops empties, and caps the
// count at seven. Duplicates within the cap are kept as-is.
func normalizeTags(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.ToLower(tag))
		if tag == "" {
			continue
		}
		cleaned = append(cleaned, tag)
	}
	if len(cleaned) > 7 {
		cleaned = cleaned[:7]
	}
	return cleaned
}

// truncateWithEllipsis cuts s to exactly max characters, ending in "..."
// when anything was removed. Counting and cutting happen on runes so
// multi-byte input is never split into invalid UTF-8.
func truncateWithEllipsis(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
