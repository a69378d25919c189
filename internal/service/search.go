package service

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/telemetry"
)

// SearchMode selects the retrieval strategy
type SearchMode string

const (
	SearchModeHybrid   SearchMode = "hybrid"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeKeyword  SearchMode = "keyword"
)

const (
	// DefaultSearchLimit is the result limit used when the caller passes none
	DefaultSearchLimit = 10

	// searchThreshold is the similarity floor for regular semantic search
	searchThreshold = 0.5
	// duplicateThreshold is the similarity floor for duplicate suggestions
	duplicateThreshold = 0.80
	// duplicateLimit is the fixed result count for duplicate suggestions
	duplicateLimit = 5

	// semanticWeight and keywordWeight bias the hybrid merge toward
	// semantic recall while still rewarding exact lexical hits
	semanticWeight = 0.7
	keywordWeight  = 0.3

	// candidateMultiplier widens each hybrid branch before merge
	candidateMultiplier = 2
)

// SearchFilters restrict a search to matching cards
type SearchFilters struct {
	Tag        string
	UserID     string
	Visibility string // "team", "private" or "all"
	Limit      int
}

// SearchResult is a transient, scored search hit
type SearchResult struct {
	KnowledgeCardID string
	Title           string
	Summary         string
	MainAnswer      string
	Tags            []string
	Score           float64
	CreatedAt       time.Time
}

// DuplicateSuggestion is a reduced projection of a high-confidence
// semantic match, surfaced before generating a new answer
type DuplicateSuggestion struct {
	KnowledgeCardID string
	Title           string
	Summary         string
	Score           float64
}

// EmbeddingMatch is one nearest-neighbor hit from the vector index
type EmbeddingMatch struct {
	ReferenceID string
	Similarity  float64
}

// SearchEmbeddingClient defines the interface for embedding search queries
type SearchEmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// SearchRepository defines the datastore interface for retrieval
type SearchRepository interface {
	// SearchCardsByKeyword returns cards whose title or summary contains the
	// query, filtered and ordered by importance then recency
	SearchCardsByKeyword(ctx context.Context, query string, filters SearchFilters) ([]*domain.KnowledgeCard, error)

	// SearchSimilarEmbeddings returns (reference id, similarity) pairs above
	// the threshold, ordered by similarity descending
	SearchSimilarEmbeddings(ctx context.Context, vector []float32, refType domain.ReferenceType, threshold float64, limit int) ([]EmbeddingMatch, error)

	// GetCardsByIDs fetches cards by id, re-applying the visibility, owner
	// and tag filters
	GetCardsByIDs(ctx context.Context, ids []string, filters SearchFilters) ([]*domain.KnowledgeCard, error)
}

// SearchService merges lexical and vector retrieval over knowledge cards.
// Every public method degrades to an empty result list on internal
// failure rather than failing the caller's request.
type SearchService struct {
	repo     SearchRepository
	embedder SearchEmbeddingClient
}

// NewSearchService creates a new SearchService instance
func NewSearchService(repo SearchRepository, embedder SearchEmbeddingClient) *SearchService {
	return &SearchService{
		repo:     repo,
		embedder: embedder,
	}
}

// Search dispatches to the retrieval strategy for the given mode.
// Hybrid is the default; mode validity is the caller's responsibility.
func (s *SearchService) Search(ctx context.Context, query string, mode SearchMode, filters SearchFilters) []*SearchResult {
	switch mode {
	case SearchModeSemantic:
		return s.SearchBySemantic(ctx, query, filters)
	case SearchModeKeyword:
		return s.SearchByKeyword(ctx, query, filters)
	default:
		return s.SearchHybrid(ctx, query, filters)
	}
}

// SearchByKeyword performs a case-insensitive substring search over card
// titles and summaries. Every match scores exactly 1.0.
func (s *SearchService) SearchByKeyword(ctx context.Context, query string, filters SearchFilters) []*SearchResult {
	filters = withDefaultLimit(filters)

	cards, err := s.repo.SearchCardsByKeyword(ctx, query, filters)
	if err != nil {
		log.Printf("keyword search error: %v", err)
		telemetry.CaptureError(ctx, err)
		return []*SearchResult{}
	}

	results := make([]*SearchResult, 0, len(cards))
	for _, card := range cards {
		results = append(results, cardToResult(card, 1.0))
	}
	return results
}

// SearchBySemantic embeds the query and runs a nearest-neighbor lookup
// over stored knowledge card embeddings. Visibility, owner and tag
// filters are applied after the nearest-neighbor cut, so fewer than
// limit results may come back even when more true matches exist beyond
// the candidate window.
func (s *SearchService) SearchBySemantic(ctx context.Context, query string, filters SearchFilters) []*SearchResult {
	filters = withDefaultLimit(filters)

	matches, cards, err := s.semanticCandidates(ctx, query, filters, searchThreshold, filters.Limit)
	if err != nil {
		log.Printf("semantic search error: %v", err)
		telemetry.CaptureError(ctx, err)
		return []*SearchResult{}
	}

	results := make([]*SearchResult, 0, len(matches))
	for _, match := range matches {
		card, ok := cards[match.ReferenceID]
		if !ok {
			continue
		}
		results = append(results, cardToResult(card, match.Similarity))
	}
	return results
}

// SearchHybrid runs semantic and keyword search concurrently, each over a
// widened candidate window, and merges them with a weighted score:
// semantic hits enter at similarity x 0.7, keyword hits boost an existing
// entry by 0.3 (capped at 1.0) or enter at 0.3. Ties keep insertion order.
func (s *SearchService) SearchHybrid(ctx context.Context, query string, filters SearchFilters) []*SearchResult {
	filters = withDefaultLimit(filters)
	limit := filters.Limit

	widened := filters
	widened.Limit = limit * candidateMultiplier

	var wg sync.WaitGroup
	var semanticResults, keywordResults []*SearchResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		semanticResults = s.SearchBySemantic(ctx, query, widened)
	}()
	go func() {
		defer wg.Done()
		keywordResults = s.SearchByKeyword(ctx, query, widened)
	}()
	wg.Wait()

	return mergeHybridResults(semanticResults, keywordResults, limit)
}

// FindDuplicates looks for team-visible cards semantically close enough to
// the question to be suggested instead of a fresh answer. Any failure
// degrades silently to an empty list; the check must never abort the
// request that triggered it.
func (s *SearchService) FindDuplicates(ctx context.Context, questionText string) []*DuplicateSuggestion {
	// Visibility is forced to team so private cards are never exposed.
	filters := SearchFilters{
		Visibility: string(domain.VisibilityTeam),
		Limit:      duplicateLimit,
	}

	matches, cards, err := s.semanticCandidates(ctx, questionText, filters, duplicateThreshold, duplicateLimit)
	if err != nil {
		log.Printf("duplicate detection error: %v", err)
		telemetry.CaptureError(ctx, err)
		return []*DuplicateSuggestion{}
	}

	suggestions := make([]*DuplicateSuggestion, 0, len(matches))
	for _, match := range matches {
		card, ok := cards[match.ReferenceID]
		if !ok {
			continue
		}
		suggestions = append(suggestions, &DuplicateSuggestion{
			KnowledgeCardID: card.ID,
			Title:           card.Title,
			Summary:         card.Summary,
			Score:           match.Similarity,
		})
	}
	return suggestions
}

// semanticCandidates embeds the query, fetches nearest-neighbor matches
// and resolves them to filtered cards keyed by id
func (s *SearchService) semanticCandidates(
	ctx context.Context,
	query string,
	filters SearchFilters,
	threshold float64,
	limit int,
) ([]EmbeddingMatch, map[string]*domain.KnowledgeCard, error) {
	vector, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	matches, err := s.repo.SearchSimilarEmbeddings(ctx, vector, domain.ReferenceTypeKnowledgeCard, threshold, limit)
	if err != nil {
		return nil, nil, err
	}
	if len(matches) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.ReferenceID)
	}

	cards, err := s.repo.GetCardsByIDs(ctx, ids, filters)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*domain.KnowledgeCard, len(cards))
	for _, card := range cards {
		byID[card.ID] = card
	}
	return matches, byID, nil
}

// mergeHybridResults implements the insert-then-boost merge. Semantic
// results enter first; the final order comes from a stable re-sort, never
// from map iteration order.
func mergeHybridResults(semanticResults, keywordResults []*SearchResult, limit int) []*SearchResult {
	merged := make([]*SearchResult, 0, len(semanticResults)+len(keywordResults))
	index := make(map[string]*SearchResult, len(semanticResults))

	for _, r := range semanticResults {
		entry := *r
		entry.Score = r.Score * semanticWeight
		merged = append(merged, &entry)
		index[entry.KnowledgeCardID] = &entry
	}

	for _, r := range keywordResults {
		if existing, ok := index[r.KnowledgeCardID]; ok {
			existing.Score = min(1.0, existing.Score+keywordWeight)
			continue
		}
		entry := *r
		entry.Score = r.Score * keywordWeight
		merged = append(merged, &entry)
		index[entry.KnowledgeCardID] = &entry
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func cardToResult(card *domain.KnowledgeCard, score float64) *SearchResult {
	return &SearchResult{
		KnowledgeCardID: card.ID,
		Title:           card.Title,
		Summary:         card.Summary,
		MainAnswer:      card.MainAnswer,
		Tags:            card.Tags,
		Score:           score,
		CreatedAt:       card.CreatedAt,
	}
}

func withDefaultLimit(filters SearchFilters) SearchFilters {
	if filters.Limit <= 0 {
		filters.Limit = DefaultSearchLimit
	}
	return filters
}
