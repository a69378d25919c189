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

// MockSearchRepository is a mock implementation of SearchRepository
type MockSearchRepository struct {
	mock.Mock
}

func (m *MockSearchRepository) SearchCardsByKeyword(ctx context.Context, query string, filters SearchFilters) ([]*domain.KnowledgeCard, error) {
	args := m.Called(ctx, query, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeCard), args.Error(1)
}

func (m *MockSearchRepository) SearchSimilarEmbeddings(ctx context.Context, vector []float32, refType domain.ReferenceType, threshold float64, limit int) ([]EmbeddingMatch, error) {
	args := m.Called(ctx, vector, refType, threshold, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]EmbeddingMatch), args.Error(1)
}

func (m *MockSearchRepository) GetCardsByIDs(ctx context.Context, ids []string, filters SearchFilters) ([]*domain.KnowledgeCard, error) {
	args := m.Called(ctx, ids, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeCard), args.Error(1)
}

// MockEmbedder is a mock implementation of SearchEmbeddingClient
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func testCard(id, title string, importance float64) *domain.KnowledgeCard {
	return &domain.KnowledgeCard{
		ID:              id,
		UserID:          "user-1",
		Title:           title,
		Summary:         "summary of " + title,
		MainAnswer:      "answer for " + title,
		Tags:            []string{"how-to"},
		Visibility:      domain.VisibilityTeam,
		ImportanceScore: importance,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestSearchService_SearchByKeyword(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	cards := []*domain.KnowledgeCard{
		testCard("card-1", "How to deploy to Vercel", 5),
		testCard("card-2", "Vercel pricing", 1),
	}
	repo.On("SearchCardsByKeyword", ctx, "deploy vercel", SearchFilters{Limit: DefaultSearchLimit}).
		Return(cards, nil)

	results := svc.SearchByKeyword(ctx, "deploy vercel", SearchFilters{})

	require.Len(t, results, 2)
	// The repository handles importance-then-recency ordering; every
	// keyword match scores exactly 1.0.
	assert.Equal(t, "card-1", results[0].KnowledgeCardID)
	assert.Equal(t, "card-2", results[1].KnowledgeCardID)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 1.0, results[1].Score)
	repo.AssertExpectations(t)
}

func TestSearchService_SearchByKeyword_ErrorDegradesToEmpty(t *testing.T) {
	repo := new(MockSearchRepository)
	svc := NewSearchService(repo, new(MockEmbedder))

	ctx := context.Background()
	repo.On("SearchCardsByKeyword", ctx, "q", mock.Anything).
		Return(nil, errors.New("db down"))

	results := svc.SearchByKeyword(ctx, "q", SearchFilters{})

	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearchService_SearchBySemantic(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	vector := make([]float32, 1536)
	embedder.On("GenerateEmbedding", ctx, "deploy question").Return(vector, nil)

	matches := []EmbeddingMatch{
		{ReferenceID: "card-1", Similarity: 0.9},
		{ReferenceID: "card-2", Similarity: 0.7},
	}
	repo.On("SearchSimilarEmbeddings", ctx, vector, domain.ReferenceTypeKnowledgeCard, searchThreshold, DefaultSearchLimit).
		Return(matches, nil)
	repo.On("GetCardsByIDs", ctx, []string{"card-1", "card-2"}, mock.Anything).
		Return([]*domain.KnowledgeCard{testCard("card-1", "A", 0), testCard("card-2", "B", 0)}, nil)

	results := svc.SearchBySemantic(ctx, "deploy question", SearchFilters{})

	require.Len(t, results, 2)
	assert.Equal(t, "card-1", results[0].KnowledgeCardID)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, 0.7, results[1].Score)
	repo.AssertExpectations(t)
}

func TestSearchService_SearchBySemantic_PostFilterDropsCards(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	embedder.On("GenerateEmbedding", ctx, "q").Return(make([]float32, 1536), nil)
	repo.On("SearchSimilarEmbeddings", ctx, mock.Anything, domain.ReferenceTypeKnowledgeCard, searchThreshold, DefaultSearchLimit).
		Return([]EmbeddingMatch{
			{ReferenceID: "card-1", Similarity: 0.9},
			{ReferenceID: "card-2", Similarity: 0.8},
		}, nil)
	// card-2 is filtered out by visibility at fetch time; fewer than limit
	// results is the documented approximation.
	repo.On("GetCardsByIDs", ctx, []string{"card-1", "card-2"}, mock.Anything).
		Return([]*domain.KnowledgeCard{testCard("card-1", "A", 0)}, nil)

	results := svc.SearchBySemantic(ctx, "q", SearchFilters{})

	require.Len(t, results, 1)
	assert.Equal(t, "card-1", results[0].KnowledgeCardID)
}

func TestSearchService_SearchBySemantic_EmbeddingErrorDegradesToEmpty(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	embedder.On("GenerateEmbedding", ctx, "q").Return(nil, errors.New("embedding down"))

	results := svc.SearchBySemantic(ctx, "q", SearchFilters{})

	assert.Empty(t, results)
	repo.AssertNotCalled(t, "SearchSimilarEmbeddings", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMergeHybridResults_Weighting(t *testing.T) {
	semantic := []*SearchResult{
		{KnowledgeCardID: "both", Score: 0.9},
		{KnowledgeCardID: "sem-only", Score: 0.8},
	}
	keyword := []*SearchResult{
		{KnowledgeCardID: "both", Score: 1.0},
		{KnowledgeCardID: "kw-only", Score: 1.0},
	}

	merged := mergeHybridResults(semantic, keyword, 10)

	require.Len(t, merged, 3)
	byID := make(map[string]float64, len(merged))
	for _, r := range merged {
		byID[r.KnowledgeCardID] = r.Score
	}

	// In both sets: semantic_similarity x 0.7 + 0.3
	assert.InDelta(t, 0.93, byID["both"], 1e-9)
	// Semantic only: similarity x 0.7
	assert.InDelta(t, 0.56, byID["sem-only"], 1e-9)
	// Keyword only: 1.0 x 0.3
	assert.InDelta(t, 0.3, byID["kw-only"], 1e-9)

	for _, r := range merged {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestMergeHybridResults_BoostIsCappedAtOne(t *testing.T) {
	semantic := []*SearchResult{{KnowledgeCardID: "both", Score: 1.0}}
	keyword := []*SearchResult{{KnowledgeCardID: "both", Score: 1.0}}

	merged := mergeHybridResults(semantic, keyword, 10)

	require.Len(t, merged, 1)
	assert.Equal(t, 1.0, merged[0].Score)
}

func TestMergeHybridResults_SortedAndStable(t *testing.T) {
	// Two semantic entries with equal similarity must keep insertion order.
	semantic := []*SearchResult{
		{KnowledgeCardID: "first", Score: 0.8},
		{KnowledgeCardID: "second", Score: 0.8},
		{KnowledgeCardID: "low", Score: 0.5},
	}
	keyword := []*SearchResult{}

	merged := mergeHybridResults(semantic, keyword, 10)

	require.Len(t, merged, 3)
	assert.Equal(t, "first", merged[0].KnowledgeCardID)
	assert.Equal(t, "second", merged[1].KnowledgeCardID)
	assert.Equal(t, "low", merged[2].KnowledgeCardID)
	assert.True(t, merged[0].Score >= merged[1].Score)
	assert.True(t, merged[1].Score >= merged[2].Score)
}

func TestMergeHybridResults_TruncatesToLimit(t *testing.T) {
	semantic := []*SearchResult{
		{KnowledgeCardID: "a", Score: 0.9},
		{KnowledgeCardID: "b", Score: 0.8},
		{KnowledgeCardID: "c", Score: 0.7},
	}

	merged := mergeHybridResults(semantic, nil, 2)

	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].KnowledgeCardID)
	assert.Equal(t, "b", merged[1].KnowledgeCardID)
}

func TestSearchService_SearchHybrid(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	widened := SearchFilters{Limit: DefaultSearchLimit * candidateMultiplier}

	embedder.On("GenerateEmbedding", ctx, "deploy").Return(make([]float32, 1536), nil)
	repo.On("SearchSimilarEmbeddings", ctx, mock.Anything, domain.ReferenceTypeKnowledgeCard, searchThreshold, widened.Limit).
		Return([]EmbeddingMatch{{ReferenceID: "card-1", Similarity: 0.9}}, nil)
	repo.On("GetCardsByIDs", ctx, []string{"card-1"}, widened).
		Return([]*domain.KnowledgeCard{testCard("card-1", "Deploying", 0)}, nil)
	repo.On("SearchCardsByKeyword", ctx, "deploy", widened).
		Return([]*domain.KnowledgeCard{
			testCard("card-1", "Deploying", 0),
			testCard("card-2", "Deploy FAQ", 0),
		}, nil)

	results := svc.SearchHybrid(ctx, "deploy", SearchFilters{})

	require.Len(t, results, 2)
	assert.Equal(t, "card-1", results[0].KnowledgeCardID)
	assert.InDelta(t, 0.93, results[0].Score, 1e-9)
	assert.Equal(t, "card-2", results[1].KnowledgeCardID)
	assert.InDelta(t, 0.3, results[1].Score, 1e-9)
	repo.AssertExpectations(t)
}

func TestSearchService_SearchHybrid_SemanticFailureKeepsKeywordResults(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	embedder.On("GenerateEmbedding", ctx, "q").Return(nil, errors.New("embedding down"))
	repo.On("SearchCardsByKeyword", ctx, "q", mock.Anything).
		Return([]*domain.KnowledgeCard{testCard("card-1", "Q", 0)}, nil)

	results := svc.SearchHybrid(ctx, "q", SearchFilters{})

	require.Len(t, results, 1)
	assert.Equal(t, "card-1", results[0].KnowledgeCardID)
	assert.InDelta(t, 0.3, results[0].Score, 1e-9)
}

func TestSearchService_FindDuplicates(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	embedder.On("GenerateEmbedding", ctx, "is this a duplicate?").Return(make([]float32, 1536), nil)
	repo.On("SearchSimilarEmbeddings", ctx, mock.Anything, domain.ReferenceTypeKnowledgeCard, duplicateThreshold, duplicateLimit).
		Return([]EmbeddingMatch{{ReferenceID: "card-1", Similarity: 0.85}}, nil)
	repo.On("GetCardsByIDs", ctx, []string{"card-1"}, mock.MatchedBy(func(f SearchFilters) bool {
		// Private cards must never surface, regardless of caller context.
		return f.Visibility == string(domain.VisibilityTeam)
	})).Return([]*domain.KnowledgeCard{testCard("card-1", "Known question", 0)}, nil)

	suggestions := svc.FindDuplicates(ctx, "is this a duplicate?")

	require.Len(t, suggestions, 1)
	assert.Equal(t, "card-1", suggestions[0].KnowledgeCardID)
	assert.Equal(t, "Known question", suggestions[0].Title)
	assert.Equal(t, 0.85, suggestions[0].Score)
	repo.AssertExpectations(t)
}

func TestSearchService_FindDuplicates_ErrorDegradesToEmpty(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()
	embedder.On("GenerateEmbedding", ctx, "q").Return(nil, errors.New("down"))

	suggestions := svc.FindDuplicates(ctx, "q")

	assert.NotNil(t, suggestions)
	assert.Empty(t, suggestions)
}

func TestSearchService_Search_Dispatch(t *testing.T) {
	repo := new(MockSearchRepository)
	embedder := new(MockEmbedder)
	svc := NewSearchService(repo, embedder)

	ctx := context.Background()

	t.Run("Keyword", func(t *testing.T) {
		repo.On("SearchCardsByKeyword", ctx, "q", mock.Anything).
			Return([]*domain.KnowledgeCard{testCard("card-1", "Q", 0)}, nil).Once()

		results := svc.Search(ctx, "q", SearchModeKeyword, SearchFilters{})
		require.Len(t, results, 1)
		assert.Equal(t, 1.0, results[0].Score)
	})

	t.Run("Semantic", func(t *testing.T) {
		embedder.On("GenerateEmbedding", ctx, "q").Return(make([]float32, 1536), nil).Once()
		repo.On("SearchSimilarEmbeddings", ctx, mock.Anything, domain.ReferenceTypeKnowledgeCard, searchThreshold, DefaultSearchLimit).
			Return([]EmbeddingMatch{}, nil).Once()

		results := svc.Search(ctx, "q", SearchModeSemantic, SearchFilters{})
		assert.Empty(t, results)
	})

	t.Run("DefaultIsHybrid", func(t *testing.T) {
		embedder.On("GenerateEmbedding", ctx, "q").Return(make([]float32, 1536), nil).Once()
		repo.On("SearchSimilarEmbeddings", ctx, mock.Anything, domain.ReferenceTypeKnowledgeCard, searchThreshold, DefaultSearchLimit*candidateMultiplier).
			Return([]EmbeddingMatch{}, nil).Once()
		repo.On("SearchCardsByKeyword", ctx, "q", mock.Anything).
			Return([]*domain.KnowledgeCard{testCard("card-1", "Q", 0)}, nil).Once()

		results := svc.Search(ctx, "q", "", SearchFilters{})
		require.Len(t, results, 1)
		assert.InDelta(t, 0.3, results[0].Score, 1e-9)
	})
}
