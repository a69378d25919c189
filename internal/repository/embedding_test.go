//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/testutil"
)

// unitVector builds a 1536-dimension unit vector pointing along the given axis
func unitVector(axis int) []float32 {
	v := make([]float32, 1536)
	v[axis] = 1
	return v
}

func createTestEmbedding(ctx context.Context, t *testing.T, embRepo *EmbeddingRepository, referenceID string, vector []float32) *domain.Embedding {
	e := domain.NewEmbedding(uuid.NewString(), domain.ReferenceTypeKnowledgeCard, referenceID, vector, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, embRepo.Create(ctx, e))
	return e
}

func TestEmbeddingRepository_SearchSimilarEmbeddings(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	embRepo := NewEmbeddingRepository(pool)

	exactID := uuid.NewString()
	orthogonalID := uuid.NewString()
	createTestEmbedding(ctx, t, embRepo, exactID, unitVector(0))
	createTestEmbedding(ctx, t, embRepo, orthogonalID, unitVector(1))

	// An identical vector has similarity 1; an orthogonal one has 0 and
	// falls below the threshold.
	matches, err := embRepo.SearchSimilarEmbeddings(ctx, unitVector(0), domain.ReferenceTypeKnowledgeCard, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, exactID, matches[0].ReferenceID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
}

func TestEmbeddingRepository_SearchSimilarEmbeddings_OrderedBysimilarity(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	embRepo := NewEmbeddingRepository(pool)

	exactID := uuid.NewString()
	closeID := uuid.NewString()
	createTestEmbedding(ctx, t, embRepo, exactID, unitVector(0))

	// A vector between axis 0 and axis 1 is close but not identical
	mixed := make([]float32, 1536)
	mixed[0] = 0.9
	mixed[1] = 0.4359 // keeps the vector near unit length
	createTestEmbedding(ctx, t, embRepo, closeID, mixed)

	matches, err := embRepo.SearchSimilarEmbeddings(ctx, unitVector(0), domain.ReferenceTypeKnowledgeCard, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, exactID, matches[0].ReferenceID)
	assert.Equal(t, closeID, matches[1].ReferenceID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestEmbeddingRepository_SearchSimilarEmbeddings_FiltersReferenceType(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	embRepo := NewEmbeddingRepository(pool)

	messageEmb := domain.NewEmbedding(uuid.NewString(), domain.ReferenceTypeMessage, uuid.NewString(), unitVector(0), time.Now().UTC())
	require.NoError(t, embRepo.Create(ctx, messageEmb))

	matches, err := embRepo.SearchSimilarEmbeddings(ctx, unitVector(0), domain.ReferenceTypeKnowledgeCard, 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
