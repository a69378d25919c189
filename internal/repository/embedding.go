package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/service"
)

type EmbeddingRepository struct {
	pool *pgxpool.Pool
}

func NewEmbeddingRepository(pool *pgxpool.Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

func (r *EmbeddingRepository) Create(ctx context.Context, e *domain.Embedding) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO embeddings (id, reference_type, reference_id, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.ReferenceType, e.ReferenceID, pgvector.NewVector(e.Vector), e.CreatedAt,
	)
	return err
}

// SearchSimilarEmbeddings returns reference ids whose cosine similarity to
// the query vector is at or above the threshold, best matches first.
func (r *EmbeddingRepository) SearchSimilarEmbeddings(ctx context.Context, vector []float32, refType domain.ReferenceType, threshold float64, limit int) ([]service.EmbeddingMatch, error) {
	if limit <= 0 {
		limit = service.DefaultSearchLimit
	}

	vec := pgvector.NewVector(vector)

	rows, err := r.pool.Query(ctx,
		`SELECT reference_id, 1 - (embedding <=> $1) AS similarity
		 FROM embeddings
		 WHERE reference_type = $2 AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		vec, refType, threshold, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]service.EmbeddingMatch, 0)
	for rows.Next() {
		var m service.EmbeddingMatch
		if err := rows.Scan(&m.ReferenceID, &m.Similarity); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
