package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/service"
)

type KnowledgeCardRepository struct {
	pool *pgxpool.Pool
}

func NewKnowledgeCardRepository(pool *pgxpool.Pool) *KnowledgeCardRepository {
	return &KnowledgeCardRepository{pool: pool}
}

func (r *KnowledgeCardRepository) Create(ctx context.Context, c *domain.KnowledgeCard) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO knowledge_cards (id, source_message_id, user_id, title, summary, main_answer, tags, visibility, importance_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, nullableString(c.SourceMessageID), c.UserID, c.Title, c.Summary, c.MainAnswer, c.Tags, c.Visibility, c.ImportanceScore, c.CreatedAt,
	)
	return err
}

func (r *KnowledgeCardRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeCard, error) {
	var c domain.KnowledgeCard
	var sourceMessageID *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, source_message_id, user_id, title, summary, main_answer, tags, visibility, importance_score, created_at
		 FROM knowledge_cards WHERE id = $1`,
		id,
	).Scan(&c.ID, &sourceMessageID, &c.UserID, &c.Title, &c.Summary, &c.MainAnswer, &c.Tags, &c.Visibility, &c.ImportanceScore, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeCardNotFound
		}
		return nil, err
	}
	if sourceMessageID != nil {
		c.SourceMessageID = *sourceMessageID
	}
	return &c, nil
}

// SearchCardsByKeyword matches the query as a case-insensitive substring of
// the title or summary, ordered by importance then recency.
func (r *KnowledgeCardRepository) SearchCardsByKeyword(ctx context.Context, query string, filters service.SearchFilters) ([]*domain.KnowledgeCard, error) {
	sql := `
		SELECT id, source_message_id, user_id, title, summary, main_answer, tags, visibility, importance_score, created_at
		FROM knowledge_cards
		WHERE (title ILIKE $1 OR summary ILIKE $1)`
	args := []interface{}{"%" + query + "%"}

	sql, args = appendCardFilters(sql, args, filters)

	sql += " ORDER BY importance_score DESC, created_at DESC"

	limit := filters.Limit
	if limit <= 0 {
		limit = service.DefaultSearchLimit
	}
	args = append(args, limit)
	sql += placeholder(" LIMIT", len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCardRows(rows)
}

// GetCardsByIDs fetches cards by id with the search filters re-applied, so
// a vector match the caller may not see is dropped here.
func (r *KnowledgeCardRepository) GetCardsByIDs(ctx context.Context, ids []string, filters service.SearchFilters) ([]*domain.KnowledgeCard, error) {
	if len(ids) == 0 {
		return []*domain.KnowledgeCard{}, nil
	}

	sql := `
		SELECT id, source_message_id, user_id, title, summary, main_answer, tags, visibility, importance_score, created_at
		FROM knowledge_cards
		WHERE id = ANY($1)`
	args := []interface{}{ids}

	sql, args = appendCardFilters(sql, args, filters)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCardRows(rows)
}

// appendCardFilters narrows a card query by visibility, owner and tag.
// "team" and "private" select one visibility class; anything else shows
// team cards plus the caller's own private cards.
func appendCardFilters(sql string, args []interface{}, filters service.SearchFilters) (string, []interface{}) {
	switch filters.Visibility {
	case string(domain.VisibilityTeam):
		sql += " AND visibility = 'team'"
	case string(domain.VisibilityPrivate):
		args = append(args, filters.UserID)
		sql += placeholder(" AND visibility = 'private' AND user_id =", len(args))
	default:
		if filters.UserID != "" {
			args = append(args, filters.UserID)
			sql += placeholder(" AND (visibility = 'team' OR user_id =", len(args)) + ")"
		} else {
			sql += " AND visibility = 'team'"
		}
	}

	if filters.Tag != "" {
		args = append(args, filters.Tag)
		sql += placeholder(" AND", len(args)) + " = ANY(tags)"
	}

	return sql, args
}

// placeholder appends the positional parameter $n to a SQL fragment
func placeholder(fragment string, n int) string {
	return fmt.Sprintf("%s $%d", fragment, n)
}

func scanCardRows(rows pgx.Rows) ([]*domain.KnowledgeCard, error) {
	var results []*domain.KnowledgeCard
	for rows.Next() {
		var c domain.KnowledgeCard
		var sourceMessageID *string
		if err := rows.Scan(&c.ID, &sourceMessageID, &c.UserID, &c.Title, &c.Summary, &c.MainAnswer, &c.Tags, &c.Visibility, &c.ImportanceScore, &c.CreatedAt); err != nil {
			return nil, err
		}
		if sourceMessageID != nil {
			c.SourceMessageID = *sourceMessageID
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}
