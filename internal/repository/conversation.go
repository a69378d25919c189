package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teammemory/teammemory/internal/domain"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UserID, nullableString(c.Title), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetByIDForUser returns the conversation only when it belongs to the
// given user; a foreign conversation reads as not found.
func (r *ConversationRepository) GetByIDForUser(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	var title *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	if title != nil {
		c.Title = *title
	}
	return &c, nil
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var title *string
		if err := rows.Scan(&c.ID, &c.UserID, &title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if title != nil {
			c.Title = *title
		}
		conversations = append(conversations, &c)
	}
	return conversations, rows.Err()
}

// Touch bumps updated_at so the conversation sorts to the top of the
// user's list after new activity.
func (r *ConversationRepository) Touch(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
