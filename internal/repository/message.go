package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teammemory/teammemory/internal/domain"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, model, token_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.UserID, m.Role, m.Content, nullableString(m.Model), m.TokenCount, m.CreatedAt,
	)
	return err
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	var model *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, conversation_id, user_id, role, content, model, token_count, created_at
		 FROM messages WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &model, &m.TokenCount, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	if model != nil {
		m.Model = *model
	}
	return &m, nil
}

// GetPrecedingUserMessage returns the newest user-role message in the
// conversation created strictly before the given time, or nil when the
// conversation has none.
func (r *MessageRepository) GetPrecedingUserMessage(ctx context.Context, conversationID string, before time.Time) (*domain.Message, error) {
	var m domain.Message
	var model *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, conversation_id, user_id, role, content, model, token_count, created_at
		 FROM messages
		 WHERE conversation_id = $1 AND role = 'user' AND created_at < $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		conversationID, before,
	).Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &model, &m.TokenCount, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if model != nil {
		m.Model = *model
	}
	return &m, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, role, content, model, token_count, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		var model *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &model, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		if model != nil {
			m.Model = *model
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
