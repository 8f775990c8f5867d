package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

const messageColumns = `id, conversation_id, role, user_id, content, group_id, source, created_at`

// ConversationRepository stores the raw support-channel transcript
type ConversationRepository struct {
	db dbtx
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: pool}
}

func (r *ConversationRepository) Append(ctx context.Context, m *domain.ConversationMessage) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, user_id, content, group_id, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ConversationID, string(m.Role), m.UserID, m.Content, m.GroupID, m.Source, m.Timestamp,
	)
	return err
}

// Recent returns up to limit latest messages of a conversation in chronological order
func (r *ConversationRepository) Recent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

// ListBetween returns all messages with start <= created_at < end, ordered by time
func (r *ConversationRepository) ListBetween(ctx context.Context, start, end time.Time) ([]domain.ConversationMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+messageColumns+` FROM conversation_messages
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY conversation_id, created_at, id`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func scanMessageRows(rows pgx.Rows) ([]domain.ConversationMessage, error) {
	out := make([]domain.ConversationMessage, 0)
	for rows.Next() {
		var m domain.ConversationMessage
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.UserID, &m.Content, &m.GroupID, &m.Source, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = domain.MessageRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
