package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/kbbot/internal/service"
)

// AnswerLogRepository stores one row per answered or refused question for later evaluation
type AnswerLogRepository struct {
	pool *pgxpool.Pool
}

func NewAnswerLogRepository(pool *pgxpool.Pool) *AnswerLogRepository {
	return &AnswerLogRepository{pool: pool}
}

func (r *AnswerLogRepository) CreateAnswerLog(ctx context.Context, entry service.AnswerLogEntry) error {
	chunkIDs := entry.ChunkIDs
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO answer_logs (id, conversation_id, user_id, question, answered, confidence, chunk_ids, reason, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID,
		entry.ConversationID,
		entry.UserID,
		entry.Question,
		entry.Answered,
		entry.Confidence,
		chunkIDs,
		entry.Reason,
		entry.LatencyMs,
		entry.CreatedAt,
	)
	return err
}
