package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/pagination"
	"github.com/cloo-solutions/kbbot/internal/service"
)

const summaryColumns = `id, date, period_start, summary_text, status, reviewed_by, reviewed_at, changes, created_at, updated_at`

type SummaryRepository struct {
	db dbtx
}

func NewSummaryRepository(pool *pgxpool.Pool) *SummaryRepository {
	return &SummaryRepository{db: pool}
}

func NewSummaryRepositoryWithTx(tx pgx.Tx) *SummaryRepository {
	return &SummaryRepository{db: tx}
}

func (r *SummaryRepository) Create(ctx context.Context, s *domain.KBSummary) error {
	periodStart := s.PeriodStart
	if periodStart.IsZero() {
		periodStart = s.Date
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO kb_summaries (id, date, period_start, summary_text, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, dateOnly(s.Date), dateOnly(periodStart), s.SummaryText, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SummaryRepository) GetByID(ctx context.Context, id string) (*domain.KBSummary, error) {
	row := r.db.QueryRow(ctx, `SELECT `+summaryColumns+` FROM kb_summaries WHERE id = $1`, id)
	s, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSummaryNotFound
		}
		return nil, err
	}
	return s, nil
}

// UpdateStatus moves a summary from one status to another. The update only applies
// while the row is still in the expected status, so concurrent reviews cannot both win.
func (r *SummaryRepository) UpdateStatus(ctx context.Context, update service.SummaryStatusUpdate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE kb_summaries
		 SET status = $1, reviewed_by = $2, reviewed_at = $3, changes = $4, updated_at = $3
		 WHERE id = $5 AND status = $6`,
		string(update.To), nullableString(update.Reviewer), update.At, nullableString(update.Changes), update.ID, string(update.From),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSummaryNotPending
	}
	return nil
}

// MarkSuperseded closes pending summaries that were folded into a consolidated one
func (r *SummaryRepository) MarkSuperseded(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE kb_summaries SET status = $1, updated_at = $2
		 WHERE id = ANY($3) AND status = $4`,
		string(domain.SummaryStatusSuperseded), at, ids, string(domain.SummaryStatusSent),
	)
	return err
}

// ListByStatus returns summaries in the given status, oldest date first
func (r *SummaryRepository) ListByStatus(ctx context.Context, status domain.SummaryStatus, limit int) ([]*domain.KBSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+summaryColumns+` FROM kb_summaries
		 WHERE status = $1
		 ORDER BY date ASC, created_at ASC
		 LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaryRows(rows)
}

// ListWithCursor pages through summaries newest first, optionally filtered by status
func (r *SummaryRepository) ListWithCursor(ctx context.Context, status domain.SummaryStatus, cursor *pagination.Cursor, limit int) (*service.SummaryPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+summaryColumns+` FROM kb_summaries
			 WHERE ($1 = '' OR status = $1) AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			string(status), cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+summaryColumns+` FROM kb_summaries
			 WHERE ($1 = '' OR status = $1)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			string(status), limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanSummaryRows(rows)
	if err != nil {
		return nil, err
	}

	page, next, hasMore := pagination.Trim(items, limit, func(s *domain.KBSummary) (string, time.Time) {
		return s.ID, s.CreatedAt
	})

	return &service.SummaryPageResult{
		Items:      page,
		NextCursor: next,
		HasMore:    hasMore,
	}, nil
}

func scanSummary(row pgx.Row) (*domain.KBSummary, error) {
	var s domain.KBSummary
	var status string
	var reviewedBy, changes *string
	err := row.Scan(&s.ID, &s.Date, &s.PeriodStart, &s.SummaryText, &status, &reviewedBy, &s.ReviewedAt, &changes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = domain.SummaryStatus(status)
	s.ReviewedBy = derefString(reviewedBy)
	s.Changes = derefString(changes)
	return &s, nil
}

func scanSummaryRows(rows pgx.Rows) ([]*domain.KBSummary, error) {
	var items []*domain.KBSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// dateOnly keeps the calendar date of t as seen in its own location
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
