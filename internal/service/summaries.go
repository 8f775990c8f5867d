package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/kbbot/internal/cache"
	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/pagination"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

const summaryCachePrefix = "summary:"

// SummaryStatusUpdate is a guarded status transition
type SummaryStatusUpdate struct {
	ID       string
	From     domain.SummaryStatus
	To       domain.SummaryStatus
	Reviewer string
	Changes  string
	At       time.Time
}

type SummaryPageResult struct {
	Items      []*domain.KBSummary
	NextCursor string
	HasMore    bool
}

// SummaryRepositoryInterface defines review persistence
type SummaryRepositoryInterface interface {
	Create(ctx context.Context, s *domain.KBSummary) error
	GetByID(ctx context.Context, id string) (*domain.KBSummary, error)
	UpdateStatus(ctx context.Context, update SummaryStatusUpdate) error
	MarkSuperseded(ctx context.Context, ids []string, at time.Time) error
	ListByStatus(ctx context.Context, status domain.SummaryStatus, limit int) ([]*domain.KBSummary, error)
	ListWithCursor(ctx context.Context, status domain.SummaryStatus, cursor *pagination.Cursor, limit int) (*SummaryPageResult, error)
}

// SummaryArchive stores JSON snapshots of summaries
type SummaryArchive interface {
	PutJSON(ctx context.Context, key string, v any) error
}

type ListSummariesInput struct {
	Status domain.SummaryStatus
	Cursor string
	Limit  int
}

type ListSummariesOutput struct {
	Items   []*domain.KBSummary
	Cursor  string
	HasMore bool
}

// SummaryService reads and writes summaries through a cache and archives every version
type SummaryService struct {
	repo    SummaryRepositoryInterface
	tx      TxRunner
	cache   cache.Cache
	archive SummaryArchive
	uuidGen UUIDGenerator
	log     *logger.Logger
}

func NewSummaryService(repo SummaryRepositoryInterface, tx TxRunner, c cache.Cache, archive SummaryArchive, log *logger.Logger) *SummaryService {
	return &SummaryService{
		repo:    repo,
		tx:      tx,
		cache:   c,
		archive: archive,
		uuidGen: &DefaultUUIDGenerator{},
		log:     log,
	}
}

// NewSummaryServiceWithUUIDGen creates a SummaryService with custom UUID generator (for testing)
func NewSummaryServiceWithUUIDGen(repo SummaryRepositoryInterface, tx TxRunner, c cache.Cache, archive SummaryArchive, log *logger.Logger, uuidGen UUIDGenerator) *SummaryService {
	s := NewSummaryService(repo, tx, c, archive, log)
	s.uuidGen = uuidGen
	return s
}

// Create persists a new sent summary covering periodStart..date
func (s *SummaryService) Create(ctx context.Context, periodStart, date time.Time, pairs []domain.QAPair) (*domain.KBSummary, error) {
	now := time.Now().UTC()
	summary := domain.NewKBSummary(s.uuidGen.NewString(), periodStart, date, FormatQAPairs(pairs), now)

	ctx, span := telemetry.StartSpan(ctx, "SummaryService.Create", telemetry.SpanAttributes{
		SummaryID: summary.ID,
		Operation: "create",
	})
	defer span.End()

	if err := domain.ValidateKBSummary(summary); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid summary", err)
	}
	if err := s.repo.Create(ctx, summary); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to create summary: %w", err)
	}

	s.remember(ctx, summary)
	s.Archive(ctx, summary)
	return summary, nil
}

// Get returns a summary, cache first
func (s *SummaryService) Get(ctx context.Context, id string) (*domain.KBSummary, error) {
	var cached domain.KBSummary
	if ok, err := cache.GetJSON(ctx, s.cache, summaryCachePrefix+id, &cached); err == nil && ok {
		return &cached, nil
	}

	summary, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, summary)
	return summary, nil
}

// Fresh reads a summary from the repository, bypassing the cache
func (s *SummaryService) Fresh(ctx context.Context, id string) (*domain.KBSummary, error) {
	summary, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, summary)
	return summary, nil
}

// Pending returns unreviewed summaries, oldest first
func (s *SummaryService) Pending(ctx context.Context, limit int) ([]*domain.KBSummary, error) {
	return s.repo.ListByStatus(ctx, domain.SummaryStatusSent, limit)
}

// Consolidate creates the summary for periodStart..date and supersedes the folded
// backlog in one transaction, so exactly one summary is left pending either way.
func (s *SummaryService) Consolidate(ctx context.Context, periodStart, date time.Time, pairs []domain.QAPair, supersede []string) (*domain.KBSummary, error) {
	now := time.Now().UTC()
	summary := domain.NewKBSummary(s.uuidGen.NewString(), periodStart, date, FormatQAPairs(pairs), now)

	ctx, span := telemetry.StartSpan(ctx, "SummaryService.Consolidate", telemetry.SpanAttributes{
		SummaryID: summary.ID,
		Operation: "consolidate",
	})
	defer span.End()

	if err := domain.ValidateKBSummary(summary); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid summary", err)
	}

	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Summaries().MarkSuperseded(ctx, supersede, now); err != nil {
			return fmt.Errorf("failed to supersede backlog: %w", err)
		}
		if err := repos.Summaries().Create(ctx, summary); err != nil {
			return fmt.Errorf("failed to create summary: %w", err)
		}
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	for _, id := range supersede {
		s.Forget(ctx, id)
	}
	s.remember(ctx, summary)
	s.Archive(ctx, summary)
	return summary, nil
}

func (s *SummaryService) List(ctx context.Context, input ListSummariesInput) (*ListSummariesOutput, error) {
	if input.Status != "" && !domain.IsValidSummaryStatus(input.Status) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid summary status")
	}

	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}

	page, err := s.repo.ListWithCursor(ctx, input.Status, cursor, input.Limit)
	if err != nil {
		return nil, err
	}
	return &ListSummariesOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

// Forget drops a summary from the cache
func (s *SummaryService) Forget(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, summaryCachePrefix+id); err != nil {
		s.log.Warn("summary cache delete failed", "summary_id", id, "error", err)
	}
}

// Archive writes a JSON snapshot of the summary; failures are logged only
func (s *SummaryService) Archive(ctx context.Context, summary *domain.KBSummary) {
	if s.archive == nil {
		return
	}
	key := fmt.Sprintf("summaries/%s/%s-%s.json", summary.Date.Format("2006-01-02"), summary.ID, summary.Status)
	if err := s.archive.PutJSON(ctx, key, summary); err != nil {
		s.log.Warn("summary archive failed", "summary_id", summary.ID, "key", key, "error", err)
	}
}

func (s *SummaryService) remember(ctx context.Context, summary *domain.KBSummary) {
	if err := cache.SetJSON(ctx, s.cache, summaryCachePrefix+summary.ID, summary); err != nil {
		s.log.Warn("summary cache write failed", "summary_id", summary.ID, "error", err)
	}
}
