package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/service"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

// ErrAlreadyFired is returned by Trigger when today's summary run already happened
var ErrAlreadyFired = errors.New("summary already generated today")

const backlogScanLimit = 100

// RunKind describes which branch a summary run took
type RunKind string

const (
	RunKindCreated      RunKind = "created"
	RunKindConsolidated RunKind = "consolidated"
	RunKindResent       RunKind = "resent"
)

// SummaryStore is the summary persistence the scheduler needs
type SummaryStore interface {
	Pending(ctx context.Context, limit int) ([]*domain.KBSummary, error)
	Create(ctx context.Context, periodStart, date time.Time, pairs []domain.QAPair) (*domain.KBSummary, error)
	Consolidate(ctx context.Context, periodStart, date time.Time, pairs []domain.QAPair, supersede []string) (*domain.KBSummary, error)
}

// Curator turns transcripts into deduplicated knowledge candidates
type Curator interface {
	Curate(ctx context.Context, transcripts domain.Transcripts) *service.CurationResult
}

// Notifier delivers a rendered summary message to reviewers
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// SchedulerConfig holds the daily trigger settings
type SchedulerConfig struct {
	Hour      int
	Minute    int
	Tolerance time.Duration
	Location  *time.Location
}

// RunResult reports the outcome of one summary run
type RunResult struct {
	Kind       RunKind
	Date       time.Time
	Summary    *domain.KBSummary
	Message    string
	Superseded []string
	Curation   *service.CurationResult
}

// SummaryScheduler generates the daily knowledge summary.
// It implements Ticker so a Worker can poll it.
type SummaryScheduler struct {
	summaries   SummaryStore
	transcripts service.TranscriptSource
	curator     Curator
	notifier    Notifier
	cfg         SchedulerConfig
	log         *logger.Logger
	now         func() time.Time

	mu        sync.Mutex
	lastFired time.Time
}

// NewSummaryScheduler creates a new SummaryScheduler instance
func NewSummaryScheduler(summaries SummaryStore, transcripts service.TranscriptSource, curator Curator, notifier Notifier, cfg SchedulerConfig, log *logger.Logger) *SummaryScheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &SummaryScheduler{
		summaries:   summaries,
		transcripts: transcripts,
		curator:     curator,
		notifier:    notifier,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

// Tick fires the daily run when the current time falls in the trigger window
func (s *SummaryScheduler) Tick(ctx context.Context) error {
	now := s.now().In(s.cfg.Location)
	if !s.inWindow(now) {
		return nil
	}

	result, err := s.Trigger(ctx, false)
	if errors.Is(err, ErrAlreadyFired) {
		return nil
	}
	if err != nil {
		return err
	}

	s.log.Info("daily summary run finished",
		"kind", string(result.Kind),
		"date", result.Date.Format("2006-01-02"),
		"summary_id", result.Summary.ID,
	)
	return nil
}

// Trigger runs the summary flow for today. Without force it runs at most once per date.
func (s *SummaryScheduler) Trigger(ctx context.Context, force bool) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := domain.DateOnly(s.now().In(s.cfg.Location))
	if !force && s.lastFired.Equal(today) {
		return nil, ErrAlreadyFired
	}
	s.lastFired = today

	ctx, span := telemetry.StartJob(ctx, "summary.run")
	defer span.End()
	span.SetData("date", today.Format("2006-01-02"))
	span.SetData("force", force)

	result, err := s.run(ctx, today)
	if err != nil {
		span.SetError(err)
		s.log.Error("summary run failed", "date", today.Format("2006-01-02"), "error", err)
		return nil, err
	}
	span.SetData("kind", string(result.Kind))

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, result.Message); err != nil {
			telemetry.CaptureError(ctx, err)
			s.log.Warn("summary delivery failed", "summary_id", result.Summary.ID, "error", err)
		}
	}
	return result, nil
}

func (s *SummaryScheduler) inWindow(now time.Time) bool {
	y, m, d := now.Date()
	target := time.Date(y, m, d, s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	return !now.Before(target) && now.Sub(target) < s.cfg.Tolerance
}

func (s *SummaryScheduler) run(ctx context.Context, today time.Time) (*RunResult, error) {
	backlog, current, err := s.backlog(ctx, today)
	if err != nil {
		return nil, err
	}

	switch days := backlogDays(backlog, s.cfg.Location); {
	case len(days) >= 2:
		return s.consolidate(ctx, backlog, periodStart(backlog, s.cfg.Location), today)
	case len(days) == 1:
		latest := backlog[len(backlog)-1]
		s.log.Info("resending unreviewed summary", "summary_id", latest.ID)
		return &RunResult{
			Kind:    RunKindResent,
			Date:    today,
			Summary: latest,
			Message: service.SummaryMessage(latest),
		}, nil
	}

	// a restart inside the trigger window must not produce a second summary for today
	if current != nil {
		return &RunResult{
			Kind:    RunKindResent,
			Date:    today,
			Summary: current,
			Message: service.SummaryMessage(current),
		}, nil
	}

	transcripts, err := s.transcripts.ConversationsForDate(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	curation := s.curator.Curate(ctx, transcripts)

	summary, err := s.summaries.Create(ctx, today, today, curation.Pairs)
	if err != nil {
		return nil, err
	}
	return &RunResult{
		Kind:     RunKindCreated,
		Date:     today,
		Summary:  summary,
		Message:  service.SummaryMessage(summary),
		Curation: curation,
	}, nil
}

// consolidate replaces a multi-day backlog with one summary over oldest..today
func (s *SummaryScheduler) consolidate(ctx context.Context, backlog []*domain.KBSummary, oldest, today time.Time) (*RunResult, error) {
	transcripts, err := s.transcripts.ConversationsForDateRange(ctx, oldest, today)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	curation := s.curator.Curate(ctx, transcripts)

	ids := make([]string, 0, len(backlog))
	for _, b := range backlog {
		ids = append(ids, b.ID)
	}
	summary, err := s.summaries.Consolidate(ctx, oldest, today, curation.Pairs, ids)
	if err != nil {
		return nil, err
	}

	s.log.Info("consolidated summary backlog",
		"summary_id", summary.ID,
		"superseded", len(ids),
		"period_start", oldest.Format("2006-01-02"),
	)
	return &RunResult{
		Kind:       RunKindConsolidated,
		Date:       today,
		Summary:    summary,
		Message:    service.SummaryMessage(summary),
		Superseded: ids,
		Curation:   curation,
	}, nil
}

// backlog splits pending summaries into those dated before today, oldest first,
// and the most recent one dated today, if any.
func (s *SummaryScheduler) backlog(ctx context.Context, today time.Time) ([]*domain.KBSummary, *domain.KBSummary, error) {
	pending, err := s.summaries.Pending(ctx, backlogScanLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list pending summaries: %w", err)
	}

	var current *domain.KBSummary
	out := make([]*domain.KBSummary, 0, len(pending))
	for _, p := range pending {
		switch d := localDate(p.Date, s.cfg.Location); {
		case d.Before(today):
			out = append(out, p)
		case d.Equal(today):
			if current == nil || p.CreatedAt.After(current.CreatedAt) {
				current = p
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, current, nil
}

// backlogDays lists the distinct summary dates in the backlog, ascending
func backlogDays(backlog []*domain.KBSummary, loc *time.Location) []time.Time {
	seen := make(map[time.Time]struct{})
	var days []time.Time
	for _, b := range backlog {
		d := localDate(b.Date, loc)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// periodStart is the earliest day any backlog summary covers
func periodStart(backlog []*domain.KBSummary, loc *time.Location) time.Time {
	var oldest time.Time
	for _, b := range backlog {
		start := b.PeriodStart
		if start.IsZero() {
			start = b.Date
		}
		start = localDate(start, loc)
		if oldest.IsZero() || start.Before(oldest) {
			oldest = start
		}
	}
	return oldest
}

// localDate reinterprets a stored date's calendar fields in loc
func localDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
