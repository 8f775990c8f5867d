package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

// DocumentEmbedder prepares documents for a transactional write
type DocumentEmbedder interface {
	Initialize(ctx context.Context) error
	Embed(ctx context.Context, docs []*domain.KnowledgeDocument) error
}

type ReviewInput struct {
	SummaryID string
	Reviewer  string
	Decision  domain.ReviewDecision
	Changes   string
}

type ReviewOutput struct {
	Summary   *domain.KBSummary
	Committed int
}

// ReviewService applies reviewer decisions to sent summaries.
//
//	sent -> approved               commit summary text
//	sent -> approved_and_modified  approve with changes, commit changes
//	sent -> changes_required       commit changes immediately
//	sent -> rejected               no commit
//
// Every other status is terminal: a second review fails with ErrSummaryAlreadyReviewed.
type ReviewService struct {
	summaries *SummaryService
	store     DocumentEmbedder
	tx        TxRunner
	reviewers map[string]struct{}
	log       *logger.Logger
	now       func() time.Time
}

func NewReviewService(summaries *SummaryService, store DocumentEmbedder, tx TxRunner, reviewers map[string]struct{}, log *logger.Logger) *ReviewService {
	return &ReviewService{
		summaries: summaries,
		store:     store,
		tx:        tx,
		reviewers: reviewers,
		log:       log,
		now:       time.Now,
	}
}

// IsReviewer reports whether name may review summaries
func (s *ReviewService) IsReviewer(name string) bool {
	_, ok := s.reviewers[strings.TrimSpace(name)]
	return ok
}

func (s *ReviewService) Review(ctx context.Context, input ReviewInput) (*ReviewOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "ReviewService.Review", telemetry.SpanAttributes{
		SummaryID: input.SummaryID,
		Operation: "review:" + string(input.Decision),
	})
	defer span.End()

	if !domain.IsValidReviewDecision(input.Decision) {
		return nil, domain.ErrInvalidReviewDecision
	}
	if !s.IsReviewer(input.Reviewer) {
		s.log.Warn("unauthorized review attempt", "reviewer", input.Reviewer, "summary_id", input.SummaryID)
		return nil, domain.ErrReviewerNotAuthorized
	}

	summary, err := s.summaries.Fresh(ctx, input.SummaryID)
	if err != nil {
		return nil, err
	}
	if !summary.IsPending() {
		return nil, domain.ErrSummaryAlreadyReviewed
	}

	changes := strings.TrimSpace(input.Changes)
	target, text, err := transition(input.Decision, summary.SummaryText, changes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	docs := summaryDocuments(summary.ID, text, now)
	if text != "" && len(docs) == 0 {
		s.log.Warn("review text contains no question/answer pairs", "summary_id", summary.ID)
	}

	if len(docs) > 0 {
		if err := s.store.Initialize(ctx); err != nil {
			span.SetError(err)
			return nil, err
		}
		if err := s.store.Embed(ctx, docs); err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("failed to embed reviewed knowledge: %w", err)
		}
	}

	update := SummaryStatusUpdate{
		ID:       summary.ID,
		From:     domain.SummaryStatusSent,
		To:       target,
		Reviewer: input.Reviewer,
		Changes:  changes,
		At:       now,
	}
	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if len(docs) > 0 {
			if err := repos.Documents().Upsert(ctx, docs); err != nil {
				return err
			}
		}
		return repos.Summaries().UpdateStatus(ctx, update)
	})
	if err != nil {
		s.summaries.Forget(ctx, summary.ID)
		if errors.Is(err, domain.ErrSummaryNotPending) {
			return nil, domain.ErrSummaryAlreadyReviewed
		}
		span.SetError(err)
		return nil, fmt.Errorf("failed to apply review: %w", err)
	}

	summary.Status = target
	summary.ReviewedBy = input.Reviewer
	summary.ReviewedAt = &now
	summary.Changes = changes
	summary.UpdatedAt = now

	s.summaries.Forget(ctx, summary.ID)
	s.summaries.Archive(ctx, summary)

	s.log.Info("summary reviewed",
		"summary_id", summary.ID,
		"reviewer", input.Reviewer,
		"status", string(target),
		"committed", len(docs),
	)
	return &ReviewOutput{Summary: summary, Committed: len(docs)}, nil
}

// transition maps a decision to the target status and the text to commit
func transition(decision domain.ReviewDecision, summaryText, changes string) (domain.SummaryStatus, string, error) {
	switch decision {
	case domain.ReviewDecisionApprove:
		if changes != "" {
			return domain.SummaryStatusApprovedAndModified, changes, nil
		}
		return domain.SummaryStatusApproved, summaryText, nil
	case domain.ReviewDecisionReject:
		return domain.SummaryStatusRejected, "", nil
	case domain.ReviewDecisionRequestChanges:
		if changes == "" {
			return "", "", domain.ErrEmptyChanges
		}
		return domain.SummaryStatusChangesRequired, changes, nil
	}
	return "", "", domain.ErrInvalidReviewDecision
}

// summaryDocuments parses committed text into approved documents tagged with the summary id
func summaryDocuments(summaryID, text string, at time.Time) []*domain.KnowledgeDocument {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pairs := uniquePairs(ParseQAPairs(text))
	docs := make([]*domain.KnowledgeDocument, 0, len(pairs))
	for _, p := range pairs {
		docs = append(docs, &domain.KnowledgeDocument{
			ID:        DocumentID(summaryID, p.Question),
			Question:  p.Question,
			Answer:    p.Answer,
			Source:    summaryID,
			Timestamp: at,
			Status:    domain.DocumentStatusApproved,
		})
	}
	return docs
}
