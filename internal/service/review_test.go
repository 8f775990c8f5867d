package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/cache"
	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
)

type reviewFixture struct {
	summaries *MockSummaryRepository
	archive   *MockArchive
	embedder  *MockDocumentEmbedder
	docs      *MockDocumentWriter
	tx        *fakeTxRunner
	svc       *ReviewService
}

func newReviewFixture() *reviewFixture {
	f := &reviewFixture{
		summaries: new(MockSummaryRepository),
		archive:   new(MockArchive),
		embedder:  new(MockDocumentEmbedder),
		docs:      new(MockDocumentWriter),
	}
	f.tx = &fakeTxRunner{repos: &mockTxRepos{docs: f.docs, summaries: f.summaries}}

	summarySvc := NewSummaryService(f.summaries, f.tx, cache.NewMemoryCache(100, time.Minute), f.archive, logger.NewNop())
	f.svc = NewReviewService(summarySvc, f.embedder, f.tx, map[string]struct{}{"alice": {}}, logger.NewNop())
	f.svc.now = func() time.Time { return time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC) }
	f.archive.On("PutJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

func pendingSummary(text string) *domain.KBSummary {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return domain.NewKBSummary("sum-1", day, day, text, day.Add(9*time.Hour))
}

func TestReviewService_Review_ApproveCommitsSummaryText(t *testing.T) {
	ctx := context.Background()
	f := newReviewFixture()

	f.summaries.On("GetByID", mock.Anything, "sum-1").Return(pendingSummary("Q: X\nA: Y"), nil)
	f.embedder.On("Initialize", mock.Anything).Return(nil)
	f.embedder.On("Embed", mock.Anything, mock.MatchedBy(func(docs []*domain.KnowledgeDocument) bool {
		return len(docs) == 1 && docs[0].Question == "X" && docs[0].Answer == "Y"
	})).Return(nil)
	f.docs.On("Upsert", mock.Anything, mock.MatchedBy(func(docs []*domain.KnowledgeDocument) bool {
		d := docs[0]
		return len(docs) == 1 &&
			d.ID == DocumentID("sum-1", "X") &&
			d.Source == "sum-1" &&
			d.Status == domain.DocumentStatusApproved
	})).Return(nil)
	f.summaries.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(u SummaryStatusUpdate) bool {
		return u.ID == "sum-1" &&
			u.From == domain.SummaryStatusSent &&
			u.To == domain.SummaryStatusApproved &&
			u.Reviewer == "alice"
	})).Return(nil)

	out, err := f.svc.Review(ctx, ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: domain.ReviewDecisionApprove})

	require.NoError(t, err)
	assert.Equal(t, 1, out.Committed)
	assert.Equal(t, domain.SummaryStatusApproved, out.Summary.Status)
	assert.Equal(t, "alice", out.Summary.ReviewedBy)
	require.NotNil(t, out.Summary.ReviewedAt)
	assert.Equal(t, 1, f.tx.calls)
	f.docs.AssertExpectations(t)
	f.summaries.AssertExpectations(t)
	f.archive.AssertCalled(t, "PutJSON", mock.Anything, "summaries/2024-06-01/sum-1-approved.json", mock.Anything)
}

func TestReviewService_Review_ApproveWithChanges(t *testing.T) {
	f := newReviewFixture()

	f.summaries.On("GetByID", mock.Anything, "sum-1").Return(pendingSummary("Q: X\nA: Y"), nil)
	f.embedder.On("Initialize", mock.Anything).Return(nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything).Return(nil)
	f.docs.On("Upsert", mock.Anything, mock.MatchedBy(func(docs []*domain.KnowledgeDocument) bool {
		return len(docs) == 2 && docs[0].Answer == "Y, then sign the log" && docs[1].Question == "Z"
	})).Return(nil)
	f.summaries.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(u SummaryStatusUpdate) bool {
		return u.To == domain.SummaryStatusApprovedAndModified && u.Changes != ""
	})).Return(nil)

	out, err := f.svc.Review(context.Background(), ReviewInput{
		SummaryID: "sum-1",
		Reviewer:  "alice",
		Decision:  domain.ReviewDecisionApprove,
		Changes:   "Q: X\nA: Y, then sign the log\n\nQ: Z\nA: W",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, out.Committed)
	assert.Equal(t, domain.SummaryStatusApprovedAndModified, out.Summary.Status)
	f.docs.AssertExpectations(t)
}

func TestReviewService_Review_ChangesWithBracketsAreCommitted(t *testing.T) {
	f := newReviewFixture()

	f.summaries.On("GetByID", mock.Anything, "sum-1").Return(pendingSummary("Q: X\nA: Y"), nil)
	f.embedder.On("Initialize", mock.Anything).Return(nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything).Return(nil)
	f.docs.On("Upsert", mock.Anything, mock.MatchedBy(func(docs []*domain.KnowledgeDocument) bool {
		return len(docs) == 1 && docs[0].Question == "How do I list my tags?" && docs[0].Answer == "Run `tags []` in the shell"
	})).Return(nil)
	f.summaries.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(u SummaryStatusUpdate) bool {
		return u.To == domain.SummaryStatusChangesRequired
	})).Return(nil)

	out, err := f.svc.Review(context.Background(), ReviewInput{
		SummaryID: "sum-1",
		Reviewer:  "alice",
		Decision:  domain.ReviewDecisionRequestChanges,
		Changes:   "Q: How do I list my tags?\nA: Run `tags []` in the shell",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, out.Committed)
	f.docs.AssertExpectations(t)
}

func TestReviewService_Review_ChangesRequiredCommitsChanges(t *testing.T) {
	f := newReviewFixture()

	f.summaries.On("GetByID", mock.Anything, "sum-1").Return(pendingSummary("Q: X\nA: Y"), nil)
	f.embedder.On("Initialize", mock.Anything).Return(nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything).Return(nil)
	f.docs.On("Upsert", mock.Anything, mock.MatchedBy(func(docs []*domain.KnowledgeDocument) bool {
		return len(docs) == 1 && docs[0].Answer == "Corrected"
	})).Return(nil)
	f.summaries.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(u SummaryStatusUpdate) bool {
		return u.To == domain.SummaryStatusChangesRequired
	})).Return(nil)

	out, err := f.svc.Review(context.Background(), ReviewInput{
		SummaryID: "sum-1",
		Reviewer:  "alice",
		Decision:  domain.ReviewDecisionRequestChanges,
		Changes:   "Q: X\nA: Corrected",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, out.Committed)
	assert.Equal(t, domain.SummaryStatusChangesRequired, out.Summary.Status)
}

func TestReviewService_Review_RejectCommitsNothing(t *testing.T) {
	f := newReviewFixture()

	f.summaries.On("GetByID", mock.Anything, "sum-1").Return(pendingSummary("Q: X\nA: Y"), nil)
	f.summaries.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(u SummaryStatusUpdate) bool {
		return u.To == domain.SummaryStatusRejected
	})).Return(nil)

	out, err := f.svc.Review(context.Background(), ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: domain.ReviewDecisionReject})

	require.NoError(t, err)
	assert.Zero(t, out.Committed)
	assert.Equal(t, domain.SummaryStatusRejected, out.Summary.Status)
	f.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	f.docs.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestReviewService_Review_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		input   ReviewInput
		stored  *domain.KBSummary
		lookup  error
		wantErr error
	}{
		{
			name:    "invalid decision",
			input:   ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: "maybe"},
			wantErr: domain.ErrInvalidReviewDecision,
		},
		{
			name:    "reviewer not authorized",
			input:   ReviewInput{SummaryID: "sum-1", Reviewer: "mallory", Decision: domain.ReviewDecisionApprove},
			wantErr: domain.ErrReviewerNotAuthorized,
		},
		{
			name:    "summary not found",
			input:   ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: domain.ReviewDecisionApprove},
			lookup:  domain.ErrSummaryNotFound,
			wantErr: domain.ErrSummaryNotFound,
		},
		{
			name:  "already reviewed",
			input: ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: domain.ReviewDecisionReject},
			stored: func() *domain.KBSummary {
				s := pendingSummary("Q: X\nA: Y")
				s.Status = domain.SummaryStatusApproved
				return s
			}(),
			wantErr: domain.ErrSummaryAlreadyReviewed,
		},
		{
			name:    "changes required without changes",
			input:   ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: domain.ReviewDecisionRequestChanges, Changes: "  "},
			stored:  pendingSummary("Q: X\nA: Y"),
			wantErr: domain.ErrEmptyChanges,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReviewFixture()
			if tt.stored != nil || tt.lookup != nil {
				if tt.lookup != nil {
					f.summaries.On("GetByID", mock.Anything, "sum-1").Return(nil, tt.lookup)
				} else {
					f.summaries.On("GetByID", mock.Anything, "sum-1").Return(tt.stored, nil)
				}
			}

			out, err := f.svc.Review(context.Background(), tt.input)

			assert.Nil(t, out)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.tx.calls)
			f.summaries.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
		})
	}
}

func TestReviewService_Review_LostRaceReportsAlreadyReviewed(t *testing.T) {
	f := newReviewFixture()

	f.summaries.On("GetByID", mock.Anything, "sum-1").Return(pendingSummary("Q: X\nA: Y"), nil)
	f.embedder.On("Initialize", mock.Anything).Return(nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything).Return(nil)
	f.docs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	f.summaries.On("UpdateStatus", mock.Anything, mock.Anything).Return(domain.ErrSummaryNotPending)

	out, err := f.svc.Review(context.Background(), ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: domain.ReviewDecisionApprove})

	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrSummaryAlreadyReviewed)
	f.archive.AssertNotCalled(t, "PutJSON", mock.Anything, "summaries/2024-06-01/sum-1-approved.json", mock.Anything)
}

func TestReviewService_Review_EmbedFailureLeavesSummaryPending(t *testing.T) {
	f := newReviewFixture()

	f.summaries.On("GetByID", mock.Anything, "sum-1").Return(pendingSummary("Q: X\nA: Y"), nil)
	f.embedder.On("Initialize", mock.Anything).Return(nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything).Return(errors.New("provider down"))

	out, err := f.svc.Review(context.Background(), ReviewInput{SummaryID: "sum-1", Reviewer: "alice", Decision: domain.ReviewDecisionApprove})

	assert.Nil(t, out)
	require.Error(t, err)
	assert.Zero(t, f.tx.calls)
}

func TestReviewService_IsReviewer(t *testing.T) {
	f := newReviewFixture()

	assert.True(t, f.svc.IsReviewer("alice"))
	assert.True(t, f.svc.IsReviewer(" alice "))
	assert.False(t, f.svc.IsReviewer("bob"))
	assert.False(t, f.svc.IsReviewer(""))
}

func TestSummaryDocuments_DeduplicatesQuestions(t *testing.T) {
	at := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	docs := summaryDocuments("sum-1", "Q: X\nA: Y\n\nQ: x\nA: other", at)

	require.Len(t, docs, 1)
	assert.Equal(t, "Y", docs[0].Answer)
	assert.Equal(t, at, docs[0].Timestamp)
	assert.Nil(t, summaryDocuments("sum-1", "", at))
}
