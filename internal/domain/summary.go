package domain

import (
	"fmt"
	"time"
)

// SummaryStatus represents the review state of a KBSummary
type SummaryStatus string

const (
	SummaryStatusSent                SummaryStatus = "sent"
	SummaryStatusApproved            SummaryStatus = "approved"
	SummaryStatusRejected            SummaryStatus = "rejected"
	SummaryStatusChangesRequired     SummaryStatus = "changes_required"
	SummaryStatusApprovedAndModified SummaryStatus = "approved_and_modified"
	SummaryStatusSuperseded          SummaryStatus = "superseded"
)

// ReviewDecision is the action a reviewer takes on a sent summary
type ReviewDecision string

const (
	ReviewDecisionApprove        ReviewDecision = "approve"
	ReviewDecisionReject         ReviewDecision = "reject"
	ReviewDecisionRequestChanges ReviewDecision = "changes_required"
)

// KBSummary is the output of one curation cycle.
// PeriodStart equals Date unless the summary consolidates a multi-day backlog.
type KBSummary struct {
	ID          string
	Date        time.Time
	PeriodStart time.Time
	SummaryText string
	Status      SummaryStatus
	ReviewedBy  string
	ReviewedAt  *time.Time
	Changes     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPending reports whether the summary still awaits a review decision
func (s *KBSummary) IsPending() bool {
	return s.Status == SummaryStatusSent
}

// IsConsolidated reports whether the summary covers more than one day
func (s *KBSummary) IsConsolidated() bool {
	return !s.PeriodStart.IsZero() && s.PeriodStart.Before(s.Date)
}

// NewKBSummary creates a new KBSummary in sent state
func NewKBSummary(id string, periodStart, date time.Time, text string, now time.Time) *KBSummary {
	return &KBSummary{
		ID:          id,
		Date:        date,
		PeriodStart: periodStart,
		SummaryText: text,
		Status:      SummaryStatusSent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateKBSummary validates a KBSummary instance
func ValidateKBSummary(s *KBSummary) error {
	if s == nil {
		return fmt.Errorf("summary cannot be nil")
	}

	if s.ID == "" {
		return fmt.Errorf("summary ID is required")
	}

	if s.Date.IsZero() {
		return fmt.Errorf("summary Date is required")
	}

	if !s.PeriodStart.IsZero() && s.PeriodStart.After(s.Date) {
		return fmt.Errorf("summary PeriodStart cannot be after Date")
	}

	if !IsValidSummaryStatus(s.Status) {
		return fmt.Errorf("summary Status is invalid: %s", s.Status)
	}

	return nil
}

// IsValidSummaryStatus checks if a SummaryStatus is valid
func IsValidSummaryStatus(s SummaryStatus) bool {
	switch s {
	case SummaryStatusSent, SummaryStatusApproved, SummaryStatusRejected,
		SummaryStatusChangesRequired, SummaryStatusApprovedAndModified, SummaryStatusSuperseded:
		return true
	}
	return false
}

// IsValidReviewDecision checks if a ReviewDecision is valid
func IsValidReviewDecision(d ReviewDecision) bool {
	switch d {
	case ReviewDecisionApprove, ReviewDecisionReject, ReviewDecisionRequestChanges:
		return true
	}
	return false
}

// DateOnly truncates t to midnight in its own location
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
