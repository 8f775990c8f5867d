package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/kbbot/internal/api"
	"github.com/cloo-solutions/kbbot/internal/api/middleware"
	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/jobs"
	"github.com/cloo-solutions/kbbot/internal/service"
)

const maxListLimit = 100

type SummaryService interface {
	List(ctx context.Context, input service.ListSummariesInput) (*service.ListSummariesOutput, error)
	Get(ctx context.Context, id string) (*domain.KBSummary, error)
}

type SummaryReviewer interface {
	Review(ctx context.Context, input service.ReviewInput) (*service.ReviewOutput, error)
}

type SummaryRunner interface {
	Trigger(ctx context.Context, force bool) (*jobs.RunResult, error)
}

type SummaryHandler struct {
	summaries SummaryService
	reviewer  SummaryReviewer
	runner    SummaryRunner
}

func NewSummaryHandler(summaries SummaryService, reviewer SummaryReviewer, runner SummaryRunner) *SummaryHandler {
	return &SummaryHandler{summaries: summaries, reviewer: reviewer, runner: runner}
}

type ReviewRequest struct {
	Decision string `json:"decision"`
	Changes  string `json:"changes"`
}

type RunRequest struct {
	Force bool `json:"force"`
}

type SummaryResponse struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	PeriodStart string          `json:"period_start"`
	Status      string          `json:"status"`
	SummaryText string          `json:"summary_text"`
	Pairs       []domain.QAPair `json:"pairs"`
	ReviewedBy  string          `json:"reviewed_by,omitempty"`
	ReviewedAt  string          `json:"reviewed_at,omitempty"`
	Changes     string          `json:"changes,omitempty"`
	Message     string          `json:"message"`
	CreatedAt   string          `json:"created_at"`
}

type ReviewResponse struct {
	Summary   *SummaryResponse `json:"summary"`
	Committed int              `json:"committed"`
}

type RunResponse struct {
	Kind       string           `json:"kind"`
	Summary    *SummaryResponse `json:"summary"`
	Superseded []string         `json:"superseded,omitempty"`
}

type ListSummariesResponse struct {
	Items   []*SummaryResponse `json:"items"`
	Cursor  string             `json:"cursor,omitempty"`
	HasMore bool               `json:"has_more"`
}

func summaryToResponse(s *domain.KBSummary) *SummaryResponse {
	resp := &SummaryResponse{
		ID:          s.ID,
		Date:        s.Date.Format("2006-01-02"),
		PeriodStart: s.PeriodStart.Format("2006-01-02"),
		Status:      string(s.Status),
		SummaryText: s.SummaryText,
		Pairs:       service.ParseQAPairs(s.SummaryText),
		ReviewedBy:  s.ReviewedBy,
		Changes:     s.Changes,
		Message:     service.SummaryMessage(s),
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Pairs == nil {
		resp.Pairs = []domain.QAPair{}
	}
	if s.ReviewedAt != nil {
		resp.ReviewedAt = s.ReviewedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *SummaryHandler) List(w http.ResponseWriter, r *http.Request) {
	input := service.ListSummariesInput{
		Status: domain.SummaryStatus(r.URL.Query().Get("status")),
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  parseLimit(r, 20),
	}

	out, err := h.summaries.List(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*SummaryResponse, 0, len(out.Items))
	for _, s := range out.Items {
		items = append(items, summaryToResponse(s))
	}

	api.Success(w, http.StatusOK, ListSummariesResponse{
		Items:   items,
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
	})
}

func (h *SummaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	summary, err := h.summaries.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, summaryToResponse(summary))
}

// Review applies the caller's decision; the reviewer is always the authenticated caller
func (h *SummaryHandler) Review(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.reviewer.Review(r.Context(), service.ReviewInput{
		SummaryID: id,
		Reviewer:  caller,
		Decision:  domain.ReviewDecision(req.Decision),
		Changes:   req.Changes,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ReviewResponse{
		Summary:   summaryToResponse(out.Summary),
		Committed: out.Committed,
	})
}

func (h *SummaryHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.runner.Trigger(r.Context(), req.Force)
	if errors.Is(err, jobs.ErrAlreadyFired) {
		api.Error(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, RunResponse{
		Kind:       string(result.Kind),
		Summary:    summaryToResponse(result.Summary),
		Superseded: result.Superseded,
	})
}

func parseLimit(r *http.Request, def int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}
