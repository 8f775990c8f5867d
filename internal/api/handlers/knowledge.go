package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/kbbot/internal/api"
	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/service"
)

const maxUpsertDocuments = 500

type KnowledgeStore interface {
	Search(ctx context.Context, q service.SearchQuery) []*domain.SearchResult
	Count(ctx context.Context) (int64, error)
	Upsert(ctx context.Context, docs ...*domain.KnowledgeDocument) error
	Get(ctx context.Context, id string) (*domain.KnowledgeDocument, error)
}

type KnowledgeHandler struct {
	store KnowledgeStore
}

func NewKnowledgeHandler(store KnowledgeStore) *KnowledgeHandler {
	return &KnowledgeHandler{store: store}
}

type SearchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MinScore float32 `json:"min_score"`
	Mode     string  `json:"mode"`
}

type DocumentRequest struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Content  string `json:"content"`
	Source   string `json:"source"`
}

type UpsertRequest struct {
	Documents []DocumentRequest `json:"documents"`
}

type SearchResultResponse struct {
	ID       string  `json:"id"`
	Question string  `json:"question,omitempty"`
	Answer   string  `json:"answer,omitempty"`
	Content  string  `json:"content,omitempty"`
	Source   string  `json:"source,omitempty"`
	Status   string  `json:"status,omitempty"`
	Score    float32 `json:"score"`
}

type DocumentResponse struct {
	ID        string `json:"id"`
	Question  string `json:"question,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Content   string `json:"content,omitempty"`
	Source    string `json:"source,omitempty"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	mode := domain.SearchMode(req.Mode)
	if mode == "" {
		mode = domain.SearchModeHybrid
	}
	if !domain.IsValidSearchMode(mode) {
		api.Error(w, http.StatusBadRequest, "invalid search mode")
		return
	}

	results := h.store.Search(r.Context(), service.SearchQuery{
		Query:    req.Query,
		TopK:     req.TopK,
		MinScore: req.MinScore,
		Mode:     mode,
	})

	out := make([]SearchResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, SearchResultResponse{
			ID:       res.ID,
			Question: res.Question,
			Answer:   res.Answer,
			Content:  res.Content,
			Source:   res.Source,
			Status:   string(res.Status),
			Score:    res.Score,
		})
	}
	api.Success(w, http.StatusOK, out)
}

func (h *KnowledgeHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DocumentResponse{
		ID:        doc.ID,
		Question:  doc.Question,
		Answer:    doc.Answer,
		Content:   doc.Content,
		Source:    doc.Source,
		Status:    string(doc.Status),
		Timestamp: doc.Timestamp.UTC().Format(time.RFC3339),
	})
}

// Upsert writes imported documents; ids default to a stable hash of source and text
func (h *KnowledgeHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		api.Error(w, http.StatusBadRequest, "documents are required")
		return
	}
	if len(req.Documents) > maxUpsertDocuments {
		api.Error(w, http.StatusBadRequest, "too many documents")
		return
	}

	now := time.Now().UTC()
	docs := make([]*domain.KnowledgeDocument, 0, len(req.Documents))
	for _, d := range req.Documents {
		doc := &domain.KnowledgeDocument{
			ID:        d.ID,
			Question:  d.Question,
			Answer:    d.Answer,
			Content:   d.Content,
			Source:    d.Source,
			Timestamp: now,
			Status:    domain.DocumentStatusImported,
		}
		if doc.ID == "" {
			doc.ID = service.DocumentID(doc.Source, doc.EmbeddingText())
		}
		docs = append(docs, doc)
	}

	if err := h.store.Upsert(r.Context(), docs...); err != nil {
		api.HandleError(w, err)
		return
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	api.Success(w, http.StatusCreated, map[string][]string{"ids": ids})
}
