package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/kbbot/internal/api"
	"github.com/cloo-solutions/kbbot/internal/domain"
)

type ConversationService interface {
	Append(ctx context.Context, m domain.ConversationMessage) error
	Recent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error)
}

type ConversationHandler struct {
	svc ConversationService
}

func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type AppendMessageRequest struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp"`
	GroupID   string     `json:"group_id"`
	Source    string     `json:"source"`
}

type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	UserID    string `json:"user_id,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (h *ConversationHandler) Append(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	var req AppendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	role := domain.MessageRole(req.Role)
	if role == "" {
		role = domain.MessageRoleUser
	}

	msg := domain.ConversationMessage{
		ID:             req.ID,
		ConversationID: conversationID,
		Role:           role,
		UserID:         req.UserID,
		Content:        req.Content,
		GroupID:        req.GroupID,
		Source:         req.Source,
	}
	if req.Timestamp != nil {
		msg.Timestamp = req.Timestamp.UTC()
	}

	if err := h.svc.Append(r.Context(), msg); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *ConversationHandler) Recent(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	limit := parseLimit(r, 10)
	msgs, err := h.svc.Recent(r.Context(), conversationID, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			Role:      string(m.Role),
			UserID:    m.UserID,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	api.Success(w, http.StatusOK, out)
}
