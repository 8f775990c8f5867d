package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbbot/internal/api"
	"github.com/cloo-solutions/kbbot/internal/api/middleware"
	"github.com/cloo-solutions/kbbot/internal/service"
)

// NoAnswerMessage is shown to users when the assistant declines to answer
const NoAnswerMessage = "I don't have reliable information on that yet. I've noted the question so the team can follow up."

type AskService interface {
	Ask(ctx context.Context, input service.AskInput) (*service.AskOutput, error)
}

type AskHandler struct {
	svc AskService
}

func NewAskHandler(svc AskService) *AskHandler {
	return &AskHandler{svc: svc}
}

type AskRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Question       string `json:"question"`
}

type AskResponse struct {
	Answer     string   `json:"answer"`
	Answered   bool     `json:"answered"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = middleware.GetCaller(r.Context())
	}

	out, err := h.svc.Ask(r.Context(), service.AskInput{
		ConversationID: req.ConversationID,
		UserID:         userID,
		Question:       req.Question,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := AskResponse{
		Answer:     out.Answer,
		Answered:   out.Answered,
		Confidence: out.Confidence,
		Sources:    out.Sources,
	}
	if !out.Answered {
		resp.Answer = NoAnswerMessage
		resp.Sources = nil
	}

	api.Success(w, http.StatusOK, resp)
}
