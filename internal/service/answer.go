package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

const historyContextSize = 10

// AnswerLogEntry captures one pass through the confidence gate
type AnswerLogEntry struct {
	ID             string
	ConversationID string
	UserID         string
	Question       string
	Answered       bool
	Confidence     float64
	ChunkIDs       []string
	Reason         string
	LatencyMs      int
	CreatedAt      time.Time
}

// AnswerLogRepository persists answer logs
type AnswerLogRepository interface {
	CreateAnswerLog(ctx context.Context, entry AnswerLogEntry) error
}

// ConversationHistory is the slice of HistoryService used while answering
type ConversationHistory interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error)
	AppendAsync(ctx context.Context, m domain.ConversationMessage)
}

// GateConfig holds the retrieval floor and both confidence thresholds
type GateConfig struct {
	TopK                int
	MinScore            float32
	ConfidenceThreshold float64
	CaveatThreshold     float64
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		TopK:                5,
		MinScore:            0.032,
		ConfidenceThreshold: 0.7,
		CaveatThreshold:     0.9,
	}
}

type AskInput struct {
	ConversationID string
	UserID         string
	Question       string
}

type AskOutput struct {
	Answer     string
	Answered   bool
	Confidence float64
	Reasoning  string
	Sources    []string
}

// AnswerService answers questions strictly from the knowledge store, returning
// the NoAnswer sentinel whenever either confidence gate trips.
type AnswerService struct {
	store     KnowledgeSearcher
	scorer    RelevanceScorer
	generator AnswerGenerator
	history   ConversationHistory
	logs      AnswerLogRepository
	uuidGen   UUIDGenerator
	cfg       GateConfig
	log       *logger.Logger
}

func NewAnswerService(
	store KnowledgeSearcher,
	scorer RelevanceScorer,
	generator AnswerGenerator,
	history ConversationHistory,
	logs AnswerLogRepository,
	cfg GateConfig,
	log *logger.Logger,
) *AnswerService {
	return &AnswerService{
		store:     store,
		scorer:    scorer,
		generator: generator,
		history:   history,
		logs:      logs,
		uuidGen:   &DefaultUUIDGenerator{},
		cfg:       cfg,
		log:       log,
	}
}

// Ask runs the gate and records the exchange in conversation history.
func (s *AnswerService) Ask(ctx context.Context, input AskInput) (*AskOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Ask", telemetry.SpanAttributes{
		ConversationID: input.ConversationID,
		Operation:      "ask",
	})
	defer span.End()

	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}

	started := time.Now()
	history := s.recentHistory(ctx, input.ConversationID)

	out, chunkIDs, reason := s.answer(ctx, question, history)
	span.SetData("gate", reason)
	span.SetData("confidence", out.Confidence)
	telemetry.AddBreadcrumb(ctx, "gate", reason, map[string]interface{}{
		"confidence": out.Confidence,
		"chunks":     len(chunkIDs),
	})

	if s.history != nil && input.ConversationID != "" {
		s.history.AppendAsync(ctx, domain.ConversationMessage{
			ConversationID: input.ConversationID,
			Role:           domain.MessageRoleUser,
			UserID:         input.UserID,
			Content:        question,
		})
		// Declined turns are left out so the sentinel never reaches later prompts.
		if out.Answered {
			s.history.AppendAsync(ctx, domain.ConversationMessage{
				ConversationID: input.ConversationID,
				Role:           domain.MessageRoleAssistant,
				Content:        out.Answer,
			})
		}
	}

	s.recordLog(ctx, AnswerLogEntry{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Question:       question,
		Answered:       out.Answered,
		Confidence:     out.Confidence,
		ChunkIDs:       chunkIDs,
		Reason:         reason,
		LatencyMs:      int(time.Since(started).Milliseconds()),
	})

	return out, nil
}

// Answer runs the gate without touching history or logs
func (s *AnswerService) Answer(ctx context.Context, question string, history []domain.ChatMessage) *AskOutput {
	out, _, _ := s.answer(ctx, strings.TrimSpace(question), history)
	return out
}

func (s *AnswerService) answer(ctx context.Context, question string, history []domain.ChatMessage) (*AskOutput, []string, string) {
	noAnswer := func(confidence float64, reasoning string) *AskOutput {
		return &AskOutput{Answer: NoAnswer, Confidence: confidence, Reasoning: reasoning}
	}

	chunks := s.store.Search(ctx, SearchQuery{
		Query:    question,
		TopK:     s.cfg.TopK,
		MinScore: s.cfg.MinScore,
		Mode:     domain.SearchModeHybrid,
	})
	if len(chunks) == 0 {
		return noAnswer(0, ""), nil, "no_chunks"
	}
	chunkIDs := resultIDs(chunks)

	assessment, err := s.scorer.Score(ctx, question, chunks)
	if err != nil {
		s.log.Warn("relevance scoring failed", "error", err)
		return noAnswer(0, ""), chunkIDs, "scoring_failed"
	}
	confidence := clampConfidence(assessment.Confidence)
	if confidence < s.cfg.ConfidenceThreshold {
		s.log.Info("answer suppressed by confidence gate", "confidence", confidence, "threshold", s.cfg.ConfidenceThreshold)
		return noAnswer(confidence, assessment.Reasoning), chunkIDs, "low_confidence"
	}

	knowledge := assessment.Relevant
	if len(knowledge) == 0 {
		knowledge = chunks
	}

	text, err := s.generator.Generate(ctx, GenerateInput{
		Question:   question,
		Knowledge:  knowledge,
		History:    history,
		Confidence: confidence,
		Caveat:     confidence < s.cfg.CaveatThreshold,
	})
	if err != nil {
		s.log.Warn("answer generation failed", "error", err)
		return noAnswer(confidence, assessment.Reasoning), chunkIDs, "generation_failed"
	}

	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, NoAnswer) || containsUncertainty(text) {
		return noAnswer(confidence, assessment.Reasoning), chunkIDs, "uncertain_answer"
	}

	return &AskOutput{
		Answer:     text,
		Answered:   true,
		Confidence: confidence,
		Reasoning:  assessment.Reasoning,
		Sources:    resultIDs(knowledge),
	}, chunkIDs, "answered"
}

func (s *AnswerService) recentHistory(ctx context.Context, conversationID string) []domain.ChatMessage {
	if s.history == nil || conversationID == "" {
		return nil
	}
	msgs, err := s.history.Recent(ctx, conversationID, historyContextSize)
	if err != nil {
		s.log.Warn("failed to load conversation history", "conversation_id", conversationID, "error", err)
		return nil
	}
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == domain.MessageRoleSystem {
			continue
		}
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *AnswerService) recordLog(ctx context.Context, entry AnswerLogEntry) {
	if s.logs == nil {
		return
	}
	entry.ID = s.uuidGen.NewString()
	entry.CreatedAt = time.Now().UTC()
	if err := s.logs.CreateAnswerLog(ctx, entry); err != nil {
		s.log.Warn("failed to write answer log", "error", err)
	}
}

// containsUncertainty reports whether text contains a stock uncertainty phrase
func containsUncertainty(text string) bool {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func resultIDs(results []*domain.SearchResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids
}
