package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

// LLMClient runs a chat completion
type LLMClient interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// RelevanceAssessment is the relevance oracle's verdict on retrieved chunks
type RelevanceAssessment struct {
	Confidence float64
	Relevant   []*domain.SearchResult
	Reasoning  string
}

// RelevanceScorer grades how well retrieved chunks answer a question
type RelevanceScorer interface {
	Score(ctx context.Context, question string, chunks []*domain.SearchResult) (*RelevanceAssessment, error)
}

// GenerateInput carries everything the answer oracle may see
type GenerateInput struct {
	Question   string
	Knowledge  []*domain.SearchResult
	History    []domain.ChatMessage
	Confidence float64
	Caveat     bool
}

// AnswerGenerator produces a natural-language answer from supplied knowledge
type AnswerGenerator interface {
	Generate(ctx context.Context, input GenerateInput) (string, error)
}

// Extractor turns one conversation into candidate pairs
type Extractor interface {
	Extract(ctx context.Context, conversationID string, messages []domain.ConversationMessage) ([]domain.QAPair, error)
}

// DuplicateVerdict is the duplicate oracle's classification
type DuplicateVerdict string

const (
	VerdictDuplicate DuplicateVerdict = "DUPLICATE"
	VerdictUnique    DuplicateVerdict = "UNIQUE"
)

// DuplicateValidator compares a candidate pair against matched documents
type DuplicateValidator interface {
	Validate(ctx context.Context, pair domain.QAPair, matches []*domain.SearchResult) (DuplicateVerdict, error)
}

// LLMOracles implements every oracle role on top of one LLM client
type LLMOracles struct {
	llm LLMClient
}

func NewLLMOracles(llm LLMClient) *LLMOracles {
	return &LLMOracles{llm: llm}
}

type relevanceResponse struct {
	Confidence     float64 `json:"confidence"`
	RelevantChunks []int   `json:"relevant_chunks"`
	Reasoning      string  `json:"reasoning"`
}

func (o *LLMOracles) Score(ctx context.Context, question string, chunks []*domain.SearchResult) (*RelevanceAssessment, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nKnowledge chunks:\n", strings.TrimSpace(question))
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, c.Text())
	}

	reply, err := o.llm.Complete(ctx, []domain.ChatMessage{
		{Role: domain.MessageRoleSystem, Content: relevanceSystemPrompt},
		{Role: domain.MessageRoleUser, Content: b.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("relevance scoring failed: %w", err)
	}
	return parseRelevance(reply, chunks)
}

// parseRelevance reads the first JSON object in reply and clamps confidence into [0,1]
func parseRelevance(reply string, chunks []*domain.SearchResult) (*RelevanceAssessment, error) {
	s := stripCodeFences(reply)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in relevance response")
	}

	var resp relevanceResponse
	if err := json.Unmarshal([]byte(s[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("invalid relevance response: %w", err)
	}

	out := &RelevanceAssessment{
		Confidence: clampConfidence(resp.Confidence),
		Reasoning:  strings.TrimSpace(resp.Reasoning),
	}
	seen := make(map[int]struct{}, len(resp.RelevantChunks))
	for _, n := range resp.RelevantChunks {
		if n < 1 || n > len(chunks) {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out.Relevant = append(out.Relevant, chunks[n-1])
	}
	return out, nil
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func (o *LLMOracles) Generate(ctx context.Context, input GenerateInput) (string, error) {
	var knowledge strings.Builder
	for i, k := range input.Knowledge {
		fmt.Fprintf(&knowledge, "[%d] %s\n\n", i+1, k.Text())
	}

	system := answerSystemPrompt + "\n\nKnowledge:\n" + knowledge.String()
	if input.Caveat {
		system += "\n" + fmt.Sprintf(answerCaveatPrompt, input.Confidence)
	}

	messages := make([]domain.ChatMessage, 0, len(input.History)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.MessageRoleSystem, Content: system})
	messages = append(messages, input.History...)
	messages = append(messages, domain.ChatMessage{Role: domain.MessageRoleUser, Content: input.Question})

	reply, err := o.llm.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return reply, nil
}

func (o *LLMOracles) Extract(ctx context.Context, conversationID string, messages []domain.ConversationMessage) ([]domain.QAPair, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s:\n", conversationID)
	for _, m := range messages {
		who := m.UserID
		if who == "" {
			who = string(m.Role)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), who, strings.TrimSpace(m.Content))
	}

	reply, err := o.llm.Complete(ctx, []domain.ChatMessage{
		{Role: domain.MessageRoleSystem, Content: extractionSystemPrompt},
		{Role: domain.MessageRoleUser, Content: b.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	return ParseQAPairs(reply), nil
}

func (o *LLMOracles) Validate(ctx context.Context, pair domain.QAPair, matches []*domain.SearchResult) (DuplicateVerdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "New pair:\nQ: %s\nA: %s\n\nExisting knowledge:\n", pair.Question, pair.Answer)
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] (similarity %.2f) %s\n\n", i+1, m.Score, m.Text())
	}

	reply, err := o.llm.Complete(ctx, []domain.ChatMessage{
		{Role: domain.MessageRoleSystem, Content: duplicateSystemPrompt},
		{Role: domain.MessageRoleUser, Content: b.String()},
	})
	if err != nil {
		return "", fmt.Errorf("duplicate validation failed: %w", err)
	}
	return ParseVerdict(reply), nil
}

// ParseVerdict reads a one-word verdict. Anything that is not clearly UNIQUE is a duplicate.
func ParseVerdict(reply string) DuplicateVerdict {
	upper := strings.ToUpper(reply)
	if strings.Contains(upper, string(VerdictDuplicate)) {
		return VerdictDuplicate
	}
	if strings.Contains(upper, string(VerdictUnique)) {
		return VerdictUnique
	}
	return VerdictDuplicate
}
