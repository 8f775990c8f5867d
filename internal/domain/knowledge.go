package domain

import (
	"fmt"
	"strings"
	"time"
)

// DocumentStatus represents the lifecycle tag of a knowledge document
type DocumentStatus string

const (
	DocumentStatusApproved DocumentStatus = "approved"
	DocumentStatusImported DocumentStatus = "imported"
)

// SearchMode selects how the knowledge store ranks candidates
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeLexical  SearchMode = "lexical"
	SearchModeHybrid   SearchMode = "hybrid"
)

// KnowledgeDocument is the atomic unit of stored knowledge.
// Question and Answer are optional; Content is the fallback free text.
type KnowledgeDocument struct {
	ID        string
	Question  string
	Answer    string
	Content   string
	Embedding []float32
	Source    string
	Timestamp time.Time
	Status    DocumentStatus
}

// SearchResult is a read-only projection of a KnowledgeDocument plus its similarity score.
// Score is higher for more similar documents and is not a calibrated probability.
type SearchResult struct {
	ID        string
	Question  string
	Answer    string
	Content   string
	Source    string
	Timestamp time.Time
	Status    DocumentStatus
	Score     float32
}

// QAPair is a candidate question/answer pair produced by curation
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// EmbeddingText returns the text an embedding must be generated from:
// question and answer when both are present, otherwise content.
func (d *KnowledgeDocument) EmbeddingText() string {
	q := strings.TrimSpace(d.Question)
	a := strings.TrimSpace(d.Answer)
	if q != "" && a != "" {
		return q + "\n" + a
	}
	return strings.TrimSpace(d.Content)
}

// Text renders the document for prompts and lexical indexing
func (r *SearchResult) Text() string {
	q := strings.TrimSpace(r.Question)
	a := strings.TrimSpace(r.Answer)
	if q != "" && a != "" {
		return "Q: " + q + "\nA: " + a
	}
	return strings.TrimSpace(r.Content)
}

// Key identifies a result by its question/answer identity, falling back to the ID.
func (r *SearchResult) Key() string {
	if r.Question == "" && r.Answer == "" {
		return "id:" + r.ID
	}
	return strings.ToLower(strings.TrimSpace(r.Question)) + "\x00" + strings.ToLower(strings.TrimSpace(r.Answer))
}

// ValidateKnowledgeDocument validates a KnowledgeDocument instance
func ValidateKnowledgeDocument(d *KnowledgeDocument) error {
	if d == nil {
		return fmt.Errorf("knowledge document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("knowledge document ID is required")
	}

	if d.EmbeddingText() == "" {
		return fmt.Errorf("knowledge document %s needs question and answer or content", d.ID)
	}

	if d.Status != "" && !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("knowledge document Status is invalid: %s", d.Status)
	}

	return nil
}

// IsValidSearchMode checks if a SearchMode is valid
func IsValidSearchMode(m SearchMode) bool {
	switch m {
	case SearchModeSemantic, SearchModeLexical, SearchModeHybrid:
		return true
	}
	return false
}

func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusApproved, DocumentStatusImported:
		return true
	}
	return false
}
