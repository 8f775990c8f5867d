package service

import (
	"strings"
	"unicode"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

const (
	defaultCandidateMultiplier = 4
	defaultMinCandidates       = 20
	defaultMaxCandidates       = 200

	semanticWeight = 1.0
	lexicalWeight  = 0.85
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "for": {}, "with": {}, "by": {},
	"in": {}, "on": {}, "at": {}, "from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "we": {}, "our": {}, "you": {},
	"your": {}, "i": {}, "me": {}, "my": {}, "us": {}, "them": {}, "they": {}, "their": {}, "do": {},
	"does": {}, "did": {}, "what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "may": {}, "might": {}, "will": {}, "shall": {}, "not": {},
}

func normalizeSearchMode(mode domain.SearchMode) domain.SearchMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(domain.SearchModeSemantic):
		return domain.SearchModeSemantic
	case string(domain.SearchModeLexical):
		return domain.SearchModeLexical
	default:
		return domain.SearchModeHybrid
	}
}

func candidateLimit(topK int) int {
	limit := topK * defaultCandidateMultiplier
	if limit < defaultMinCandidates {
		limit = defaultMinCandidates
	}
	if limit > defaultMaxCandidates {
		limit = defaultMaxCandidates
	}
	return limit
}

// keywordTokens drops stopwords and punctuation-only tokens
func keywordTokens(query string) []string {
	var tokens []string
	for _, token := range strings.FieldsFunc(query, unicode.IsSpace) {
		clean := strings.ToLower(strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))
		if clean == "" {
			continue
		}
		if _, ok := stopwords[clean]; ok {
			continue
		}
		tokens = append(tokens, clean)
	}
	return tokens
}

// lexicalQuery builds a websearch query matching any keyword
func lexicalQuery(query string) string {
	return strings.Join(keywordTokens(query), " or ")
}

// blendHybrid scores the union of both candidate lists as a weighted mean of the
// semantic and lexical scores; a document missing from one list scores 0 there.
func blendHybrid(semantic, lexical []*domain.SearchResult) []*domain.SearchResult {
	type entry struct {
		result   *domain.SearchResult
		semantic float32
		lexical  float32
	}

	byID := make(map[string]*entry, len(semantic)+len(lexical))
	order := make([]string, 0, len(semantic)+len(lexical))
	add := func(r *domain.SearchResult) *entry {
		e, ok := byID[r.ID]
		if !ok {
			copied := *r
			e = &entry{result: &copied}
			byID[r.ID] = e
			order = append(order, r.ID)
		}
		return e
	}

	for _, r := range semantic {
		if r == nil {
			continue
		}
		e := add(r)
		if r.Score > e.semantic {
			e.semantic = clampScore(r.Score)
		}
	}
	for _, r := range lexical {
		if r == nil {
			continue
		}
		e := add(r)
		if r.Score > e.lexical {
			e.lexical = clampScore(r.Score)
		}
	}

	out := make([]*domain.SearchResult, 0, len(order))
	for _, id := range order {
		e := byID[id]
		e.result.Score = (semanticWeight*e.semantic + lexicalWeight*e.lexical) / (semanticWeight + lexicalWeight)
		out = append(out, e.result)
	}
	return out
}

func clampScore(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
