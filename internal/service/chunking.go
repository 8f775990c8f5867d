package service

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

// ChunkConfig controls how long free-text documents are split on import.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	MaxChunks int
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  1500,
		MinChars:  500,
		Overlap:   150,
		MaxChunks: 64,
	}
}

// SplitDocument splits a content-only document into "<id>#<n>" parts.
// Question/answer documents and short content are returned unchanged.
func SplitDocument(doc *domain.KnowledgeDocument, cfg ChunkConfig) []*domain.KnowledgeDocument {
	if doc.Question != "" && doc.Answer != "" {
		return []*domain.KnowledgeDocument{doc}
	}
	parts := chunkText(doc.Content, cfg)
	if len(parts) <= 1 {
		return []*domain.KnowledgeDocument{doc}
	}

	out := make([]*domain.KnowledgeDocument, 0, len(parts))
	for i, part := range parts {
		out = append(out, &domain.KnowledgeDocument{
			ID:        fmt.Sprintf("%s#%d", doc.ID, i),
			Content:   part,
			Source:    doc.Source,
			Timestamp: doc.Timestamp,
			Status:    doc.Status,
		})
	}
	return out
}

// chunkText packs whole paragraphs into chunks of at most MaxChars runes.
// A paragraph longer than that is cut at whitespace into overlapping windows.
func chunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if clean == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	if utf8.RuneCountInString(clean) <= cfg.MaxChars {
		return []string{clean}
	}

	var pieces []string
	for _, para := range strings.Split(clean, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= cfg.MaxChars {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, windows([]rune(para), cfg)...)
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if curLen > 0 && curLen+2+n > cfg.MaxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(piece)
		curLen += n
	}
	flush()

	if cfg.MaxChunks > 0 && len(chunks) > cfg.MaxChunks {
		chunks = chunks[:cfg.MaxChunks]
	}
	return chunks
}

// windows cuts runes into pieces of at most MaxChars, preferring the last
// whitespace after MinChars, each starting Overlap runes before the previous end.
func windows(runes []rune, cfg ChunkConfig) []string {
	var out []string
	start := 0
	for start < len(runes) {
		end := min(start+cfg.MaxChars, len(runes))
		if end < len(runes) {
			for i := end; i > start+cfg.MinChars; i-- {
				if unicode.IsSpace(runes[i-1]) {
					end = i
					break
				}
			}
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}

		next := end - cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}
