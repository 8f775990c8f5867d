package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

// EmbeddingClient generates embeddings for text
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentWriter is the write side of document persistence, also available inside a transaction
type DocumentWriter interface {
	Upsert(ctx context.Context, docs []*domain.KnowledgeDocument) error
}

// DocumentRepositoryInterface defines the repository interface for knowledge documents
type DocumentRepositoryInterface interface {
	DocumentWriter
	EnsureSchema(ctx context.Context, dimensions int) error
	SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]*domain.SearchResult, error)
	SearchLexical(ctx context.Context, query string, limit int) ([]*domain.SearchResult, error)
	Count(ctx context.Context) (int64, error)
	GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error)
}

// SearchQuery describes one knowledge store lookup
type SearchQuery struct {
	Query    string
	TopK     int
	MinScore float32
	Mode     domain.SearchMode
}

// KnowledgeSearcher is the read contract shared by answering and dedup
type KnowledgeSearcher interface {
	Search(ctx context.Context, q SearchQuery) []*domain.SearchResult
}

// KnowledgeStore wraps the vector index: schema, embedding delegation and
// threshold-filtered search.
type KnowledgeStore struct {
	repo       DocumentRepositoryInterface
	embedding  EmbeddingClient
	dimensions int
	log        *logger.Logger

	initGroup   singleflight.Group
	initialized atomic.Bool
}

func NewKnowledgeStore(repo DocumentRepositoryInterface, embedding EmbeddingClient, dimensions int, log *logger.Logger) *KnowledgeStore {
	return &KnowledgeStore{
		repo:       repo,
		embedding:  embedding,
		dimensions: dimensions,
		log:        log,
	}
}

// Initialize creates the index when absent. Concurrent callers share a single
// creation; a failed attempt can be retried by a later call.
func (s *KnowledgeStore) Initialize(ctx context.Context) error {
	if s.initialized.Load() {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (interface{}, error) {
		if s.initialized.Load() {
			return nil, nil
		}
		if err := s.repo.EnsureSchema(ctx, s.dimensions); err != nil {
			return nil, err
		}
		s.initialized.Store(true)
		s.log.Info("knowledge store initialized", "dimensions", s.dimensions)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreNotInitialized, err)
	}
	return nil
}

// Embed fills in embeddings for documents that lack one without writing anything
func (s *KnowledgeStore) Embed(ctx context.Context, docs []*domain.KnowledgeDocument) error {
	var texts []string
	var targets []*domain.KnowledgeDocument
	for _, d := range docs {
		if err := domain.ValidateKnowledgeDocument(d); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid knowledge document", err)
		}
		if len(d.Embedding) > 0 {
			continue
		}
		texts = append(texts, d.EmbeddingText())
		targets = append(targets, d)
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := s.embedding.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(targets) {
		return fmt.Errorf("expected %d embeddings, got %d", len(targets), len(vectors))
	}
	for i, d := range targets {
		d.Embedding = vectors[i]
	}
	return nil
}

// Upsert embeds documents missing an embedding and writes them by id
func (s *KnowledgeStore) Upsert(ctx context.Context, docs ...*domain.KnowledgeDocument) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.Upsert", telemetry.SpanAttributes{
		Operation: "upsert",
	})
	defer span.End()

	if len(docs) == 0 {
		return nil
	}
	if err := s.Initialize(ctx); err != nil {
		span.SetError(err)
		return err
	}
	if err := s.Embed(ctx, docs); err != nil {
		span.SetError(err)
		return err
	}
	if err := s.repo.Upsert(ctx, docs); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// Search returns results with score >= MinScore ordered by descending score and
// truncated to TopK. It never fails: provider errors degrade to lexical search
// and then to an empty result.
func (s *KnowledgeStore) Search(ctx context.Context, q SearchQuery) []*domain.SearchResult {
	results, _ := s.search(ctx, q, false)
	return results
}

// SearchStrict runs the requested mode without degrading. Any provider or index
// failure is returned, so callers that must fail closed can tell "nothing similar"
// apart from "could not look".
func (s *KnowledgeStore) SearchStrict(ctx context.Context, q SearchQuery) ([]*domain.SearchResult, error) {
	return s.search(ctx, q, true)
}

func (s *KnowledgeStore) search(ctx context.Context, q SearchQuery, strict bool) ([]*domain.SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeStore.Search", telemetry.SpanAttributes{
		Operation: "search:" + string(q.Mode),
	})
	defer span.End()

	query := strings.TrimSpace(q.Query)
	if query == "" {
		return []*domain.SearchResult{}, nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}
	if err := s.Initialize(ctx); err != nil {
		s.log.Error("knowledge search skipped", "error", err)
		return []*domain.SearchResult{}, err
	}

	mode := normalizeSearchMode(q.Mode)
	limit := candidateLimit(topK)

	var semantic []*domain.SearchResult
	if mode != domain.SearchModeLexical {
		var err error
		semantic, err = s.searchSemantic(ctx, query, limit)
		if err != nil {
			if strict {
				span.SetError(err)
				return []*domain.SearchResult{}, fmt.Errorf("semantic search: %w", err)
			}
			s.log.Warn("semantic search failed, falling back to lexical", "error", err, "mode", string(mode))
			mode = domain.SearchModeLexical
			semantic = nil
		}
	}

	var lexical []*domain.SearchResult
	if mode != domain.SearchModeSemantic {
		if kw := lexicalQuery(query); kw != "" {
			var err error
			lexical, err = s.repo.SearchLexical(ctx, kw, limit)
			if err != nil {
				if strict {
					span.SetError(err)
					return []*domain.SearchResult{}, fmt.Errorf("lexical search: %w", err)
				}
				s.log.Warn("lexical search failed", "error", err)
				lexical = nil
			}
		}
	}

	var merged []*domain.SearchResult
	switch mode {
	case domain.SearchModeSemantic:
		merged = semantic
	case domain.SearchModeLexical:
		merged = lexical
	default:
		merged = blendHybrid(semantic, lexical)
	}

	return filterRanked(merged, q.MinScore, topK), nil
}

func (s *KnowledgeStore) searchSemantic(ctx context.Context, query string, limit int) ([]*domain.SearchResult, error) {
	vec, err := s.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.repo.SearchSemantic(ctx, vec, limit)
}

func (s *KnowledgeStore) Count(ctx context.Context) (int64, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	return s.repo.Count(ctx)
}

func (s *KnowledgeStore) Get(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func filterRanked(results []*domain.SearchResult, minScore float32, topK int) []*domain.SearchResult {
	out := make([]*domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.Score >= minScore {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
