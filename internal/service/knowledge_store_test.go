package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/logger"
)

const testDims = 4

func newTestStore() (*KnowledgeStore, *MockDocumentRepository, *MockEmbeddingClient) {
	repo := new(MockDocumentRepository)
	emb := new(MockEmbeddingClient)
	repo.On("EnsureSchema", mock.Anything, testDims).Return(nil).Maybe()
	return NewKnowledgeStore(repo, emb, testDims, logger.NewNop()), repo, emb
}

func TestKnowledgeStore_Initialize_ConcurrentCallsCreateOnce(t *testing.T) {
	repo := new(MockDocumentRepository)
	repo.On("EnsureSchema", mock.Anything, testDims).Return(nil)
	store := NewKnowledgeStore(repo, new(MockEmbeddingClient), testDims, logger.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	repo.AssertNumberOfCalls(t, "EnsureSchema", 1)

	require.NoError(t, store.Initialize(context.Background()))
	repo.AssertNumberOfCalls(t, "EnsureSchema", 1)
}

func TestKnowledgeStore_Initialize_RetriesAfterFailure(t *testing.T) {
	repo := new(MockDocumentRepository)
	repo.On("EnsureSchema", mock.Anything, testDims).Return(errors.New("connection refused")).Once()
	repo.On("EnsureSchema", mock.Anything, testDims).Return(nil).Once()
	store := NewKnowledgeStore(repo, new(MockEmbeddingClient), testDims, logger.NewNop())

	err := store.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrCodeInternalError))
	assert.ErrorIs(t, err, domain.ErrStoreNotInitialized)
	assert.Contains(t, err.Error(), "connection refused")

	require.NoError(t, store.Initialize(context.Background()))
	repo.AssertExpectations(t)
}

func TestKnowledgeStore_Search_FiltersAndOrders(t *testing.T) {
	store, repo, emb := newTestStore()
	vec := []float32{0.1, 0.2, 0.3, 0.4}

	emb.On("GenerateEmbedding", mock.Anything, "reset badge").Return(vec, nil)
	repo.On("SearchSemantic", mock.Anything, vec, candidateLimit(2)).Return([]*domain.SearchResult{
		{ID: "b", Score: 0.9},
		{ID: "low", Score: 0.3},
		{ID: "a", Score: 0.95},
		{ID: "c", Score: 0.9},
	}, nil)

	results := store.Search(context.Background(), SearchQuery{
		Query:    "reset badge",
		TopK:     2,
		MinScore: 0.5,
		Mode:     domain.SearchModeSemantic,
	})

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	repo.AssertNotCalled(t, "SearchLexical", mock.Anything, mock.Anything, mock.Anything)
}

func TestKnowledgeStore_Search_FallsBackToLexical(t *testing.T) {
	store, repo, emb := newTestStore()

	emb.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, errors.New("provider down"))
	repo.On("SearchLexical", mock.Anything, "reset or badge", candidateLimit(5)).Return([]*domain.SearchResult{
		{ID: "doc-1", Question: "How do I reset my badge?", Answer: "Front desk", Score: 0.6},
	}, nil)

	results := store.Search(context.Background(), SearchQuery{Query: "How do I reset my badge?", MinScore: 0.1})

	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].ID)
	assert.Equal(t, float32(0.6), results[0].Score)
	repo.AssertNotCalled(t, "SearchSemantic", mock.Anything, mock.Anything, mock.Anything)
}

func TestKnowledgeStore_Search_NeverFails(t *testing.T) {
	store, repo, emb := newTestStore()

	emb.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, errors.New("provider down"))
	repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	results := store.Search(context.Background(), SearchQuery{Query: "badge", Mode: domain.SearchModeHybrid})

	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestKnowledgeStore_SearchStrict_ReportsOutage(t *testing.T) {
	t.Run("embedding failure does not degrade to lexical", func(t *testing.T) {
		store, repo, emb := newTestStore()
		emb.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		results, err := store.SearchStrict(context.Background(), SearchQuery{Query: "badge", Mode: domain.SearchModeSemantic})

		require.Error(t, err)
		assert.Empty(t, results)
		repo.AssertNotCalled(t, "SearchLexical", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lexical failure is returned", func(t *testing.T) {
		store, repo, _ := newTestStore()
		repo.On("SearchLexical", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

		_, err := store.SearchStrict(context.Background(), SearchQuery{Query: "badge", Mode: domain.SearchModeLexical})

		require.Error(t, err)
	})

	t.Run("success matches Search", func(t *testing.T) {
		store, repo, emb := newTestStore()
		vec := []float32{1, 0, 0, 0}
		emb.On("GenerateEmbedding", mock.Anything, "badge").Return(vec, nil)
		repo.On("SearchSemantic", mock.Anything, vec, mock.Anything).Return([]*domain.SearchResult{{ID: "a", Score: 0.8}}, nil)

		results, err := store.SearchStrict(context.Background(), SearchQuery{Query: "badge", MinScore: 0.75, Mode: domain.SearchModeSemantic})

		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "a", results[0].ID)
	})
}

func TestKnowledgeStore_Search_HybridBlendsScores(t *testing.T) {
	store, repo, emb := newTestStore()
	vec := []float32{1, 0, 0, 0}

	emb.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(vec, nil)
	repo.On("SearchSemantic", mock.Anything, vec, mock.Anything).Return([]*domain.SearchResult{
		{ID: "doc-1", Score: 0.8},
	}, nil)
	repo.On("SearchLexical", mock.Anything, "badge", mock.Anything).Return([]*domain.SearchResult{
		{ID: "doc-1", Score: 0.4},
		{ID: "doc-2", Score: 0.6},
	}, nil)

	results := store.Search(context.Background(), SearchQuery{Query: "badge", Mode: domain.SearchModeHybrid})

	require.Len(t, results, 2)
	assert.Equal(t, "doc-1", results[0].ID)
	assert.InDelta(t, (0.8+0.85*0.4)/1.85, results[0].Score, 1e-5)
	assert.Equal(t, "doc-2", results[1].ID)
	assert.InDelta(t, 0.85*0.6/1.85, results[1].Score, 1e-5)
}

func TestKnowledgeStore_Search_EmptyQuery(t *testing.T) {
	store, repo, emb := newTestStore()

	results := store.Search(context.Background(), SearchQuery{Query: "   "})

	assert.Empty(t, results)
	emb.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "EnsureSchema", mock.Anything, mock.Anything)
}

func TestKnowledgeStore_Upsert_EmbedsMissingVectors(t *testing.T) {
	store, repo, emb := newTestStore()

	withVector := &domain.KnowledgeDocument{ID: "a", Question: "Q1", Answer: "A1", Embedding: []float32{1, 1, 1, 1}}
	qa := &domain.KnowledgeDocument{ID: "b", Question: "Q2", Answer: "A2"}
	content := &domain.KnowledgeDocument{ID: "c", Content: "Badges are reset at the front desk."}

	emb.On("GenerateEmbeddings", mock.Anything, []string{"Q2\nA2", "Badges are reset at the front desk."}).
		Return([][]float32{{0, 1, 0, 0}, {0, 0, 1, 0}}, nil)
	repo.On("Upsert", mock.Anything, []*domain.KnowledgeDocument{withVector, qa, content}).Return(nil)

	err := store.Upsert(context.Background(), withVector, qa, content)

	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, qa.Embedding)
	assert.Equal(t, []float32{0, 0, 1, 0}, content.Embedding)
	repo.AssertExpectations(t)
}

func TestKnowledgeStore_Upsert_Errors(t *testing.T) {
	t.Run("invalid document", func(t *testing.T) {
		store, repo, _ := newTestStore()

		err := store.Upsert(context.Background(), &domain.KnowledgeDocument{ID: "x"})

		assert.True(t, domain.HasCode(err, domain.ErrCodeValidation))
		repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("embedding count mismatch", func(t *testing.T) {
		store, repo, emb := newTestStore()
		emb.On("GenerateEmbeddings", mock.Anything, mock.Anything).Return([][]float32{}, nil)

		err := store.Upsert(context.Background(), &domain.KnowledgeDocument{ID: "x", Content: "text"})

		require.Error(t, err)
		repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("nothing to write", func(t *testing.T) {
		store, repo, _ := newTestStore()

		require.NoError(t, store.Upsert(context.Background()))
		repo.AssertNotCalled(t, "EnsureSchema", mock.Anything, mock.Anything)
	})
}

func TestKnowledgeStore_CountAndGet(t *testing.T) {
	store, repo, _ := newTestStore()
	doc := &domain.KnowledgeDocument{ID: "doc-1", Question: "Q", Answer: "A"}

	repo.On("Count", mock.Anything).Return(int64(3), nil)
	repo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	repo.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Same(t, doc, got)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
