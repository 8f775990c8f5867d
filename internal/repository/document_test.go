//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/testutil"
)

const testDimensions = 3

func setupPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	return testutil.NewTestPool(ctx, t, pc, "../../migrations")
}

func TestDocumentRepository_EnsureSchema(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewDocumentRepository(pool)

	require.NoError(t, repo.EnsureSchema(ctx, testDimensions))
	require.NoError(t, repo.EnsureSchema(ctx, testDimensions), "second call is a no-op")

	err := repo.EnsureSchema(ctx, 1536)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension is 3")

	assert.Error(t, repo.EnsureSchema(ctx, 0))
}

func TestDocumentRepository_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewDocumentRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx, testDimensions))

	ts := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	doc := &domain.KnowledgeDocument{
		ID:        "doc-1",
		Question:  "How do I reset my badge?",
		Answer:    "Walk to the front desk",
		Embedding: []float32{1, 0, 0},
		Source:    "sum-1",
		Timestamp: ts,
		Status:    domain.DocumentStatusApproved,
	}
	require.NoError(t, repo.Upsert(ctx, []*domain.KnowledgeDocument{doc}))

	got, err := repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Question, got.Question)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	assert.True(t, ts.Equal(got.Timestamp))

	doc.Answer = "Walk to the front desk and show ID"
	require.NoError(t, repo.Upsert(ctx, []*domain.KnowledgeDocument{doc}))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "upsert by id replaces the row")

	got, err = repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Walk to the front desk and show ID", got.Answer)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_Search(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewDocumentRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx, testDimensions))

	docs := []*domain.KnowledgeDocument{
		{ID: "badge", Question: "How do I reset my badge?", Answer: "Walk to the front desk", Embedding: []float32{1, 0, 0}},
		{ID: "parking", Question: "Where do visitors park?", Answer: "Level -2", Embedding: []float32{0, 1, 0}},
		{ID: "vpn", Content: "Connect to the VPN before opening the wiki.", Embedding: []float32{0.7, 0.7, 0}, Status: domain.DocumentStatusImported},
	}
	require.NoError(t, repo.Upsert(ctx, docs))

	semantic, err := repo.SearchSemantic(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, semantic, 3)
	assert.Equal(t, "badge", semantic[0].ID)
	assert.InDelta(t, 1.0, semantic[0].Score, 1e-4)
	assert.Equal(t, "vpn", semantic[1].ID)
	assert.Equal(t, domain.DocumentStatusImported, semantic[1].Status)
	assert.Greater(t, semantic[0].Score, semantic[1].Score)

	lexical, err := repo.SearchLexical(ctx, "badge or reset", 10)
	require.NoError(t, err)
	require.Len(t, lexical, 1)
	assert.Equal(t, "badge", lexical[0].ID)
	assert.Greater(t, lexical[0].Score, float32(0))

	none, err := repo.SearchLexical(ctx, "kitchen", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
