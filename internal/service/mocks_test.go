package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/pagination"
)

// MockDocumentRepository is a mock implementation of DocumentRepositoryInterface
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Upsert(ctx context.Context, docs []*domain.KnowledgeDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *MockDocumentRepository) EnsureSchema(ctx context.Context, dimensions int) error {
	args := m.Called(ctx, dimensions)
	return args.Error(0)
}

func (m *MockDocumentRepository) SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]*domain.SearchResult, error) {
	args := m.Called(ctx, embedding, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SearchResult), args.Error(1)
}

func (m *MockDocumentRepository) SearchLexical(ctx context.Context, query string, limit int) ([]*domain.SearchResult, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SearchResult), args.Error(1)
}

func (m *MockDocumentRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeDocument), args.Error(1)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockSearcher is a mock implementation of KnowledgeSearcher and StrictSearcher
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SearchStrict(ctx context.Context, q SearchQuery) ([]*domain.SearchResult, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SearchResult), args.Error(1)
}

func (m *MockSearcher) Search(ctx context.Context, q SearchQuery) []*domain.SearchResult {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*domain.SearchResult)
}

// MockScorer is a mock implementation of RelevanceScorer
type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Score(ctx context.Context, question string, chunks []*domain.SearchResult) (*RelevanceAssessment, error) {
	args := m.Called(ctx, question, chunks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RelevanceAssessment), args.Error(1)
}

// MockGenerator is a mock implementation of AnswerGenerator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, input GenerateInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

// MockHistory is a mock implementation of ConversationHistory
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) Recent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ConversationMessage), args.Error(1)
}

func (m *MockHistory) AppendAsync(ctx context.Context, msg domain.ConversationMessage) {
	m.Called(ctx, msg)
}

// MockAnswerLogRepository is a mock implementation of AnswerLogRepository
type MockAnswerLogRepository struct {
	mock.Mock
}

func (m *MockAnswerLogRepository) CreateAnswerLog(ctx context.Context, entry AnswerLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// MockValidator is a mock implementation of DuplicateValidator
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context, pair domain.QAPair, matches []*domain.SearchResult) (DuplicateVerdict, error) {
	args := m.Called(ctx, pair, matches)
	return args.Get(0).(DuplicateVerdict), args.Error(1)
}

// MockExtractor is a mock implementation of Extractor
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, conversationID string, messages []domain.ConversationMessage) ([]domain.QAPair, error) {
	args := m.Called(ctx, conversationID, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.QAPair), args.Error(1)
}

// MockPairFilter is a mock implementation of PairFilter
type MockPairFilter struct {
	mock.Mock
}

func (m *MockPairFilter) Filter(ctx context.Context, pairs []domain.QAPair) []domain.QAPair {
	args := m.Called(ctx, pairs)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.QAPair)
}

// MockLLMClient is a mock implementation of LLMClient
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

// MockSummaryRepository is a mock implementation of SummaryRepositoryInterface
type MockSummaryRepository struct {
	mock.Mock
}

func (m *MockSummaryRepository) Create(ctx context.Context, s *domain.KBSummary) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSummaryRepository) GetByID(ctx context.Context, id string) (*domain.KBSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KBSummary), args.Error(1)
}

func (m *MockSummaryRepository) UpdateStatus(ctx context.Context, update SummaryStatusUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

func (m *MockSummaryRepository) MarkSuperseded(ctx context.Context, ids []string, at time.Time) error {
	args := m.Called(ctx, ids, at)
	return args.Error(0)
}

func (m *MockSummaryRepository) ListByStatus(ctx context.Context, status domain.SummaryStatus, limit int) ([]*domain.KBSummary, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KBSummary), args.Error(1)
}

func (m *MockSummaryRepository) ListWithCursor(ctx context.Context, status domain.SummaryStatus, cursor *pagination.Cursor, limit int) (*SummaryPageResult, error) {
	args := m.Called(ctx, status, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SummaryPageResult), args.Error(1)
}

// MockArchive is a mock implementation of SummaryArchive
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) PutJSON(ctx context.Context, key string, v any) error {
	args := m.Called(ctx, key, v)
	return args.Error(0)
}

// MockDocumentEmbedder is a mock implementation of DocumentEmbedder
type MockDocumentEmbedder struct {
	mock.Mock
}

func (m *MockDocumentEmbedder) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDocumentEmbedder) Embed(ctx context.Context, docs []*domain.KnowledgeDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

// MockDocumentWriter is a mock implementation of DocumentWriter
type MockDocumentWriter struct {
	mock.Mock
}

func (m *MockDocumentWriter) Upsert(ctx context.Context, docs []*domain.KnowledgeDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

// mockTxRepos hands out the same mocks the test configured
type mockTxRepos struct {
	docs      DocumentWriter
	summaries SummaryRepositoryInterface
}

func (r *mockTxRepos) Documents() DocumentWriter              { return r.docs }
func (r *mockTxRepos) Summaries() SummaryRepositoryInterface { return r.summaries }

// fakeTxRunner runs fn directly against the configured repositories
type fakeTxRunner struct {
	repos *mockTxRepos
	calls int
}

func (f *fakeTxRunner) WithTx(_ context.Context, fn func(repos TxRepositories) error) error {
	f.calls++
	return fn(f.repos)
}

// MockConversationRepository is a mock implementation of ConversationRepositoryInterface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Append(ctx context.Context, msg *domain.ConversationMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockConversationRepository) Recent(ctx context.Context, conversationID string, limit int) ([]domain.ConversationMessage, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ConversationMessage), args.Error(1)
}

func (m *MockConversationRepository) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ConversationMessage, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ConversationMessage), args.Error(1)
}

// MockUUIDGenerator returns the configured ids in order
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		id := m.uuids[m.callCount]
		m.callCount++
		return id
	}
	return "default-uuid"
}
