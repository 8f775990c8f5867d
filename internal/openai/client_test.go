package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

// MockOpenAIAPI is a mock for the OpenAI API
type MockOpenAIAPI struct {
	mock.Mock
}

func (m *MockOpenAIAPI) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockOpenAIAPI) CreateChatCompletion(ctx context.Context, messages []domain.ChatMessage, temperature float32) (string, error) {
	args := m.Called(ctx, messages, temperature)
	return args.String(0), args.Error(1)
}

func newTestClient(api API, dims, batch int) *Client {
	c := newClient(api, Config{EmbeddingDimensions: dims, BatchSize: batch})
	c.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func vec(dims int, v float32) []float32 {
	out := make([]float32, dims)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestClient_GenerateEmbedding_Success(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := newTestClient(mockAPI, 4, 10)

	text := "How do I reset my badge?"
	expected := vec(4, 0.25)
	mockAPI.On("CreateEmbeddings", mock.Anything, []string{text}).Return([][]float32{expected}, nil)

	embedding, err := client.GenerateEmbedding(context.Background(), text)

	require.NoError(t, err)
	assert.Equal(t, expected, embedding)
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbedding_EmptyText(t *testing.T) {
	client := NewClient("")

	embedding, err := client.GenerateEmbedding(context.Background(), "   ")

	assert.Nil(t, embedding)
	assert.Equal(t, ErrEmptyText, err)
}

func TestClient_GenerateEmbedding_WrongDimensions(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := newTestClient(mockAPI, 1536, 10)

	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"x"}).Return([][]float32{vec(512, 0)}, nil)

	embedding, err := client.GenerateEmbedding(context.Background(), "x")

	assert.Nil(t, embedding)
	assert.ErrorIs(t, err, ErrWrongDimensions)
}

func TestClient_GenerateEmbeddings_Batches(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := newTestClient(mockAPI, 2, 2)

	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"a", "b"}).Return([][]float32{vec(2, 1), vec(2, 2)}, nil).Once()
	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"c"}).Return([][]float32{vec(2, 3)}, nil).Once()

	embeddings, err := client.GenerateEmbeddings(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	require.Len(t, embeddings, 3)
	assert.Equal(t, vec(2, 3), embeddings[2])
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbeddings_RetriesTransientErrors(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := newTestClient(mockAPI, 2, 10)

	transient := &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"a"}).Return(nil, transient).Twice()
	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"a"}).Return([][]float32{vec(2, 1)}, nil).Once()

	embeddings, err := client.GenerateEmbeddings(context.Background(), []string{"a"})

	require.NoError(t, err)
	assert.Len(t, embeddings, 1)
	mockAPI.AssertNumberOfCalls(t, "CreateEmbeddings", 3)
}

func TestClient_GenerateEmbeddings_GivesUpAfterMaxAttempts(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := newTestClient(mockAPI, 2, 10)

	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"a"}).Return(nil, errors.New("connection reset"))

	_, err := client.GenerateEmbeddings(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create embedding")
	mockAPI.AssertNumberOfCalls(t, "CreateEmbeddings", maxAttempts)
}

func TestClient_GenerateEmbeddings_ClientErrorIsPermanent(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := newTestClient(mockAPI, 2, 10)

	mockAPI.On("CreateEmbeddings", mock.Anything, []string{"a"}).
		Return(nil, &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad input"})

	_, err := client.GenerateEmbeddings(context.Background(), []string{"a"})

	require.Error(t, err)
	mockAPI.AssertNumberOfCalls(t, "CreateEmbeddings", 1)
}

func TestClient_Complete(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := newTestClient(mockAPI, 2, 10)

	msgs := []domain.ChatMessage{
		{Role: domain.MessageRoleSystem, Content: "be strict"},
		{Role: domain.MessageRoleUser, Content: "hi"},
	}
	mockAPI.On("CreateChatCompletion", mock.Anything, msgs, float32(0)).Return("  hello \n", nil)

	reply, err := client.Complete(context.Background(), msgs)

	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
}

func TestClient_Complete_NoMessages(t *testing.T) {
	client := NewClient("")

	_, err := client.Complete(context.Background(), nil)

	assert.Equal(t, ErrNoMessages, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.True(t, isRetryable(&openai.RequestError{HTTPStatusCode: http.StatusBadGateway}))
	assert.True(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}))
	assert.False(t, isRetryable(context.Canceled))
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key")

	assert.NotNil(t, client)
	assert.NotNil(t, client.api)
	assert.Equal(t, DefaultEmbeddingDimensions, client.Dimensions())
}
