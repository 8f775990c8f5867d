//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/kbbot/internal/api/handlers"
	"github.com/cloo-solutions/kbbot/internal/api/middleware"
	"github.com/cloo-solutions/kbbot/internal/cache"
	"github.com/cloo-solutions/kbbot/internal/jobs"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/openai"
	"github.com/cloo-solutions/kbbot/internal/repository"
	"github.com/cloo-solutions/kbbot/internal/server"
	"github.com/cloo-solutions/kbbot/internal/service"
	"github.com/cloo-solutions/kbbot/internal/storage"
	"github.com/cloo-solutions/kbbot/internal/testutil"
)

const (
	// ReviewerToken belongs to alice, the only authorized reviewer
	ReviewerToken = "e2e-alice-token"
	// MemberToken belongs to bob, who may ask but not review
	MemberToken = "e2e-bob-token"

	archiveBucket = "test-summaries"
)

// topics are the fake embedding axes; the last dimension is a constant bias so no vector is zero
var topics = []string{"badge", "vpn", "parking", "printer", "wifi", "lunch", "password"}

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	LLM          *httptest.Server
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	History      *service.HistoryService
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers, a fake LLM and the API server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          archiveBucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	llm := httptest.NewServer(fakeLLM())

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		LLM:        llm,
		S3Client:   s3Client,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = env.startServer(port)
	return env
}

// Cleanup stops the server and background writers; containers and the pool go through t.Cleanup
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.History != nil {
		e.History.Close()
	}
	if e.LLM != nil {
		e.LLM.Close()
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries compiles the kbbot client so tests can drive it as a user would
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "kbbot-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "kbbot"), "./cmd/kbbot")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build kbbot: %v\n%s", err, out)
	}
}

// RunKbbot runs the kbbot CLI with the given token
func (e *E2ETestEnv) RunKbbot(token string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "kbbot"), args...)
	cmd.Dir = e.BinaryDir
	cmd.Env = append(os.Environ(),
		"HOME="+e.BinaryDir,
		fmt.Sprintf("KBBOT_API_TOKEN=%s", token),
		fmt.Sprintf("KBBOT_API_URL=%s", e.ServerURL),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Decode unmarshals the data envelope into v, failing the test on error
func (e *E2ETestEnv) Decode(resp *APIResponse, v interface{}) {
	e.T.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		e.T.Fatalf("failed to decode response %s: %v", resp.Data, err)
	}
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer wires the real repositories and services behind the router
func (e *E2ETestEnv) startServer(port int) (string, func()) {
	log := logger.NewNop()
	c := cache.NewMemoryCache(256, time.Minute)

	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:              "e2e",
		BaseURL:             e.LLM.URL + "/v1",
		EmbeddingDimensions: len(topics) + 1,
		Timeout:             5 * time.Second,
	})
	oracles := service.NewLLMOracles(llm)

	store := service.NewKnowledgeStore(repository.NewDocumentRepository(e.Pool), llm, len(topics)+1, log)
	if err := store.Initialize(e.Ctx); err != nil {
		e.T.Fatalf("failed to initialize knowledge store: %v", err)
	}

	history := service.NewHistoryService(repository.NewConversationRepository(e.Pool), c, log, service.HistoryConfig{
		Location: time.UTC,
	})
	e.History = history

	answers := service.NewAnswerService(store, oracles, oracles, history, repository.NewAnswerLogRepository(e.Pool),
		service.DefaultGateConfig(), log)

	dedup := service.NewDedupService(store, oracles, service.DedupConfig{MinScore: 0.75, FallbackScore: 0.9}, log)
	curation := service.NewCurationService(oracles, dedup, 8, log)

	txRunner := repository.NewTxRunner(e.Pool)
	summaries := service.NewSummaryService(repository.NewSummaryRepository(e.Pool), txRunner, c, e.S3Client, log)
	reviews := service.NewReviewService(summaries, store, txRunner,
		map[string]struct{}{"alice": {}}, log)

	scheduler := jobs.NewSummaryScheduler(summaries, history, curation, jobs.NewLogNotifier(log), jobs.SchedulerConfig{
		Hour:      18,
		Minute:    0,
		Tolerance: 5 * time.Minute,
		Location:  time.UTC,
	}, log)

	router := server.NewRouter(server.RouterConfig{
		TokenValidator: middleware.StaticTokens{
			ReviewerToken: "alice",
			MemberToken:   "bob",
		},
		Logger:              log,
		AskHandler:          handlers.NewAskHandler(answers),
		SummaryHandler:      handlers.NewSummaryHandler(summaries, reviews, scheduler),
		KnowledgeHandler:    handlers.NewKnowledgeHandler(store),
		ConversationHandler: handlers.NewConversationHandler(history),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// fakeLLM answers embeddings with topic vectors and completions by role, keyed on the system prompt
func fakeLLM() http.Handler {
	r := chi.NewRouter()

	r.Post("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := goopenai.EmbeddingResponse{Object: "list", Model: goopenai.SmallEmbedding3}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, goopenai.Embedding{
				Object:    "embedding",
				Embedding: topicVector(text),
				Index:     i,
			})
		}
		writeJSON(w, resp)
	})

	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req goopenai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 0 {
			http.Error(w, "no messages", http.StatusBadRequest)
			return
		}

		system := req.Messages[0].Content
		user := strings.ToLower(req.Messages[len(req.Messages)-1].Content)

		writeJSON(w, goopenai.ChatCompletionResponse{
			ID:     "chatcmpl-e2e",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []goopenai.ChatCompletionChoice{{
				Message: goopenai.ChatCompletionMessage{
					Role:    goopenai.ChatMessageRoleAssistant,
					Content: cannedReply(system, user),
				},
				FinishReason: goopenai.FinishReasonStop,
			}},
		})
	})

	return r
}

func cannedReply(system, user string) string {
	switch {
	case strings.Contains(system, "strict grader"):
		if strings.Contains(user, "question: how do i reset my badge") {
			return `{"confidence": 0.95, "relevant_chunks": [1], "reasoning": "chunk 1 covers badge resets"}`
		}
		return `{"confidence": 0.1, "relevant_chunks": [], "reasoning": "nothing relevant"}`
	case strings.Contains(system, "You answer questions"):
		return "Bring your ID to the front desk and they will reset your badge."
	case strings.Contains(system, "You extract reusable"):
		if strings.Contains(user, "printer") {
			return `[{"question": "How do I add the office printer?", "answer": "Install the driver from the IT portal, then pick PRN-2."}]`
		}
		return "[]"
	case strings.Contains(system, "duplicates existing knowledge"):
		return "UNIQUE"
	}
	return "I don't know"
}

func topicVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(topics)+1)
	for i, topic := range topics {
		if strings.Contains(lower, topic) {
			v[i] = 1
		}
	}
	v[len(topics)] = 0.2
	return v
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
