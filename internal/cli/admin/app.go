package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/kbbot/internal/cache"
	"github.com/cloo-solutions/kbbot/internal/config"
	"github.com/cloo-solutions/kbbot/internal/database"
	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/jobs"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/openai"
	"github.com/cloo-solutions/kbbot/internal/repository"
	"github.com/cloo-solutions/kbbot/internal/service"
	"github.com/cloo-solutions/kbbot/internal/storage"
)

const redisKeyPrefix = "kbbot:"

// app holds every wired component of the daemon
type app struct {
	cfg *config.Config
	log *logger.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	store     *service.KnowledgeStore
	history   *service.HistoryService
	answers   *service.AnswerService
	curation  *service.CurationService
	summaries *service.SummaryService
	reviews   *service.ReviewService
	scheduler *jobs.SummaryScheduler
}

// newApp connects to Postgres and builds the service graph. The caller owns
// the returned app and must Close it.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	if !cfg.HasOpenAI() {
		return nil, fmt.Errorf("%w: set KBBOT_OPENAI_API_KEY", domain.ErrOracleUnavailable)
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DatabaseMaxConns,
		MaxConnIdleTime: cfg.DatabaseMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{cfg: cfg, log: log, pool: pool}

	c, err := a.buildCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	archive, err := a.buildArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		ChatModel:           cfg.ChatModel,
		BatchSize:           cfg.EmbeddingBatchSize,
		Timeout:             cfg.OracleTimeout,
	})
	oracles := service.NewLLMOracles(llm)

	a.store = service.NewKnowledgeStore(repository.NewDocumentRepository(pool), llm, cfg.EmbeddingDimensions, log)

	a.history = service.NewHistoryService(repository.NewConversationRepository(pool), c, log, service.HistoryConfig{
		IdleTimeout: cfg.HistoryIdleTimeout,
		Location:    cfg.Location(),
	})

	a.answers = service.NewAnswerService(a.store, oracles, oracles, a.history, repository.NewAnswerLogRepository(pool), service.GateConfig{
		TopK:                cfg.RetrievalTopK,
		MinScore:            float32(cfg.RetrievalMinScore),
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		CaveatThreshold:     cfg.CaveatThreshold,
	}, log)

	dedup := service.NewDedupService(a.store, oracles, service.DedupConfig{
		MinScore:      float32(cfg.DedupMinScore),
		FallbackScore: float32(cfg.DedupFallbackScore),
	}, log)
	a.curation = service.NewCurationService(oracles, dedup, cfg.MinMessageLength, log)

	txRunner := repository.NewTxRunner(pool)
	a.summaries = service.NewSummaryService(repository.NewSummaryRepository(pool), txRunner, c, archive, log)
	a.reviews = service.NewReviewService(a.summaries, a.store, txRunner, cfg.ReviewerSet(), log)

	hour, minute, err := cfg.SummaryClock()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.scheduler = jobs.NewSummaryScheduler(a.summaries, a.history, a.curation, a.notifier(), jobs.SchedulerConfig{
		Hour:      hour,
		Minute:    minute,
		Tolerance: cfg.SummaryTolerance,
		Location:  cfg.Location(),
	}, log)

	return a, nil
}

func (a *app) buildCache(ctx context.Context) (cache.Cache, error) {
	if !a.cfg.HasRedis() {
		a.log.Info("using in-process cache", "size", a.cfg.CacheSize, "ttl", a.cfg.CacheTTL.String())
		return cache.NewMemoryCache(a.cfg.CacheSize, a.cfg.CacheTTL), nil
	}

	client, err := cache.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = client
	a.log.Info("using redis cache", "addr", a.cfg.RedisAddr)
	return cache.NewRedisCache(client, redisKeyPrefix, a.cfg.CacheTTL), nil
}

func (a *app) buildArchive(ctx context.Context) (service.SummaryArchive, error) {
	if !a.cfg.HasS3() {
		return nil, nil
	}

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        a.cfg.S3Endpoint,
		Region:          a.cfg.S3Region,
		AccessKeyID:     a.cfg.S3AccessKey,
		SecretAccessKey: a.cfg.S3SecretKey,
		Bucket:          a.cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	a.log.Info("summary archive ready", "bucket", a.cfg.S3Bucket)
	return s3Client, nil
}

func (a *app) notifier() jobs.Notifier {
	if a.cfg.NotifyWebhookURL != "" {
		return jobs.NewWebhookNotifier(a.cfg.NotifyWebhookURL, a.cfg.OracleTimeout)
	}
	return jobs.NewLogNotifier(a.log)
}

// Close drains history writes and releases connections
func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// loadRuntime reads config and builds the logger every admin command starts with
func loadRuntime() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Environment, true)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
