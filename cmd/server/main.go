package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/S-Corkum/prd-engine/internal/adapters/github"
	"github.com/S-Corkum/prd-engine/internal/api"
	"github.com/S-Corkum/prd-engine/internal/cache"
	"github.com/S-Corkum/prd-engine/internal/chunking"
	"github.com/S-Corkum/prd-engine/internal/config"
	"github.com/S-Corkum/prd-engine/internal/embedding"
	"github.com/S-Corkum/prd-engine/internal/engine"
	"github.com/S-Corkum/prd-engine/internal/indexer"
	"github.com/S-Corkum/prd-engine/internal/mockup"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/providers"
	"github.com/S-Corkum/prd-engine/internal/queue"
	"github.com/S-Corkum/prd-engine/internal/rag"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/storage"
	"github.com/S-Corkum/prd-engine/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("server")
	metrics := observability.NewMetricsClient()

	deps, cleanup, err := buildDeps(ctx, cfg, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to wire services: %v", err)
	}
	defer cleanup()

	server := api.NewServer(deps, cfg.API)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// buildDeps wires the full service graph from configuration. SKIP_DATABASE
// swaps every external collaborator for its in-memory variant, which keeps
// local development and CI off AWS and Postgres.
func buildDeps(ctx context.Context, cfg *config.Config, logger observability.Logger,
	metrics *observability.MetricsClient) (api.Deps, func(), error) {

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var st store.Store
	var projects repository.Repository
	if cfg.Database.Skip {
		logger.Warn("database skipped, using in-memory stores", nil)
		st = store.NewMemoryStore()
		projects = repository.NewMemoryRepository()
	} else {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return api.Deps{}, cleanup, err
		}
		cleanups = append(cleanups, func() { _ = db.Close() })
		st = store.NewPostgresStore(db)
		projects = repository.NewPostgresRepository(db)
	}

	orchestrator, err := buildOrchestrator(ctx, cfg.Providers, logger, metrics)
	if err != nil {
		return api.Deps{}, cleanup, err
	}

	var embedder embedding.Service
	if cfg.Embedding.APIKey != "" {
		embedder, err = embedding.NewOpenAIService(cfg.Embedding.APIKey, cfg.Embedding.Model,
			cfg.Embedding.RatePerSecond, cfg.Embedding.Burst)
		if err != nil {
			return api.Deps{}, cleanup, err
		}
	} else {
		logger.Warn("no embedding credentials, using deterministic embeddings", nil)
		embedder = embedding.NewDeterministicService()
	}

	var objects storage.MockupStorage
	if cfg.Database.Skip {
		objects = storage.NewMemoryStorage()
	} else {
		objects, err = storage.NewS3Storage(ctx, storage.S3Config{
			Region:   cfg.Storage.Region,
			Bucket:   cfg.Storage.Bucket,
			Endpoint: cfg.Storage.Endpoint,
		}, logger)
		if err != nil {
			return api.Deps{}, cleanup, err
		}
	}

	var analysisCache cache.Cache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			Database: cfg.Cache.DB,
		})
		if err != nil {
			return api.Deps{}, cleanup, err
		}
		cleanups = append(cleanups, func() { _ = redisCache.Close() })
		analysisCache = redisCache
	} else {
		analysisCache = cache.NewMemoryCache()
	}

	mockups := mockup.NewAnalyzer(st, objects, orchestrator, analysisCache, logger)
	retriever := rag.NewRetriever(projects, embedder, 0, 0, logger)

	host := github.NewClient(cfg.Indexer.GitHubToken, logger)
	chunker := chunking.NewService(cfg.Indexer.ChunkTargetSize, cfg.Indexer.ChunkOverlap)
	ix := indexer.New(host, projects, chunker, embedder, indexer.Options{
		BatchSize:   cfg.Indexer.BatchSize,
		BatchDelay:  cfg.Indexer.BatchDelay,
		MaxRetries:  cfg.Indexer.MaxRetries,
		MaxFileSize: cfg.Indexer.MaxFileSize,
	}, logger, metrics)

	var jobQueue queue.JobQueue
	if cfg.Queue.InMemory || cfg.Queue.QueueURL == "" {
		logger.Warn("no queue url configured, indexing jobs stay in memory", nil)
		jobQueue = queue.NewMemoryQueue()
	} else {
		jobQueue, err = queue.NewSQSQueue(ctx, cfg.Queue.QueueURL, logger)
		if err != nil {
			return api.Deps{}, cleanup, err
		}
	}

	eng := engine.New(st, projects, orchestrator, mockups, retriever, engine.Options{
		ClarificationsEnabled: cfg.Providers.EnableClarifications,
	}, logger, metrics)
	contexts := engine.NewContextService(st, projects, retriever, logger)

	return api.Deps{
		Store:        st,
		Projects:     projects,
		Engine:       eng,
		Contexts:     contexts,
		Indexer:      ix,
		Queue:        jobQueue,
		Retriever:    retriever,
		Mockups:      mockups,
		Storage:      objects,
		Orchestrator: orchestrator,
		Logger:       logger,
		Metrics:      metrics,
	}, cleanup, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	return db, nil
}

// buildOrchestrator assembles the provider chain from whichever credentials
// are configured. With no credentials at all the mock provider keeps the
// workflow usable for local development.
func buildOrchestrator(ctx context.Context, cfg config.ProvidersConfig,
	logger observability.Logger, metrics *observability.MetricsClient) (*providers.Orchestrator, error) {

	maxPrivacy, err := providers.ParsePrivacyLevel(cfg.MaxPrivacyLevel)
	if err != nil {
		return nil, err
	}

	var provs []providers.Provider
	if cfg.OpenAIAPIKey != "" {
		provs = append(provs, providers.NewOpenAIProvider(cfg.OpenAIAPIKey, "gpt-4o", 1))
	}
	if cfg.GeminiAPIKey != "" {
		provs = append(provs, providers.NewGeminiProvider(cfg.GeminiAPIKey, "gemini-1.5-pro", 2))
	}
	if cfg.BedrockRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			return nil, err
		}
		provs = append(provs, providers.NewBedrockProvider(
			bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID, 3))
	}
	if len(provs) == 0 {
		logger.Warn("no provider credentials configured, using mock provider", nil)
		provs = append(provs, providers.NewMockProvider("mock", 1, providers.PrivacyOnDevice))
	}

	return providers.NewOrchestrator(provs, maxPrivacy, cfg.PreferredProvider, logger, metrics), nil
}
