package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/S-Corkum/prd-engine/internal/adapters/github"
	"github.com/S-Corkum/prd-engine/internal/chunking"
	"github.com/S-Corkum/prd-engine/internal/config"
	"github.com/S-Corkum/prd-engine/internal/embedding"
	"github.com/S-Corkum/prd-engine/internal/indexer"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/queue"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/worker"
)

// The worker drains the indexing job queue: it crawls registered
// repositories, chunks and embeds their files, and persists the results the
// API's retrieval path reads.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("worker")
	metrics := observability.NewMetricsClient()

	var projects repository.Repository
	if cfg.Database.Skip {
		logger.Warn("database skipped, indexing results stay in memory", nil)
		projects = repository.NewMemoryRepository()
	} else {
		db, err := sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
		projects = repository.NewPostgresRepository(db)
	}

	var embedder embedding.Service
	if cfg.Embedding.APIKey != "" {
		embedder, err = embedding.NewOpenAIService(cfg.Embedding.APIKey, cfg.Embedding.Model,
			cfg.Embedding.RatePerSecond, cfg.Embedding.Burst)
		if err != nil {
			log.Fatalf("Failed to build embedding service: %v", err)
		}
	} else {
		logger.Warn("no embedding credentials, using deterministic embeddings", nil)
		embedder = embedding.NewDeterministicService()
	}

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
		log.Fatalf("Worker requires a queue url; in-memory queues only exist inside the api process")
	} else {
		jobQueue, err = queue.NewSQSQueue(ctx, cfg.Queue.QueueURL, logger)
		if err != nil {
			log.Fatalf("Failed to build queue client: %v", err)
		}
	}

	consumer := worker.NewConsumer(jobQueue, ix, projects, workerIdentity(), logger, metrics)
	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}

func workerIdentity() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-" + uuid.NewString()[:8]
}
