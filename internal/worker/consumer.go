// Package worker consumes indexing jobs from the job queue and drives the
// indexer. One consumer processes leases sequentially, so jobs for a project
// never overlap within a worker; cross-worker serialization is enforced at
// enqueue time by the indexer's active-job gate.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/queue"
	"github.com/S-Corkum/prd-engine/internal/repository"
)

// defaultIdleDelay paces polling when the queue is empty
const defaultIdleDelay = 2 * time.Second

// JobRunner executes one indexing job to completion
type JobRunner interface {
	RunJob(ctx context.Context, jobID uuid.UUID) error
}

// Consumer is the worker loop
type Consumer struct {
	queue     queue.JobQueue
	runner    JobRunner
	repo      repository.Repository
	workerID  string
	idleDelay time.Duration
	logger    observability.Logger
	metrics   *observability.MetricsClient
}

// NewConsumer creates a worker consumer
func NewConsumer(q queue.JobQueue, runner JobRunner, repo repository.Repository,
	workerID string, logger observability.Logger, metrics *observability.MetricsClient) *Consumer {
	return &Consumer{
		queue:     q,
		runner:    runner,
		repo:      repo,
		workerID:  workerID,
		idleDelay: defaultIdleDelay,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run processes jobs until the context is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("worker started", map[string]interface{}{"worker_id": c.workerID})
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("worker stopped", map[string]interface{}{"worker_id": c.workerID})
			return nil
		}
		processed, err := c.ProcessOne(ctx)
		if err != nil {
			c.logger.Error("queue poll failed", map[string]interface{}{
				"worker_id": c.workerID,
				"error":     err.Error(),
			})
		}
		if !processed {
			select {
			case <-ctx.Done():
			case <-time.After(c.idleDelay):
			}
		}
	}
}

// ProcessOne leases and handles at most one job. It reports whether a
// message was received; an empty queue is not an error.
func (c *Consumer) ProcessOne(ctx context.Context) (bool, error) {
	lease, err := c.queue.Lease(ctx, c.workerID)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, nil
	}
	msg := lease.Message

	if _, err := c.repo.GetJob(ctx, msg.JobID); err != nil {
		// A job without a record can never run; drop the delivery.
		return true, c.queue.Fail(ctx, lease, err.Error(), false)
	}

	started := time.Now()
	runErr := c.runner.RunJob(ctx, msg.JobID)
	c.metrics.RecordTimer("worker.job", time.Since(started), map[string]string{
		"job_type": string(msg.JobType),
	})
	if runErr == nil {
		return true, c.queue.Ack(ctx, lease)
	}

	job, err := c.repo.GetJob(ctx, msg.JobID)
	if err != nil {
		return true, c.queue.Fail(ctx, lease, runErr.Error(), false)
	}

	retryable := models.KindOf(runErr).Retryable() && msg.Attempt+1 <= job.MaxRetries
	job.RetryCount = msg.Attempt + 1
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		c.logger.Warn("failed to record job retry count", map[string]interface{}{
			"job_id": msg.JobID,
			"error":  err.Error(),
		})
	}
	c.logger.Error("indexing job failed", map[string]interface{}{
		"worker_id": c.workerID,
		"job_id":    msg.JobID,
		"attempt":   msg.Attempt,
		"retryable": retryable,
		"error":     runErr.Error(),
	})
	return true, c.queue.Fail(ctx, lease, runErr.Error(), retryable)
}
