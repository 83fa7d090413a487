package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/queue"
	"github.com/S-Corkum/prd-engine/internal/repository"
)

// scriptedRunner fails the first n runs with err, then succeeds
type scriptedRunner struct {
	mu       sync.Mutex
	failures int
	err      error
	runs     []uuid.UUID
}

func (r *scriptedRunner) RunJob(ctx context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, jobID)
	if r.failures > 0 {
		r.failures--
		return r.err
	}
	return nil
}

func (r *scriptedRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func seedJob(t *testing.T, repo repository.Repository) *models.IndexingJob {
	t.Helper()
	ctx := context.Background()
	project := &models.CodebaseProject{
		RepositoryURL:    "https://github.com/o/r",
		RepositoryBranch: "main",
	}
	require.NoError(t, repo.CreateProject(ctx, project))
	job := &models.IndexingJob{ProjectID: project.ID, JobType: models.JobInitialIndex}
	require.NoError(t, repo.CreateJob(ctx, job))
	return job
}

func newConsumer(q queue.JobQueue, runner JobRunner, repo repository.Repository) *Consumer {
	c := NewConsumer(q, runner, repo, "worker-test",
		observability.NewNoopLogger(), observability.NewMetricsClient())
	c.idleDelay = time.Millisecond
	return c
}

func TestProcessOneSuccess(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	job := seedJob(t, repo)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, queue.JobMessage{
		JobID: job.ID, ProjectID: job.ProjectID, JobType: job.JobType,
	}))

	runner := &scriptedRunner{}
	processed, err := newConsumer(q, runner, repo).ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, runner.runCount())
	assert.Zero(t, q.Depth())
}

func TestProcessOneRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	job := seedJob(t, repo)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, queue.JobMessage{
		JobID: job.ID, ProjectID: job.ProjectID, JobType: job.JobType,
	}))

	runner := &scriptedRunner{
		failures: 1,
		err:      models.NewError(models.ErrProcessingFailed, "rate limited"),
	}
	consumer := newConsumer(q, runner, repo)

	processed, err := consumer.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, q.Depth(), "transient failure re-enqueues")

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)

	// The redelivery succeeds and drains the queue.
	processed, err = consumer.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Zero(t, q.Depth())
}

func TestProcessOneDropsAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	job := seedJob(t, repo)
	q := queue.NewMemoryQueue()

	runner := &scriptedRunner{
		failures: 10,
		err:      models.NewError(models.ErrProcessingFailed, "still broken"),
	}
	consumer := newConsumer(q, runner, repo)

	require.NoError(t, q.Enqueue(ctx, queue.JobMessage{
		JobID: job.ID, ProjectID: job.ProjectID, JobType: job.JobType,
	}))
	// MaxRetries is 3: attempts 0..3 run, the last one is dropped.
	for i := 0; i < 4; i++ {
		processed, err := consumer.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}
	assert.Zero(t, q.Depth())
	assert.Equal(t, 4, runner.runCount())
}

func TestProcessOneFatalErrorDrops(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	job := seedJob(t, repo)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, queue.JobMessage{
		JobID: job.ID, ProjectID: job.ProjectID, JobType: job.JobType,
	}))

	runner := &scriptedRunner{
		failures: 1,
		err:      models.NewError(models.ErrValidation, "bad repository url"),
	}
	processed, err := newConsumer(q, runner, repo).ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Zero(t, q.Depth(), "validation failures never retry")
}

func TestProcessOneUnknownJobDropped(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, queue.JobMessage{JobID: uuid.New()}))

	runner := &scriptedRunner{}
	processed, err := newConsumer(q, runner, repo).ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Zero(t, runner.runCount())
	assert.Zero(t, q.Depth())
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	repo := repository.NewMemoryRepository()
	job := seedJob(t, repo)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, queue.JobMessage{
		JobID: job.ID, ProjectID: job.ProjectID, JobType: job.JobType,
	}))

	runner := &scriptedRunner{}
	consumer := newConsumer(q, runner, repo)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.runCount() == 1 },
		time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
