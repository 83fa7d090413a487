// Package indexer turns a remote repository into searchable, embedded code
// chunks. Registration is synchronous and cheap; the actual index run is an
// asynchronous job processed by a worker. A Merkle tree over (path, hash,
// size) makes incremental re-indexing a leaf diff instead of a full crawl.
package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/S-Corkum/prd-engine/internal/adapters/github"
	"github.com/S-Corkum/prd-engine/internal/chunking"
	"github.com/S-Corkum/prd-engine/internal/embedding"
	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/repository"
)

// RepoHost is the repository-host port the indexer crawls through
type RepoHost interface {
	ResolveBranchSHA(ctx context.Context, owner, repo, branch string) (string, error)
	FetchTree(ctx context.Context, owner, repo, commitSHA string) ([]github.TreeEntry, error)
	FetchLanguages(ctx context.Context, owner, repo string) (map[string]int64, error)
	FetchBlob(ctx context.Context, owner, repo, sha string) ([]byte, error)
}

// Options tune the indexing pipeline
type Options struct {
	BatchSize   int           // files fetched and embedded per batch
	BatchDelay  time.Duration // pause between batches to respect API quotas
	MaxRetries  int           // transient-failure retries per batch
	MaxFileSize int64         // blobs above this are skipped
	Concurrency int           // parallel blob fetches within a batch
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = 500 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 1 << 20
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// Indexer coordinates crawling, chunking, embedding, and persistence
type Indexer struct {
	host     RepoHost
	repo     repository.Repository
	chunker  *chunking.Service
	embedder embedding.Service
	opts     Options
	logger   observability.Logger
	metrics  *observability.MetricsClient
}

// New creates an indexer
func New(host RepoHost, repo repository.Repository, chunker *chunking.Service,
	embedder embedding.Service, opts Options, logger observability.Logger,
	metrics *observability.MetricsClient) *Indexer {
	opts.applyDefaults()
	return &Indexer{
		host:     host,
		repo:     repo,
		chunker:  chunker,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterProject registers a codebase for indexing. (url, branch) is the
// project identity: re-registering an existing pair returns the existing
// project with no new job, unless force is set, which enqueues a re-index.
func (ix *Indexer) RegisterProject(ctx context.Context, repositoryURL, branch string, force bool) (*models.CodebaseProject, *models.IndexingJob, error) {
	owner, repo, err := github.ParseRepositoryURL(repositoryURL)
	if err != nil {
		return nil, nil, err
	}
	if branch == "" {
		branch = "main"
	}

	existing, err := ix.repo.GetProjectByRepo(ctx, repositoryURL, branch)
	if err == nil {
		if !force {
			return existing, nil, nil
		}
		job, err := ix.enqueueJob(ctx, existing, models.JobReIndex)
		if err != nil {
			return nil, nil, err
		}
		return existing, job, nil
	}
	if !models.IsKind(err, models.ErrNotFound) {
		return nil, nil, err
	}

	project := &models.CodebaseProject{
		RepositoryURL:    repositoryURL,
		RepositoryBranch: branch,
		RepositoryType:   "github",
	}
	if err := ix.repo.CreateProject(ctx, project); err != nil {
		// Lost a race to a concurrent registration: return the winner.
		if models.IsKind(err, models.ErrConflict) {
			winner, getErr := ix.repo.GetProjectByRepo(ctx, repositoryURL, branch)
			if getErr == nil {
				return winner, nil, nil
			}
		}
		return nil, nil, err
	}
	ix.logger.Info("registered codebase project", map[string]interface{}{
		"project_id": project.ID,
		"owner":      owner,
		"repo":       repo,
		"branch":     branch,
	})

	job, err := ix.enqueueJob(ctx, project, models.JobInitialIndex)
	if err != nil {
		return nil, nil, err
	}
	return project, job, nil
}

// enqueueJob creates a job record unless an equivalent full-index job is
// already queued or running for the project
func (ix *Indexer) enqueueJob(ctx context.Context, project *models.CodebaseProject, jobType models.IndexingJobType) (*models.IndexingJob, error) {
	if jobType == models.JobInitialIndex || jobType == models.JobReIndex {
		active, err := ix.repo.HasActiveJob(ctx, project.ID, models.JobInitialIndex, models.JobReIndex)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, models.NewErrorf(models.ErrConflict,
				"project %s already has an active indexing job", project.ID)
		}
	}
	job := &models.IndexingJob{
		ProjectID:  project.ID,
		JobType:    jobType,
		Status:     models.JobQueued,
		MaxRetries: models.DefaultJobMaxRetries,
	}
	if err := ix.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RunJob executes one indexing job to completion. Progress counters on the
// job only ever increase; failures record the reason and mark the project
// failed without touching already-persisted chunks.
func (ix *Indexer) RunJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := ix.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	project, err := ix.repo.GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	started := time.Now().UTC()
	job.Status = models.JobRunning
	job.StartedAt = &started
	if err := ix.repo.UpdateJob(ctx, job); err != nil {
		return err
	}
	project.IndexingStatus = models.IndexingRunning
	if err := ix.repo.UpdateProject(ctx, project); err != nil {
		return err
	}

	runErr := ix.runIndex(ctx, project, job)

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	if runErr != nil {
		job.Status = models.JobFailed
		job.Error = runErr.Error()
		project.IndexingStatus = models.IndexingFailed
	} else {
		job.Status = models.JobCompleted
		project.IndexingStatus = models.IndexingCompleted
		project.IndexingProgress = 100
	}
	if err := ix.repo.UpdateJob(ctx, job); err != nil {
		return err
	}
	if err := ix.repo.UpdateProject(ctx, project); err != nil {
		return err
	}
	ix.metrics.RecordTimer("indexer.job.duration", time.Since(started), map[string]string{
		"job_type": string(job.JobType),
		"status":   string(job.Status),
	})
	return runErr
}

func (ix *Indexer) runIndex(ctx context.Context, project *models.CodebaseProject, job *models.IndexingJob) error {
	owner, repo, err := github.ParseRepositoryURL(project.RepositoryURL)
	if err != nil {
		return err
	}

	sha, err := ix.host.ResolveBranchSHA(ctx, owner, repo, project.RepositoryBranch)
	if err != nil {
		return err
	}
	entries, err := ix.host.FetchTree(ctx, owner, repo, sha)
	if err != nil {
		return err
	}

	blobs := filterIndexable(entries, ix.opts.MaxFileSize)
	leaves := make([]MerkleLeaf, len(blobs))
	for i, entry := range blobs {
		leaves[i] = MerkleLeaf{Path: entry.Path, FileHash: entry.SHA, FileSize: entry.Size}
	}
	tree := BuildMerkleTree(leaves)

	// Incremental runs only touch files whose Merkle leaf changed. The
	// initial index diffs against an empty tree, so it processes everything.
	previous := map[string]string{}
	if job.JobType != models.JobInitialIndex {
		previous, err = ix.repo.LeafHashes(ctx, project.ID)
		if err != nil {
			return err
		}
	}
	changed, removed := DiffLeaves(previous, tree.Leaves)

	for _, path := range removed {
		if err := ix.repo.DeleteFile(ctx, project.ID, path); err != nil {
			return err
		}
	}

	entryByPath := make(map[string]github.TreeEntry, len(blobs))
	for _, entry := range blobs {
		entryByPath[entry.Path] = entry
	}

	job.FilesToProcess = len(changed)
	if err := ix.repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	for start := 0; start < len(changed); start += ix.opts.BatchSize {
		end := start + ix.opts.BatchSize
		if end > len(changed) {
			end = len(changed)
		}
		batch := changed[start:end]

		operation := func() error {
			return ix.processBatch(ctx, owner, repo, project, job, batch, entryByPath)
		}
		err := backoff.Retry(operation, backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(ix.opts.MaxRetries)), ctx))
		if err != nil {
			return fmt.Errorf("batch starting at %q failed: %w", batch[0], err)
		}

		job.FilesProcessed += len(batch)
		project.IndexedFiles = job.FilesProcessed
		project.TotalFiles = len(blobs)
		project.IndexingProgress = job.Progress()
		if err := ix.repo.UpdateJob(ctx, job); err != nil {
			return err
		}
		if err := ix.repo.UpdateProject(ctx, project); err != nil {
			return err
		}

		if end < len(changed) {
			select {
			case <-time.After(ix.opts.BatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := ix.repo.SaveMerkleTree(ctx, project.ID, tree.Nodes); err != nil {
		return err
	}

	languages, err := ix.host.FetchLanguages(ctx, owner, repo)
	if err != nil {
		ix.logger.Warn("language detection failed, keeping previous values", map[string]interface{}{
			"project_id": project.ID,
			"error":      err.Error(),
		})
	} else {
		project.DetectedLanguages = languages
	}
	project.DetectedFrameworks = DetectFrameworks(tree.Leaves)
	project.ArchitecturePatterns = DetectArchitecturePatterns(tree.Leaves)
	project.MerkleRootHash = tree.Root
	project.TotalFiles = len(blobs)
	if job.JobType == models.JobIncrementalUpdate {
		project.TotalChunks += job.ChunksCreated
	} else {
		project.TotalChunks = job.ChunksCreated
	}
	return nil
}

// processBatch fetches, chunks, embeds, and persists a batch of files. Files
// that fail to fetch or parse are logged and skipped. Downstream failures
// retry the whole batch; chunk replacement is idempotent so a retry never
// duplicates rows.
func (ix *Indexer) processBatch(ctx context.Context, owner, repo string,
	project *models.CodebaseProject, job *models.IndexingJob,
	paths []string, entryByPath map[string]github.TreeEntry) error {

	contents := make(map[string][]byte, len(paths))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for _, path := range paths {
		entry := entryByPath[path]
		g.Go(func() error {
			data, err := ix.host.FetchBlob(gctx, owner, repo, entry.SHA)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// A file that cannot be fetched is skipped; the rest of the
				// batch proceeds.
				ix.logger.Warn("file skipped after fetch failure", map[string]interface{}{
					"path":  entry.Path,
					"error": err.Error(),
				})
				return nil
			}
			mu.Lock()
			contents[entry.Path] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, path := range paths {
		data, ok := contents[path]
		if !ok {
			continue
		}
		entry := entryByPath[path]

		file := &models.CodeFile{
			ProjectID: project.ID,
			FilePath:  path,
			FileHash:  entry.SHA,
			FileSize:  entry.Size,
			Language:  ix.chunker.DetectLanguage(path),
		}
		fileChunks, err := ix.chunker.ChunkFile(ctx, path, string(data))
		if err != nil {
			file.IsParsed = false
			file.ParseError = err.Error()
			if upsertErr := ix.repo.UpsertFile(ctx, file); upsertErr != nil {
				return upsertErr
			}
			ix.logger.Warn("file skipped after chunking failure", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		file.IsParsed = true
		if err := ix.repo.UpsertFile(ctx, file); err != nil {
			return err
		}

		modelChunks := make([]models.CodeChunk, len(fileChunks))
		texts := make([]string, len(fileChunks))
		for i, c := range fileChunks {
			modelChunks[i] = models.CodeChunk{
				ProjectID:   project.ID,
				FileID:      file.ID,
				FilePath:    path,
				Content:     c.Content,
				ContentHash: c.ContentHash(),
				ChunkType:   c.Type,
				Language:    c.Language,
				StartLine:   c.StartLine,
				EndLine:     c.EndLine,
				Symbols:     c.Symbols,
				Imports:     c.Imports,
				TokenCount:  c.TokenCount,
			}
			texts[i] = c.Content
		}
		if err := ix.repo.ReplaceChunks(ctx, file.ID, modelChunks); err != nil {
			return err
		}
		job.ChunksCreated += len(modelChunks)

		if len(texts) == 0 {
			continue
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		embeddings := make([]models.CodeEmbedding, len(vectors))
		for i, vec := range vectors {
			embeddings[i] = models.CodeEmbedding{
				ChunkID:          modelChunks[i].ID,
				Vector:           vec,
				Model:            ix.embedder.Model(),
				EmbeddingVersion: 1,
			}
		}
		if err := ix.repo.InsertEmbeddings(ctx, embeddings); err != nil {
			return err
		}
		job.EmbeddingsGenerated += len(embeddings)
	}
	return nil
}

// filterIndexable keeps blob entries with a recognized source extension that
// fit under the size cap
func filterIndexable(entries []github.TreeEntry, maxSize int64) []github.TreeEntry {
	var blobs []github.TreeEntry
	for _, entry := range entries {
		if entry.Type != "blob" {
			continue
		}
		if entry.Size > maxSize {
			continue
		}
		if !isSourcePath(entry.Path) {
			continue
		}
		blobs = append(blobs, entry)
	}
	return blobs
}
