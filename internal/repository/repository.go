// Package repository persists the codebase index: projects, files, chunks,
// embeddings, Merkle nodes, and indexing jobs. The Postgres implementation
// relies on pgvector for similarity search; the in-memory implementation
// backs tests and SKIP_DATABASE deployments.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// ScoredChunk pairs a chunk with its similarity to a query vector,
// where similarity = 1 - cosine distance
type ScoredChunk struct {
	Chunk      models.CodeChunk
	Similarity float64
}

// Repository is the persistence port for the indexing subsystem
type Repository interface {
	// CreateProject registers a codebase project; (url, branch) must be unique
	CreateProject(ctx context.Context, project *models.CodebaseProject) error

	// GetProject fetches a project by ID
	GetProject(ctx context.Context, id uuid.UUID) (*models.CodebaseProject, error)

	// GetProjectByRepo fetches a project by its (url, branch) identity
	GetProjectByRepo(ctx context.Context, url, branch string) (*models.CodebaseProject, error)

	// UpdateProject persists mutated project fields
	UpdateProject(ctx context.Context, project *models.CodebaseProject) error

	// UpsertFile inserts or replaces a file record keyed on (project, path)
	UpsertFile(ctx context.Context, file *models.CodeFile) error

	// ListFiles returns all file records for a project
	ListFiles(ctx context.Context, projectID uuid.UUID) ([]models.CodeFile, error)

	// DeleteFile removes a file and its chunks and embeddings
	DeleteFile(ctx context.Context, projectID uuid.UUID, path string) error

	// ReplaceChunks atomically swaps the chunk set for a file
	ReplaceChunks(ctx context.Context, fileID uuid.UUID, chunks []models.CodeChunk) error

	// InsertEmbeddings stores vectors for previously inserted chunks
	InsertEmbeddings(ctx context.Context, embeddings []models.CodeEmbedding) error

	// SimilarChunks returns up to limit chunks whose similarity meets the
	// threshold, ordered by similarity descending
	SimilarChunks(ctx context.Context, projectID uuid.UUID, vector []float32, limit int, threshold float64) ([]ScoredChunk, error)

	// SaveMerkleTree replaces the stored tree for a project
	SaveMerkleTree(ctx context.Context, projectID uuid.UUID, nodes []models.MerkleNode) error

	// LeafHashes returns path -> leaf hash for the stored tree
	LeafHashes(ctx context.Context, projectID uuid.UUID) (map[string]string, error)

	// CreateJob enqueues an indexing job record
	CreateJob(ctx context.Context, job *models.IndexingJob) error

	// GetJob fetches a job by ID
	GetJob(ctx context.Context, id uuid.UUID) (*models.IndexingJob, error)

	// UpdateJob persists job progress and status
	UpdateJob(ctx context.Context, job *models.IndexingJob) error

	// HasActiveJob reports whether the project already has a queued or
	// running full-index job; used to serialize re-index runs
	HasActiveJob(ctx context.Context, projectID uuid.UUID, types ...models.IndexingJobType) (bool, error)
}
