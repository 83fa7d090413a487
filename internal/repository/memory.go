package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// MemoryRepository is a mutex-guarded in-memory Repository used by tests and
// SKIP_DATABASE deployments. Similarity search computes cosine similarity
// directly instead of delegating to pgvector.
type MemoryRepository struct {
	mu         sync.RWMutex
	projects   map[uuid.UUID]*models.CodebaseProject
	files      map[uuid.UUID]*models.CodeFile
	chunks     map[uuid.UUID]*models.CodeChunk
	embeddings map[uuid.UUID]*models.CodeEmbedding // keyed by chunk ID
	merkle     map[uuid.UUID][]models.MerkleNode
	jobs       map[uuid.UUID]*models.IndexingJob
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects:   make(map[uuid.UUID]*models.CodebaseProject),
		files:      make(map[uuid.UUID]*models.CodeFile),
		chunks:     make(map[uuid.UUID]*models.CodeChunk),
		embeddings: make(map[uuid.UUID]*models.CodeEmbedding),
		merkle:     make(map[uuid.UUID][]models.MerkleNode),
		jobs:       make(map[uuid.UUID]*models.IndexingJob),
	}
}

func (r *MemoryRepository) CreateProject(ctx context.Context, project *models.CodebaseProject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.projects {
		if existing.RepositoryURL == project.RepositoryURL && existing.RepositoryBranch == project.RepositoryBranch {
			return models.NewErrorf(models.ErrConflict,
				"codebase %s@%s is already registered", project.RepositoryURL, project.RepositoryBranch)
		}
	}
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	if project.IndexingStatus == "" {
		project.IndexingStatus = models.IndexingPending
	}
	clone := *project
	r.projects[project.ID] = &clone
	return nil
}

func (r *MemoryRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.CodebaseProject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, ok := r.projects[id]
	if !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "codebase project %s not found", id)
	}
	clone := *project
	return &clone, nil
}

func (r *MemoryRepository) GetProjectByRepo(ctx context.Context, url, branch string) (*models.CodebaseProject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, project := range r.projects {
		if project.RepositoryURL == url && project.RepositoryBranch == branch {
			clone := *project
			return &clone, nil
		}
	}
	return nil, models.NewErrorf(models.ErrNotFound, "codebase %s@%s not found", url, branch)
}

func (r *MemoryRepository) UpdateProject(ctx context.Context, project *models.CodebaseProject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[project.ID]; !ok {
		return models.NewErrorf(models.ErrNotFound, "codebase project %s not found", project.ID)
	}
	project.UpdatedAt = time.Now().UTC()
	clone := *project
	r.projects[project.ID] = &clone
	return nil
}

func (r *MemoryRepository) UpsertFile(ctx context.Context, file *models.CodeFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.files {
		if existing.ProjectID == file.ProjectID && existing.FilePath == file.FilePath {
			file.ID = existing.ID
			clone := *file
			r.files[file.ID] = &clone
			return nil
		}
	}
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

func (r *MemoryRepository) ListFiles(ctx context.Context, projectID uuid.UUID) ([]models.CodeFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var files []models.CodeFile
	for _, file := range r.files {
		if file.ProjectID == projectID {
			files = append(files, *file)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
	return files, nil
}

func (r *MemoryRepository) DeleteFile(ctx context.Context, projectID uuid.UUID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, file := range r.files {
		if file.ProjectID == projectID && file.FilePath == path {
			delete(r.files, id)
			for chunkID, chunk := range r.chunks {
				if chunk.FileID == id {
					delete(r.chunks, chunkID)
					delete(r.embeddings, chunkID)
				}
			}
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) ReplaceChunks(ctx context.Context, fileID uuid.UUID, chunks []models.CodeChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chunkID, chunk := range r.chunks {
		if chunk.FileID == fileID {
			delete(r.chunks, chunkID)
			delete(r.embeddings, chunkID)
		}
	}
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
		clone := chunks[i]
		r.chunks[clone.ID] = &clone
	}
	return nil
}

func (r *MemoryRepository) InsertEmbeddings(ctx context.Context, embeddings []models.CodeEmbedding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range embeddings {
		emb := embeddings[i]
		if len(emb.Vector) != models.EmbeddingDimensions {
			return models.NewErrorf(models.ErrValidation,
				"embedding for chunk %s has %d dimensions, expected %d",
				emb.ChunkID, len(emb.Vector), models.EmbeddingDimensions)
		}
		if _, ok := r.chunks[emb.ChunkID]; !ok {
			return models.NewErrorf(models.ErrNotFound, "chunk %s not found for embedding", emb.ChunkID)
		}
		if emb.ID == uuid.Nil {
			emb.ID = uuid.New()
		}
		clone := emb
		r.embeddings[emb.ChunkID] = &clone
	}
	return nil
}

func (r *MemoryRepository) SimilarChunks(ctx context.Context, projectID uuid.UUID, vector []float32, limit int, threshold float64) ([]ScoredChunk, error) {
	if len(vector) != models.EmbeddingDimensions {
		return nil, models.NewErrorf(models.ErrValidation,
			"query vector has %d dimensions, expected %d", len(vector), models.EmbeddingDimensions)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var scored []ScoredChunk
	for chunkID, emb := range r.embeddings {
		chunk, ok := r.chunks[chunkID]
		if !ok || chunk.ProjectID != projectID {
			continue
		}
		similarity := cosineSimilarity(vector, emb.Vector)
		if similarity <= threshold {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: *chunk, Similarity: similarity})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if scored[i].Chunk.FilePath != scored[j].Chunk.FilePath {
			return scored[i].Chunk.FilePath < scored[j].Chunk.FilePath
		}
		return scored[i].Chunk.StartLine < scored[j].Chunk.StartLine
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (r *MemoryRepository) SaveMerkleTree(ctx context.Context, projectID uuid.UUID, nodes []models.MerkleNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]models.MerkleNode, len(nodes))
	copy(stored, nodes)
	for i := range stored {
		if stored[i].ID == uuid.Nil {
			stored[i].ID = uuid.New()
		}
		stored[i].ProjectID = projectID
	}
	r.merkle[projectID] = stored
	return nil
}

func (r *MemoryRepository) LeafHashes(ctx context.Context, projectID uuid.UUID) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	leaves := make(map[string]string)
	for _, node := range r.merkle[projectID] {
		if node.IsLeaf {
			leaves[node.NodePath] = node.NodeHash
		}
	}
	return leaves, nil
}

func (r *MemoryRepository) CreateJob(ctx context.Context, job *models.IndexingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = models.DefaultJobMaxRetries
	}
	job.CreatedAt = time.Now().UTC()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *MemoryRepository) GetJob(ctx context.Context, id uuid.UUID) (*models.IndexingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "indexing job %s not found", id)
	}
	clone := *job
	return &clone, nil
}

func (r *MemoryRepository) UpdateJob(ctx context.Context, job *models.IndexingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return models.NewErrorf(models.ErrNotFound, "indexing job %s not found", job.ID)
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *MemoryRepository) HasActiveJob(ctx context.Context, projectID uuid.UUID, types ...models.IndexingJobType) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, job := range r.jobs {
		if job.ProjectID != projectID {
			continue
		}
		if job.Status != models.JobQueued && job.Status != models.JobRunning {
			continue
		}
		if len(types) == 0 {
			return true, nil
		}
		for _, t := range types {
			if job.JobType == t {
				return true, nil
			}
		}
	}
	return false, nil
}
