package repository

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/models"
)

func seedProject(t *testing.T, repo *MemoryRepository) *models.CodebaseProject {
	t.Helper()
	project := &models.CodebaseProject{
		RepositoryURL:    "https://github.com/acme/widgets",
		RepositoryBranch: "main",
		RepositoryType:   "github",
	}
	require.NoError(t, repo.CreateProject(context.Background(), project))
	return project
}

// unitVector builds a 1536-dim unit vector pointing along the given axis
func unitVector(axis int) []float32 {
	vec := make([]float32, models.EmbeddingDimensions)
	vec[axis] = 1
	return vec
}

// blendVector mixes two axes so cosine similarity against unitVector(a) is
// a/sqrt(a^2+b^2)
func blendVector(axisA, axisB int, a, b float32) []float32 {
	vec := make([]float32, models.EmbeddingDimensions)
	vec[axisA] = a
	vec[axisB] = b
	return vec
}

func TestCreateProjectDuplicateConflict(t *testing.T) {
	repo := NewMemoryRepository()
	seedProject(t, repo)

	err := repo.CreateProject(context.Background(), &models.CodebaseProject{
		RepositoryURL:    "https://github.com/acme/widgets",
		RepositoryBranch: "main",
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrConflict, models.KindOf(err))

	// Same URL on a different branch is a distinct project.
	err = repo.CreateProject(context.Background(), &models.CodebaseProject{
		RepositoryURL:    "https://github.com/acme/widgets",
		RepositoryBranch: "develop",
	})
	require.NoError(t, err)
}

func TestSimilarChunksThresholdAndOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	project := seedProject(t, repo)

	file := &models.CodeFile{ProjectID: project.ID, FilePath: "svc/auth.go", FileHash: "h1", Language: "go"}
	require.NoError(t, repo.UpsertFile(ctx, file))

	chunks := []models.CodeChunk{
		{ProjectID: project.ID, FileID: file.ID, FilePath: "svc/auth.go", Content: "func Login", StartLine: 1, EndLine: 10},
		{ProjectID: project.ID, FileID: file.ID, FilePath: "svc/auth.go", Content: "func Logout", StartLine: 12, EndLine: 20},
		{ProjectID: project.ID, FileID: file.ID, FilePath: "svc/auth.go", Content: "func Unrelated", StartLine: 22, EndLine: 30},
	}
	require.NoError(t, repo.ReplaceChunks(ctx, file.ID, chunks))

	// Re-read chunk IDs assigned by ReplaceChunks.
	scoredAll, err := repo.SimilarChunks(ctx, project.ID, unitVector(0), 10, -1)
	require.NoError(t, err)
	require.Empty(t, scoredAll) // no embeddings yet

	listed, err := repo.ListFiles(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// similarities against unitVector(0): 0.82, 0.71, 0.40
	require.NoError(t, repo.InsertEmbeddings(ctx, []models.CodeEmbedding{
		{ChunkID: chunks[0].ID, Vector: blendVector(0, 1, 0.82, float32(mag(0.82))), Model: "m"},
		{ChunkID: chunks[1].ID, Vector: blendVector(0, 1, 0.71, float32(mag(0.71))), Model: "m"},
		{ChunkID: chunks[2].ID, Vector: blendVector(0, 1, 0.40, float32(mag(0.40))), Model: "m"},
	}))

	scored, err := repo.SimilarChunks(ctx, project.ID, unitVector(0), 10, 0.7)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.InDelta(t, 0.82, scored[0].Similarity, 1e-4)
	assert.InDelta(t, 0.71, scored[1].Similarity, 1e-4)
	assert.Equal(t, "func Login", scored[0].Chunk.Content)
}

// mag returns b so that a unit vector built from (a, b) has cosine a
// against the first axis: b = sqrt(1 - a^2)
func mag(a float64) float64 {
	return math.Sqrt(1 - a*a)
}

func TestSimilarChunksRejectsWrongDimensions(t *testing.T) {
	repo := NewMemoryRepository()
	project := seedProject(t, repo)

	_, err := repo.SimilarChunks(context.Background(), project.ID, []float32{1, 2, 3}, 5, 0.7)
	require.Error(t, err)
	assert.Equal(t, models.ErrValidation, models.KindOf(err))
}

func TestMerkleTreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	project := seedProject(t, repo)

	nodes := []models.MerkleNode{
		{NodeHash: "aaa", NodePath: "a.go", IsLeaf: true},
		{NodeHash: "bbb", NodePath: "b.go", IsLeaf: true},
		{NodeHash: "root", LeftChildHash: "aaa", RightChildHash: "bbb"},
	}
	require.NoError(t, repo.SaveMerkleTree(ctx, project.ID, nodes))

	leaves, err := repo.LeafHashes(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.go": "aaa", "b.go": "bbb"}, leaves)

	// Saving again replaces, never appends.
	require.NoError(t, repo.SaveMerkleTree(ctx, project.ID, nodes[:2]))
	leaves, err = repo.LeafHashes(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, leaves, 2)
}

func TestHasActiveJobFiltersByType(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	project := seedProject(t, repo)

	job := &models.IndexingJob{ProjectID: project.ID, JobType: models.JobInitialIndex}
	require.NoError(t, repo.CreateJob(ctx, job))
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, models.DefaultJobMaxRetries, job.MaxRetries)

	active, err := repo.HasActiveJob(ctx, project.ID, models.JobInitialIndex, models.JobReIndex)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = repo.HasActiveJob(ctx, project.ID, models.JobIncrementalUpdate)
	require.NoError(t, err)
	assert.False(t, active)

	job.Status = models.JobCompleted
	require.NoError(t, repo.UpdateJob(ctx, job))
	active, err = repo.HasActiveJob(ctx, project.ID)
	require.NoError(t, err)
	assert.False(t, active)
}
