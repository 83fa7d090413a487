package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/adapters/github"
	"github.com/S-Corkum/prd-engine/internal/chunking/parsers"
	"github.com/S-Corkum/prd-engine/internal/embedding"
	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/repository"
)

// fakeHost serves an in-memory repository snapshot
type fakeHost struct {
	mu         sync.Mutex
	sha        string
	entries    []github.TreeEntry
	blobs      map[string][]byte // keyed by blob SHA
	languages  map[string]int64
	fetchCalls int
}

func (f *fakeHost) ResolveBranchSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	if branch != "main" {
		return "", models.NewErrorf(models.ErrNotFound, "branch %q not found", branch)
	}
	return f.sha, nil
}

func (f *fakeHost) FetchTree(ctx context.Context, owner, repo, commitSHA string) ([]github.TreeEntry, error) {
	return f.entries, nil
}

func (f *fakeHost) FetchLanguages(ctx context.Context, owner, repo string) (map[string]int64, error) {
	return f.languages, nil
}

func (f *fakeHost) FetchBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	data, ok := f.blobs[sha]
	if !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "blob %s not found", sha)
	}
	return data, nil
}

const goSource = `package auth

func Login(user string) error {
	return nil
}
`

func newTestIndexer(host RepoHost, repo repository.Repository) *Indexer {
	return New(host, repo, parsers.NewChunkingService(0, 0), embedding.NewDeterministicService(),
		Options{BatchDelay: time.Millisecond}, observability.NewNoopLogger(),
		observability.NewMetricsClient())
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		sha: "commit1",
		entries: []github.TreeEntry{
			{Path: "auth.go", Type: "blob", SHA: "blob-auth", Size: int64(len(goSource))},
			{Path: "README.md", Type: "blob", SHA: "blob-readme", Size: 12},
			{Path: "vendor/dep.go", Type: "blob", SHA: "blob-vendor", Size: 10},
			{Path: "logo.png", Type: "blob", SHA: "blob-logo", Size: 100},
			{Path: "internal", Type: "tree", SHA: "tree-1"},
		},
		blobs: map[string][]byte{
			"blob-auth":   []byte(goSource),
			"blob-readme": []byte("# widgets\nok"),
		},
		languages: map[string]int64{"Go": 1000},
	}
}

func TestRegisterProjectDeduplicates(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	ix := newTestIndexer(newFakeHost(), repo)

	project, job, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "main", false)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobInitialIndex, job.JobType)

	// Same (url, branch) returns the existing project, no new job.
	again, job2, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "main", false)
	require.NoError(t, err)
	assert.Equal(t, project.ID, again.ID)
	assert.Nil(t, job2)

	// Different branch is a new project.
	other, _, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "develop", false)
	require.NoError(t, err)
	assert.NotEqual(t, project.ID, other.ID)
}

func TestRegisterProjectRejectsBadURL(t *testing.T) {
	ix := newTestIndexer(newFakeHost(), repository.NewMemoryRepository())
	_, _, err := ix.RegisterProject(context.Background(), "ftp://nope", "main", false)
	require.Error(t, err)
	assert.Equal(t, models.ErrValidation, models.KindOf(err))
}

func TestRunJobIndexesRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	host := newFakeHost()
	ix := newTestIndexer(host, repo)

	project, job, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "main", false)
	require.NoError(t, err)
	require.NoError(t, ix.RunJob(ctx, job.ID))

	indexed, err := repo.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IndexingCompleted, indexed.IndexingStatus)
	assert.Equal(t, 100, indexed.IndexingProgress)
	assert.NotEmpty(t, indexed.MerkleRootHash)
	// vendor/ and the png are filtered out.
	assert.Equal(t, 2, indexed.TotalFiles)
	assert.Equal(t, map[string]int64{"Go": 1000}, indexed.DetectedLanguages)
	assert.Greater(t, indexed.TotalChunks, 0)

	done, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, done.FilesToProcess, done.FilesProcessed)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	files, err := repo.ListFiles(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "README.md", files[0].FilePath)
	assert.Equal(t, "auth.go", files[1].FilePath)
}

func TestRunJobIncrementalSkipsUnchangedFiles(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	host := newFakeHost()
	ix := newTestIndexer(host, repo)

	project, job, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "main", false)
	require.NoError(t, err)
	require.NoError(t, ix.RunJob(ctx, job.ID))
	initialFetches := host.fetchCalls

	// Only README changes in the new snapshot.
	host.entries[1].SHA = "blob-readme-v2"
	host.blobs["blob-readme-v2"] = []byte("# widgets\nupdated")

	update := &models.IndexingJob{ProjectID: project.ID, JobType: models.JobIncrementalUpdate}
	require.NoError(t, repo.CreateJob(ctx, update))
	require.NoError(t, ix.RunJob(ctx, update.ID))

	assert.Equal(t, initialFetches+1, host.fetchCalls, "only the changed file should be fetched")

	done, err := repo.GetJob(ctx, update.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.FilesToProcess)
	assert.Equal(t, 1, done.FilesProcessed)
}

func TestRunJobSkipsUnfetchableFiles(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	host := newFakeHost()
	delete(host.blobs, "blob-readme")
	ix := newTestIndexer(host, repo)

	project, job, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "main", false)
	require.NoError(t, err)
	require.NoError(t, ix.RunJob(ctx, job.ID))

	// The missing blob is skipped; the rest of the batch indexes normally.
	indexed, err := repo.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IndexingCompleted, indexed.IndexingStatus)

	files, err := repo.ListFiles(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "auth.go", files[0].FilePath)

	done, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
}

func TestRunJobSerializesFullIndexes(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	ix := newTestIndexer(newFakeHost(), repo)

	_, job, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "main", false)
	require.NoError(t, err)
	require.NotNil(t, job)

	// A second full index while the first is queued is rejected.
	_, _, err = ix.RegisterProject(ctx, "https://github.com/acme/widgets", "main", true)
	require.Error(t, err)
	assert.Equal(t, models.ErrConflict, models.KindOf(err))
}

func TestRunJobMissingBranchFailsProject(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	ix := newTestIndexer(newFakeHost(), repo)

	project, job, err := ix.RegisterProject(ctx, "https://github.com/acme/widgets", "gone", false)
	require.NoError(t, err)
	require.Error(t, ix.RunJob(ctx, job.ID))

	failed, err := repo.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IndexingFailed, failed.IndexingStatus)

	done, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.NotEmpty(t, done.Error)
}

func TestDetectFrameworksAndPatterns(t *testing.T) {
	leaves := map[string]string{
		"package.json":                 "h1",
		"src/controllers/user.js":      "h2",
		"src/services/billing.js":      "h3",
		"next.config.js":               "h4",
		"internal/repositories/db.go":  "h5",
	}
	assert.Equal(t, []string{"nextjs", "node"}, DetectFrameworks(leaves))
	patterns := DetectArchitecturePatterns(leaves)
	assert.Contains(t, patterns, "mvc")
	assert.Contains(t, patterns, "service-layer")
	assert.Contains(t, patterns, "repository-pattern")
}
