package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/store"
)

func TestRequestCodebaseContext(t *testing.T) {
	ctx := context.Background()
	projects := repository.NewMemoryRepository()
	project := &models.CodebaseProject{
		RepositoryURL:    "https://github.com/o/r",
		RepositoryBranch: "main",
		IndexingStatus:   models.IndexingCompleted,
		TotalChunks:      4,
	}
	require.NoError(t, projects.CreateProject(ctx, project))

	retriever := &recordingRetriever{chunks: []repository.ScoredChunk{
		{Chunk: models.CodeChunk{FilePath: "auth/login.go", StartLine: 10, EndLine: 40,
			ChunkType: models.ChunkFunction, Symbols: []string{"Login"}}, Similarity: 0.9},
		{Chunk: models.CodeChunk{FilePath: "auth/login.go", StartLine: 50, EndLine: 80,
			ChunkType: models.ChunkFunction, Symbols: []string{"Logout"}}, Similarity: 0.8},
	}}
	svc := NewContextService(store.NewMemoryStore(), projects, retriever, observability.NewNoopLogger())

	result, err := svc.RequestCodebaseContext(ctx, project.ID, "how does login work", "authentication")
	require.NoError(t, err)
	assert.Equal(t, []string{"auth/login.go"}, result.RelevantFiles)
	assert.Equal(t, 2, result.ChunksAnalyzed)
	assert.Contains(t, result.Summary, "Login")

	// An unindexed project is rejected before any retrieval.
	unindexed := &models.CodebaseProject{
		RepositoryURL:    "https://github.com/o/other",
		RepositoryBranch: "main",
	}
	require.NoError(t, projects.CreateProject(ctx, unindexed))
	_, err = svc.RequestCodebaseContext(ctx, unindexed.ID, "q", "q")
	require.Error(t, err)
	assert.Equal(t, models.ErrBusinessRule, models.KindOf(err))
}

func TestRequestMockupContextFilters(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	request := seedRequest(t, st)

	uploads := []*models.MockupUpload{
		{RequestID: request.ID, StoragePath: "a", FileName: "a.png", FileSize: 1, MimeType: "image/png",
			AnalysisResult: &models.MockupAnalysis{UserFlows: []string{"checkout"}, Confidence: 0.8}},
		{RequestID: request.ID, StoragePath: "b", FileName: "b.png", FileSize: 1, MimeType: "image/png",
			AnalysisResult: &models.MockupAnalysis{UserFlows: []string{"login"}, Confidence: 0.6}},
	}
	for _, upload := range uploads {
		require.NoError(t, st.CreateMockupUpload(ctx, upload))
	}

	svc := NewContextService(st, repository.NewMemoryRepository(), nil, observability.NewNoopLogger())
	result, err := svc.RequestMockupContext(ctx, request.ID, "checkout")
	require.NoError(t, err)
	require.Len(t, result.RelevantAnalyses, 1)
	assert.Equal(t, []string{"checkout"}, result.RelevantAnalyses[0].UserFlows)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)

	empty, err := svc.RequestMockupContext(ctx, request.ID, "billing")
	require.NoError(t, err)
	assert.Empty(t, empty.RelevantAnalyses)
}

func TestHasAdditionalContext(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	projects := repository.NewMemoryRepository()
	request := seedRequestWithTitle(t, st, "Context probe")

	availability, err := NewContextService(st, projects, nil, observability.NewNoopLogger()).
		HasAdditionalContext(ctx, request.ID)
	require.NoError(t, err)
	assert.False(t, availability.HasCodebase)
	assert.False(t, availability.HasMockups)

	project := &models.CodebaseProject{
		RepositoryURL:    "https://github.com/o/r2",
		RepositoryBranch: "main",
		IndexingStatus:   models.IndexingCompleted,
		TotalChunks:      1,
	}
	require.NoError(t, projects.CreateProject(ctx, project))
	_, err = st.LinkCodebase(ctx, request.ID, project.ID)
	require.NoError(t, err)
	require.NoError(t, st.CreateMockupUpload(ctx, &models.MockupUpload{
		RequestID: request.ID, StoragePath: "m", FileName: "m.png", FileSize: 1, MimeType: "image/png",
	}))

	availability, err = NewContextService(st, projects, nil, observability.NewNoopLogger()).
		HasAdditionalContext(ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, availability.HasCodebase)
	assert.True(t, availability.IsCodebaseIndexed)
	assert.True(t, availability.HasMockups)
	assert.Equal(t, 1, availability.MockupCount)
	require.NotNil(t, availability.CodebaseProjectID)
	assert.Equal(t, project.ID, *availability.CodebaseProjectID)
}
