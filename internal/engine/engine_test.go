package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/providers"
	"github.com/S-Corkum/prd-engine/internal/rag"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/store"
)

const sampleDocument = `# Chat

## Executive Summary

Real-time messaging between users with delivery receipts.

## Functional Requirements

Messages are delivered within one second under normal load.

## Technical Considerations

WebSocket transport with a fallback to long polling.
`

// fakeGenerator scripts the provider side of a run
type fakeGenerator struct {
	name        string
	confidence  float64
	ambiguities []string
	content     string
	generateErr error

	analyzeCalls  int
	generateCalls int
	lastFeed      providers.ContextFeed
}

func (g *fakeGenerator) AnalyzeRequirements(ctx context.Context, title, description string) (*providers.RequirementsAnalysis, error) {
	g.analyzeCalls++
	return &providers.RequirementsAnalysis{
		Confidence:  g.confidence,
		Ambiguities: g.ambiguities,
	}, nil
}

func (g *fakeGenerator) GeneratePRD(ctx context.Context, cmd providers.GenerateCommand, feed providers.ContextFeed) (*providers.GenerateResult, error) {
	g.generateCalls++
	g.lastFeed = feed
	if g.generateErr != nil {
		return nil, g.generateErr
	}
	return &providers.GenerateResult{Content: g.content, Provider: g.name}, nil
}

// recordingRetriever records which projects were queried
type recordingRetriever struct {
	calls  int
	chunks []repository.ScoredChunk
}

func (r *recordingRetriever) RetrieveAll(ctx context.Context, projectIDs []uuid.UUID, title, description string) (*rag.Result, error) {
	r.calls++
	return &rag.Result{Chunks: r.chunks}, nil
}

func seedRequest(t *testing.T, st store.Store) *models.PRDRequest {
	t.Helper()
	request := &models.PRDRequest{
		Title:       "Chat",
		Description: "Add real-time messaging",
		Priority:    models.PriorityMedium,
		Requester:   models.Requester{ID: "user-1"},
	}
	require.NoError(t, st.CreateRequest(context.Background(), request))
	return request
}

func TestGenerateCompletesRequest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	request := seedRequest(t, st)
	assert.Equal(t, 0, request.Status.Progress())

	gen := &fakeGenerator{name: "gpt-4o", confidence: 0.82, content: sampleDocument}
	eng := New(st, nil, gen, nil, nil, Options{ClarificationsEnabled: true},
		observability.NewNoopLogger(), observability.NewMetricsClient())

	var stages []string
	var sections []models.PRDSection
	outcome, err := eng.Generate(ctx, Command{RequestID: request.ID}, Events{
		Progress: func(stage, message string) { stages = append(stages, stage) },
		Section:  func(s models.PRDSection) { sections = append(sections, s) },
	})
	require.NoError(t, err)
	require.False(t, outcome.NeedsClarification)
	require.NotNil(t, outcome.Document)
	assert.Equal(t, "gpt-4o", outcome.Document.GeneratedBy)
	assert.Equal(t, "Chat", outcome.Document.Title)
	assert.InDelta(t, 0.82, outcome.Confidence, 1e-9)

	updated, err := st.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)
	assert.Equal(t, 100, updated.Status.Progress())
	require.NotNil(t, updated.GeneratedDocumentID)

	stored, err := st.GetDocument(ctx, *updated.GeneratedDocumentID)
	require.NoError(t, err)
	assert.Equal(t, sampleDocument, stored.Content)

	// Sections stream in ascending order before completion.
	require.Len(t, sections, 3)
	for i, section := range sections {
		assert.Equal(t, i+1, section.Order)
	}
	assert.Contains(t, stages, "analyze")
	assert.Contains(t, stages, "generate")
}

func TestGenerateGatesOnLowConfidence(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	request := seedRequest(t, st)

	gen := &fakeGenerator{
		name:       "gpt-4o",
		confidence: 0.55,
		content:    sampleDocument,
		ambiguities: []string{
			"Which authentication scheme protects message history?",
			"How long are messages retained?",
			"Can users edit sent messages?",
			"Is there a message size limit?",
		},
	}
	eng := New(st, nil, gen, nil, nil, Options{ClarificationsEnabled: true},
		observability.NewNoopLogger(), observability.NewMetricsClient())

	outcome, err := eng.Generate(ctx, Command{RequestID: request.ID}, Events{})
	require.NoError(t, err)
	require.True(t, outcome.NeedsClarification)
	require.Len(t, outcome.Clarifications, 4)
	assert.Zero(t, gen.generateCalls, "no generation before clarification")

	// The security question ranks first.
	assert.Equal(t, models.ClarificationHigh, outcome.Clarifications[0].Priority)
	assert.Contains(t, outcome.Clarifications[0].Question, "authentication")

	updated, err := st.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClarificationNeeded, updated.Status)
	assert.Equal(t, 25, updated.Status.Progress())

	// Answering the round lifts confidence past the gate and resumes.
	answers := outcome.Clarifications
	for i := range answers {
		answers[i].Answer = fmt.Sprintf("answer %d", i)
	}
	outcome, err = eng.Generate(ctx, Command{RequestID: request.ID, Answers: answers}, Events{})
	require.NoError(t, err)
	require.False(t, outcome.NeedsClarification)
	require.NotNil(t, outcome.Document)
	assert.InDelta(t, 0.75, outcome.Confidence, 1e-9)

	updated, err = st.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)
}

func TestGenerateDisabledClarificationsProceeds(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	request := seedRequest(t, st)

	gen := &fakeGenerator{
		name:        "gpt-4o",
		confidence:  0.55,
		content:     sampleDocument,
		ambiguities: []string{"Which authentication scheme?"},
	}
	eng := New(st, nil, gen, nil, nil, Options{ClarificationsEnabled: false},
		observability.NewNoopLogger(), observability.NewMetricsClient())

	outcome, err := eng.Generate(ctx, Command{RequestID: request.ID}, Events{})
	require.NoError(t, err)
	require.NotNil(t, outcome.Document)
	// Low confidence without a clarification round tags the document.
	assert.True(t, outcome.Document.HasTag(models.TagNeedsReview))
}

func TestGenerateFailureMarksRequestFailed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	request := seedRequest(t, st)

	gen := &fakeGenerator{
		name:        "gpt-4o",
		confidence:  0.9,
		generateErr: models.NewError(models.ErrProcessingFailed, "all providers exhausted"),
	}
	eng := New(st, nil, gen, nil, nil, Options{},
		observability.NewNoopLogger(), observability.NewMetricsClient())

	_, err := eng.Generate(ctx, Command{RequestID: request.ID}, Events{})
	require.Error(t, err)

	updated, err := st.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, updated.Status)
	assert.Contains(t, updated.FailureReason, "all providers exhausted")
	assert.Nil(t, updated.GeneratedDocumentID)
}

func TestGenerateRejectsBusyRequest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	request := seedRequest(t, st)
	_, err := st.TransitionRequest(ctx, request.ID, models.StatusProcessing, "")
	require.NoError(t, err)

	gen := &fakeGenerator{name: "gpt-4o", confidence: 0.9, content: sampleDocument}
	eng := New(st, nil, gen, nil, nil, Options{},
		observability.NewNoopLogger(), observability.NewMetricsClient())

	_, err = eng.Generate(ctx, Command{RequestID: request.ID}, Events{})
	require.Error(t, err)
	assert.Equal(t, models.ErrBusinessRule, models.KindOf(err))
}

func TestGenerateSkipsRAGWhenIndexIncomplete(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	projects := repository.NewMemoryRepository()
	request := seedRequest(t, st)

	pending := &models.CodebaseProject{
		RepositoryURL:    "https://github.com/o/pending",
		RepositoryBranch: "main",
		IndexingStatus:   models.IndexingRunning,
	}
	require.NoError(t, projects.CreateProject(ctx, pending))
	_, err := st.LinkCodebase(ctx, request.ID, pending.ID)
	require.NoError(t, err)

	retriever := &recordingRetriever{}
	gen := &fakeGenerator{name: "gpt-4o", confidence: 0.9, content: sampleDocument}
	eng := New(st, projects, gen, nil, retriever, Options{},
		observability.NewNoopLogger(), observability.NewMetricsClient())

	_, err = eng.Generate(ctx, Command{RequestID: request.ID}, Events{})
	require.NoError(t, err)
	assert.Zero(t, retriever.calls, "incomplete index must not feed RAG")

	// Once the index completes, a fresh request uses it.
	pending.IndexingStatus = models.IndexingCompleted
	pending.TotalChunks = 12
	require.NoError(t, projects.UpdateProject(ctx, pending))

	second := seedRequestWithTitle(t, st, "Chat v2")
	_, err = st.LinkCodebase(ctx, second.ID, pending.ID)
	require.NoError(t, err)
	_, err = eng.Generate(ctx, Command{RequestID: second.ID}, Events{})
	require.NoError(t, err)
	assert.Equal(t, 1, retriever.calls)
}

func TestGenerateFeedsCodebaseOverview(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	projects := repository.NewMemoryRepository()
	request := seedRequest(t, st)

	indexed := &models.CodebaseProject{
		RepositoryURL:     "https://github.com/acme/webapp",
		RepositoryBranch:  "main",
		IndexingStatus:    models.IndexingCompleted,
		TotalChunks:       8,
		DetectedLanguages: map[string]int64{"Go": 50000, "TypeScript": 30000},
		DetectedFrameworks: []string{"gin"},
	}
	require.NoError(t, projects.CreateProject(ctx, indexed))
	_, err := st.LinkCodebase(ctx, request.ID, indexed.ID)
	require.NoError(t, err)

	retriever := &recordingRetriever{chunks: []repository.ScoredChunk{{
		Chunk:      models.CodeChunk{FilePath: "svc/auth.go", Content: "func Login() {}", ChunkType: models.ChunkFunction, StartLine: 1, EndLine: 3},
		Similarity: 0.9,
	}}}
	gen := &fakeGenerator{name: "gpt-4o", confidence: 0.9, content: sampleDocument}
	eng := New(st, projects, gen, nil, retriever, Options{},
		observability.NewNoopLogger(), observability.NewMetricsClient())

	_, err = eng.Generate(ctx, Command{RequestID: request.ID}, Events{})
	require.NoError(t, err)

	require.NotNil(t, gen.lastFeed)
	delivered := strings.Join(gen.lastFeed.Segments(), "\n")
	assert.Contains(t, delivered, "Repository: https://github.com/acme/webapp (branch main)")
	assert.Contains(t, delivered, "Languages: Go, TypeScript")
	assert.Contains(t, delivered, "Frameworks: gin")
	assert.Contains(t, delivered, "svc/auth.go")
}

func seedRequestWithTitle(t *testing.T, st store.Store, title string) *models.PRDRequest {
	t.Helper()
	request := &models.PRDRequest{
		Title:       title,
		Description: "Add real-time messaging",
		Priority:    models.PriorityMedium,
		Requester:   models.Requester{ID: "user-1"},
	}
	require.NoError(t, st.CreateRequest(context.Background(), request))
	return request
}

func TestMockupBonus(t *testing.T) {
	assert.Zero(t, MockupBonus(nil))

	consolidated := &models.ConsolidatedAnalysis{
		MockupCount:    2,
		UIElementTypes: []models.UIElementType{models.UIButton, models.UITextField, models.UICard},
		UserFlows:      []string{"login", "checkout"},
		BusinessLogic: []models.BusinessLogicInference{
			{Description: "cart updates live"},
		},
	}
	// 0.03*1 + 0.02*2 + 0.01*3 = 0.10
	assert.InDelta(t, 0.10, MockupBonus(consolidated), 1e-9)

	// Saturated inputs cap at 0.35.
	for i := 0; i < 20; i++ {
		consolidated.UserFlows = append(consolidated.UserFlows, fmt.Sprintf("flow-%d", i))
		consolidated.BusinessLogic = append(consolidated.BusinessLogic,
			models.BusinessLogicInference{Description: fmt.Sprintf("rule-%d", i)})
		consolidated.UIElementTypes = append(consolidated.UIElementTypes, models.UIOther)
	}
	assert.InDelta(t, 0.35, MockupBonus(consolidated), 1e-9)
}

func TestCombineConfidenceClamps(t *testing.T) {
	assert.InDelta(t, 0.55, CombineConfidence(0.55, nil, 0), 1e-9)
	assert.InDelta(t, 0.75, CombineConfidence(0.55, nil, 4), 1e-9)
	// Answer bonus caps at 0.30.
	assert.InDelta(t, 0.85, CombineConfidence(0.55, nil, 10), 1e-9)
	assert.InDelta(t, 1.0, CombineConfidence(0.95, nil, 4), 1e-9)
}
