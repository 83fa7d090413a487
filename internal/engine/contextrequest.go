package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/store"
)

// CodebaseContext answers a mid-generation codebase question
type CodebaseContext struct {
	RelevantFiles  []string `json:"relevant_files"`
	Summary        string   `json:"summary"`
	Confidence     float64  `json:"confidence"`
	ChunksAnalyzed int      `json:"chunks_analyzed"`
}

// MockupContext answers a mid-generation mockup question
type MockupContext struct {
	RelevantAnalyses []models.MockupAnalysis `json:"relevant_analyses"`
	Summary          string                  `json:"summary"`
	Confidence       float64                 `json:"confidence"`
}

// ContextAvailability reports what additional context a request has
type ContextAvailability struct {
	HasCodebase       bool       `json:"has_codebase"`
	HasMockups        bool       `json:"has_mockups"`
	CodebaseProjectID *uuid.UUID `json:"codebase_project_id,omitempty"`
	MockupCount       int        `json:"mockup_count"`
	IsCodebaseIndexed bool       `json:"is_codebase_indexed"`
}

// ContextService serves on-demand context lookups during and after
// generation: semantic codebase queries and keyword filters over stored
// mockup analyses
type ContextService struct {
	store     store.Store
	projects  repository.Repository
	retriever CodeRetriever
	logger    observability.Logger
}

// NewContextService creates the context request port
func NewContextService(st store.Store, projects repository.Repository,
	retriever CodeRetriever, logger observability.Logger) *ContextService {
	return &ContextService{
		store:     st,
		projects:  projects,
		retriever: retriever,
		logger:    logger,
	}
}

// RequestCodebaseContext runs a semantic query against one indexed project
func (s *ContextService) RequestCodebaseContext(ctx context.Context, projectID uuid.UUID, question, searchQuery string) (*CodebaseContext, error) {
	if s.retriever == nil {
		return nil, models.NewError(models.ErrProcessingFailed, "code retrieval is not configured")
	}
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.IndexingStatus != models.IndexingCompleted || project.TotalChunks == 0 {
		return nil, models.NewErrorf(models.ErrBusinessRule,
			"project %s is not fully indexed", projectID)
	}

	result, err := s.retriever.RetrieveAll(ctx, []uuid.UUID{projectID}, question, searchQuery)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var files []string
	var summary strings.Builder
	for _, scored := range result.Chunks {
		if !seen[scored.Chunk.FilePath] {
			seen[scored.Chunk.FilePath] = true
			files = append(files, scored.Chunk.FilePath)
		}
		fmt.Fprintf(&summary, "%s (lines %d-%d): %s %s\n",
			scored.Chunk.FilePath, scored.Chunk.StartLine, scored.Chunk.EndLine,
			scored.Chunk.ChunkType, strings.Join(scored.Chunk.Symbols, ", "))
	}
	return &CodebaseContext{
		RelevantFiles:  files,
		Summary:        strings.TrimSpace(summary.String()),
		Confidence:     result.MeanSimilarity,
		ChunksAnalyzed: len(result.Chunks),
	}, nil
}

// RequestMockupContext filters a request's stored analyses by keyword match
// over flows, business logic, and extracted text
func (s *ContextService) RequestMockupContext(ctx context.Context, requestID uuid.UUID, featureQuery string) (*MockupContext, error) {
	uploads, err := s.store.ListMockupUploads(ctx, requestID)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(featureQuery))
	var relevant []models.MockupAnalysis
	var confidenceSum float64
	for _, upload := range uploads {
		analysis := upload.AnalysisResult
		if analysis == nil {
			continue
		}
		if query == "" || analysisMatches(analysis, query) {
			relevant = append(relevant, *analysis)
			confidenceSum += analysis.Confidence
		}
	}

	result := &MockupContext{RelevantAnalyses: relevant}
	if len(relevant) > 0 {
		result.Confidence = confidenceSum / float64(len(relevant))
		result.Summary = fmt.Sprintf("%d mockup analysis(es) match %q", len(relevant), featureQuery)
	} else {
		result.Summary = fmt.Sprintf("no mockup analysis matches %q", featureQuery)
	}
	return result, nil
}

// HasAdditionalContext reports what extra context exists for a request
func (s *ContextService) HasAdditionalContext(ctx context.Context, requestID uuid.UUID) (*ContextAvailability, error) {
	availability := &ContextAvailability{}

	uploads, err := s.store.ListMockupUploads(ctx, requestID)
	if err != nil {
		return nil, err
	}
	availability.MockupCount = len(uploads)
	availability.HasMockups = len(uploads) > 0

	links, err := s.store.ListCodebaseLinks(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		project, err := s.projects.GetProject(ctx, link.ProjectID)
		if err != nil {
			if models.IsKind(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		availability.HasCodebase = true
		if availability.CodebaseProjectID == nil {
			id := project.ID
			availability.CodebaseProjectID = &id
		}
		if project.IndexingStatus == models.IndexingCompleted && project.TotalChunks > 0 {
			availability.IsCodebaseIndexed = true
		}
	}
	return availability, nil
}

// analysisMatches reports whether any flow, inference, or extracted text
// mentions the query
func analysisMatches(analysis *models.MockupAnalysis, query string) bool {
	for _, flow := range analysis.UserFlows {
		if strings.Contains(strings.ToLower(flow), query) {
			return true
		}
	}
	for _, inference := range analysis.BusinessLogic {
		if strings.Contains(strings.ToLower(inference.Description), query) {
			return true
		}
	}
	for _, text := range analysis.ExtractedText {
		if strings.Contains(strings.ToLower(text.Content), query) {
			return true
		}
	}
	return false
}
