// Package engine runs the end-to-end PRD generation workflow: analyze the
// request, gate on clarifications when confidence is low, assemble context,
// generate through the provider orchestrator, and persist the parsed
// document. The engine owns the request state transitions during a run; the
// session layer only relays its events.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/contextbuilder"
	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/providers"
	"github.com/S-Corkum/prd-engine/internal/rag"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/store"
)

// DefaultConfidenceThreshold gates generation behind clarifications
const DefaultConfidenceThreshold = 0.70

// Generator is the provider-facing slice of the orchestrator the engine uses
type Generator interface {
	GeneratePRD(ctx context.Context, cmd providers.GenerateCommand, feed providers.ContextFeed) (*providers.GenerateResult, error)
	AnalyzeRequirements(ctx context.Context, title, description string) (*providers.RequirementsAnalysis, error)
}

// MockupAnalyzer consolidates mockup analyses for a request
type MockupAnalyzer interface {
	AnalyzeMockups(ctx context.Context, requestID uuid.UUID) (*models.ConsolidatedAnalysis, error)
	MarkProcessed(ctx context.Context, requestID uuid.UUID) error
}

// CodeRetriever finds relevant chunks across linked codebase projects
type CodeRetriever interface {
	RetrieveAll(ctx context.Context, projectIDs []uuid.UUID, title, description string) (*rag.Result, error)
}

// Command starts or resumes generation for one request. Answers carries the
// clarification round answered by the requester when resuming.
type Command struct {
	RequestID uuid.UUID
	Answers   []models.Clarification
}

// Outcome is the result of one engine run: either a clarification round or
// a completed document.
type Outcome struct {
	NeedsClarification bool
	Clarifications     []models.Clarification
	Document           *models.PRDDocument
	Confidence         float64
	Provider           string
}

// Events are optional callbacks fired on engine checkpoints. Section fires
// once per parsed section in ascending order, before the document is
// attached.
type Events struct {
	Progress func(stage, message string)
	Section  func(section models.PRDSection)
}

func (e Events) progress(stage, message string) {
	if e.Progress != nil {
		e.Progress(stage, message)
	}
}

func (e Events) section(s models.PRDSection) {
	if e.Section != nil {
		e.Section(s)
	}
}

// Options configure an engine
type Options struct {
	// ClarificationsEnabled gates generation behind a clarification round
	// when confidence falls below the threshold
	ClarificationsEnabled bool

	// ConfidenceThreshold overrides the default 0.70 gate; zero keeps the
	// default
	ConfidenceThreshold float64
}

// Engine coordinates the generation workflow
type Engine struct {
	store     store.Store
	projects  repository.Repository
	generator Generator
	mockups   MockupAnalyzer
	retriever CodeRetriever
	opts      Options
	logger    observability.Logger
	metrics   *observability.MetricsClient
}

// New creates an engine. The mockup analyzer and retriever may be nil when
// the deployment has no object storage or no indexed codebases.
func New(st store.Store, projects repository.Repository, generator Generator,
	mockups MockupAnalyzer, retriever CodeRetriever, opts Options,
	logger observability.Logger, metrics *observability.MetricsClient) *Engine {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Engine{
		store:     st,
		projects:  projects,
		generator: generator,
		mockups:   mockups,
		retriever: retriever,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// Generate runs the workflow for one request. The request must be in a state
// that accepts work. On provider failure the request transitions to failed
// and no partial document is persisted.
func (e *Engine) Generate(ctx context.Context, cmd Command, events Events) (*Outcome, error) {
	started := time.Now()
	request, err := e.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !request.Status.AcceptsWork() {
		return nil, models.NewErrorf(models.ErrBusinessRule,
			"request %s in state %s does not accept generation", request.ID, request.Status)
	}
	if request, err = e.store.TransitionRequest(ctx, request.ID, models.StatusProcessing, ""); err != nil {
		return nil, err
	}

	outcome, err := e.run(ctx, request, cmd, events)
	if err != nil {
		// A cancelled session ends the request as cancelled, not failed.
		terminal := models.StatusFailed
		if ctx.Err() != nil {
			terminal = models.StatusCancelled
		}
		if _, terr := e.store.TransitionRequest(context.WithoutCancel(ctx), request.ID, terminal, err.Error()); terr != nil {
			e.logger.Error("failed to mark request failed", map[string]interface{}{
				"request_id": request.ID,
				"error":      terr.Error(),
			})
		}
		e.metrics.RecordCounter("engine_generation_failed", 1, map[string]string{})
		return nil, err
	}
	e.metrics.RecordTimer("engine_generation", time.Since(started), map[string]string{
		"outcome": outcomeLabel(outcome),
	})
	return outcome, nil
}

func outcomeLabel(o *Outcome) string {
	if o.NeedsClarification {
		return "clarification_needed"
	}
	return "completed"
}

func (e *Engine) run(ctx context.Context, request *models.PRDRequest, cmd Command, events Events) (*Outcome, error) {
	events.progress("analyze", "Analyzing requirements")
	analysis, err := e.generator.AnalyzeRequirements(ctx, request.Title, request.Description)
	if err != nil {
		return nil, err
	}

	var consolidated *models.ConsolidatedAnalysis
	uploads, err := e.store.ListMockupUploads(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	if len(uploads) > 0 && e.mockups != nil {
		events.progress("analyze", "Analyzing mockups")
		if consolidated, err = e.mockups.AnalyzeMockups(ctx, request.ID); err != nil {
			return nil, err
		}
	}

	confidence := CombineConfidence(analysis.Confidence, consolidated, countAnswered(cmd.Answers))
	e.logger.Info("requirements analyzed", map[string]interface{}{
		"request_id":  request.ID,
		"text_conf":   analysis.Confidence,
		"combined":    confidence,
		"ambiguities": len(analysis.Ambiguities),
	})

	clarifications := MergeClarifications(
		DeriveFromAnalysis(analysis),
		DeriveFromMockups(consolidated),
		cmd.Answers,
	)

	if confidence < e.opts.ConfidenceThreshold && e.opts.ClarificationsEnabled {
		if open := unanswered(clarifications); len(open) > 0 {
			if _, err := e.store.TransitionRequest(ctx, request.ID, models.StatusClarificationNeeded, ""); err != nil {
				return nil, err
			}
			events.progress("clarify", "Clarification needed before generation")
			return &Outcome{
				NeedsClarification: true,
				Clarifications:     open,
				Confidence:         confidence,
			}, nil
		}
	}

	events.progress("retrieve", "Collecting context")
	code, linked, err := e.retrieveCode(ctx, request)
	if err != nil {
		return nil, err
	}

	plan, err := contextbuilder.Build(contextbuilder.Input{
		Request:        request,
		Clarifications: answered(clarifications),
		Analysis:       analysis,
		Mockups:        consolidated,
		Projects:       linked,
		Code:           code,
	})
	if err != nil {
		return nil, err
	}

	events.progress("generate", "Generating document")
	result, err := e.generator.GeneratePRD(ctx, providers.GenerateCommand{
		RequestID:   request.ID,
		Title:       request.Title,
		Instruction: plan.Instruction,
	}, plan.Feed())
	if err != nil {
		return nil, err
	}
	events.progress("provider-selected", result.Provider)

	doc, err := e.buildDocument(request, result, confidence)
	if err != nil {
		return nil, err
	}
	for _, section := range doc.Sections {
		events.section(section)
		events.progress("section", section.Title)
	}

	if err := e.store.AttachDocument(ctx, doc); err != nil {
		return nil, err
	}
	if len(uploads) > 0 && e.mockups != nil {
		if err := e.mockups.MarkProcessed(ctx, request.ID); err != nil {
			e.logger.Warn("failed to mark mockups processed", map[string]interface{}{
				"request_id": request.ID,
				"error":      err.Error(),
			})
		}
	}

	e.logger.Info("document generated", map[string]interface{}{
		"request_id": request.ID,
		"document":   doc.ID,
		"provider":   result.Provider,
		"sections":   len(doc.Sections),
		"confidence": confidence,
	})
	return &Outcome{
		Document:   doc,
		Confidence: confidence,
		Provider:   result.Provider,
	}, nil
}

// retrieveCode runs RAG over linked projects whose index is complete. The
// fully indexed projects come back alongside the chunks so the context
// pipeline can describe the repositories themselves.
func (e *Engine) retrieveCode(ctx context.Context, request *models.PRDRequest) ([]repository.ScoredChunk, []*models.CodebaseProject, error) {
	if e.retriever == nil || e.projects == nil {
		return nil, nil, nil
	}
	links, err := e.store.ListCodebaseLinks(ctx, request.ID)
	if err != nil {
		return nil, nil, err
	}
	var projectIDs []uuid.UUID
	var indexed []*models.CodebaseProject
	for _, link := range links {
		project, err := e.projects.GetProject(ctx, link.ProjectID)
		if err != nil {
			if models.IsKind(err, models.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		if project.IndexingStatus == models.IndexingCompleted && project.TotalChunks > 0 {
			projectIDs = append(projectIDs, project.ID)
			indexed = append(indexed, project)
		}
	}
	if len(projectIDs) == 0 {
		return nil, nil, nil
	}
	result, err := e.retriever.RetrieveAll(ctx, projectIDs, request.Title, request.Description)
	if err != nil {
		return nil, nil, err
	}
	return result.Chunks, indexed, nil
}

// buildDocument parses the generated markdown into a validated document
func (e *Engine) buildDocument(request *models.PRDRequest, result *providers.GenerateResult, confidence float64) (*models.PRDDocument, error) {
	if strings.TrimSpace(result.Content) == "" {
		return nil, models.NewError(models.ErrProcessingFailed, "provider returned empty content")
	}
	title, sections := ParseSections(result.Content)
	if title == "" {
		title = request.Title
	}

	wordCount := len(strings.Fields(result.Content))
	doc := &models.PRDDocument{
		ID:          uuid.New(),
		RequestID:   request.ID,
		Title:       title,
		Content:     result.Content,
		Sections:    sections,
		Confidence:  confidence,
		GeneratedBy: result.Provider,
		Version:     1,
		GeneratedAt: time.Now().UTC(),
		Metadata: models.DocumentMetadata{
			Format:            "markdown",
			Language:          "en",
			WordCount:         wordCount,
			EstimatedReadTime: models.EstimateReadTime(wordCount),
		},
	}
	if confidence < models.ReviewThreshold {
		doc.Metadata.Tags = append(doc.Metadata.Tags, models.TagNeedsReview)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func countAnswered(clarifications []models.Clarification) int {
	n := 0
	for _, c := range clarifications {
		if strings.TrimSpace(c.Answer) != "" {
			n++
		}
	}
	return n
}

func answered(clarifications []models.Clarification) []models.Clarification {
	var out []models.Clarification
	for _, c := range clarifications {
		if strings.TrimSpace(c.Answer) != "" {
			out = append(out, c)
		}
	}
	return out
}

func unanswered(clarifications []models.Clarification) []models.Clarification {
	var out []models.Clarification
	for _, c := range clarifications {
		if strings.TrimSpace(c.Answer) == "" {
			out = append(out, c)
		}
	}
	return out
}
