// Package contextbuilder assembles the context a provider sees before
// generating a PRD. Everything here is deterministic arithmetic over the
// inputs: token estimation, budget-driven strategy selection, and text
// condensation. The same inputs always produce the same segments.
package contextbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/providers"
	"github.com/S-Corkum/prd-engine/internal/repository"
)

const (
	// ContextWindow is the assumed provider context window in tokens
	ContextWindow = 4096

	// ResponseReserve is held back for the provider's own output
	ResponseReserve = 500

	// AvailableBudget is what context may consume
	AvailableBudget = ContextWindow - ResponseReserve

	// MaxSegmentTokens caps one delivery segment in multi-turn mode
	MaxSegmentTokens = 2500

	// MaxSegments bounds the multi-turn protocol
	MaxSegments = 10

	// codeExcerptChars truncates a quoted code chunk
	codeExcerptChars = 800
)

// Condensation caps applied by the summarized strategy
const (
	condensedUIEntries    = 20
	condensedFlowEntries  = 10
	condensedLogicEntries = 15
	condensedCodeEntries  = 25
)

// Caps on the codebase overview block
const (
	overviewLanguages  = 10
	overviewFrameworks = 10
)

// Strategy names how context is delivered
type Strategy string

const (
	StrategySinglePass Strategy = "single_pass"
	StrategyMultiTurn  Strategy = "multi_turn"
	StrategySummarized Strategy = "summarized"
)

// Input is everything known about a request at generation time. Projects are
// the linked codebase projects whose index is complete; they feed the
// overview block alongside the retrieved chunks.
type Input struct {
	Request        *models.PRDRequest
	Clarifications []models.Clarification
	Analysis       *providers.RequirementsAnalysis
	Mockups        *models.ConsolidatedAnalysis
	Projects       []*models.CodebaseProject
	Code           []repository.ScoredChunk
}

// Plan is the delivery plan handed to the provider layer
type Plan struct {
	Strategy    Strategy
	Segments    []string
	Acks        []string // ack recorded after segment i; last segment has none
	Instruction string
	TotalTokens int
}

// Feed adapts a Plan to the provider ContextFeed port
func (p *Plan) Feed() providers.ContextFeed {
	return providers.NewStaticFeed(p.Segments, p.Acks)
}

// EstimateTokens approximates token usage: prose averages 4 characters per
// token, code 3
func EstimateTokens(text string, isCode bool) int {
	if text == "" {
		return 0
	}
	if isCode {
		return (len(text) + 2) / 3
	}
	return (len(text) + 3) / 4
}

// ackTemplate is the deterministic acknowledgement standing in for the
// provider's reply between context segments
func ackTemplate(part, total int) string {
	return fmt.Sprintf("Acknowledged context part %d of %d. Ready for the next part.", part, total)
}

// section is one prioritized context block. Lower priority number means it
// is kept longer when the budget shrinks.
type section struct {
	priority int
	title    string
	body     string
	isCode   bool
}

func (s section) tokens() int {
	return EstimateTokens(s.body, s.isCode)
}

// Build assembles the delivery plan for a request
func Build(input Input) (*Plan, error) {
	if input.Request == nil {
		return nil, models.NewError(models.ErrValidation, "context build requires a request")
	}

	sections := collectSections(input, false)
	total := 0
	for _, s := range sections {
		total += s.tokens()
	}

	instruction := generationInstruction(input)
	instructionTokens := EstimateTokens(instruction, false)

	switch {
	case total+instructionTokens <= AvailableBudget:
		body := renderSections(sections)
		return &Plan{
			Strategy:    StrategySinglePass,
			Segments:    []string{body},
			Instruction: instruction,
			TotalTokens: EstimateTokens(body, false) + instructionTokens,
		}, nil

	case total+instructionTokens <= MaxSegments*MaxSegmentTokens:
		segments := splitSegments(sections)
		if len(segments) <= MaxSegments {
			acks := make([]string, 0, len(segments)-1)
			for i := 1; i < len(segments); i++ {
				acks = append(acks, ackTemplate(i, len(segments)))
			}
			return &Plan{
				Strategy:    StrategyMultiTurn,
				Segments:    segments,
				Acks:        acks,
				Instruction: instruction,
				TotalTokens: total + instructionTokens,
			}, nil
		}
		fallthrough

	default:
		condensed := collectSections(input, true)
		body := renderSections(condensed)
		for EstimateTokens(body, false)+instructionTokens > AvailableBudget && len(condensed) > 1 {
			// Drop the lowest-priority section until the summary fits.
			condensed = condensed[:len(condensed)-1]
			body = renderSections(condensed)
		}
		return &Plan{
			Strategy:    StrategySummarized,
			Segments:    []string{body},
			Instruction: instruction,
			TotalTokens: EstimateTokens(body, false) + instructionTokens,
		}, nil
	}
}

// collectSections builds the prioritized context blocks. Condensed mode
// applies the summarization caps.
func collectSections(input Input, condensed bool) []section {
	var sections []section

	req := input.Request
	var core strings.Builder
	fmt.Fprintf(&core, "Product request: %s\n", req.Title)
	fmt.Fprintf(&core, "Priority: %s\n\n", req.Priority)
	core.WriteString(req.Description)
	sections = append(sections, section{priority: 1, title: "Request", body: core.String()})

	if answered := answeredClarifications(input.Clarifications); len(answered) > 0 {
		var b strings.Builder
		for _, c := range answered {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", c.Question, c.Answer)
		}
		sections = append(sections, section{priority: 2, title: "Clarifications", body: strings.TrimSpace(b.String())})
	}

	if input.Mockups != nil && input.Mockups.MockupCount > 0 {
		body := renderMockups(input.Mockups, condensed)
		sections = append(sections, section{priority: 3, title: "Mockup Analysis", body: body})
	}

	if len(input.Projects) > 0 {
		// The overview is never condensed: the tech stack keeps the provider
		// anchored to the existing architecture.
		sections = append(sections, section{priority: 4, title: "Codebase Overview", body: renderOverview(input.Projects)})
	}

	if len(input.Code) > 0 {
		body := renderCode(input.Code, condensed)
		sections = append(sections, section{priority: 5, title: "Existing Codebase", body: body, isCode: !condensed})
	}

	if input.Analysis != nil && len(input.Analysis.Ambiguities) > 0 {
		var b strings.Builder
		b.WriteString("Aspects flagged as underspecified; make explicit, reasonable assumptions:\n")
		for _, ambiguity := range input.Analysis.Ambiguities {
			fmt.Fprintf(&b, "- %s\n", ambiguity)
		}
		sections = append(sections, section{priority: 6, title: "Open Points", body: strings.TrimSpace(b.String())})
	}
	return sections
}

// renderOverview describes each linked project: repository identity, dominant
// languages by byte count, detected frameworks, and architecture patterns
func renderOverview(projects []*models.CodebaseProject) string {
	var b strings.Builder
	for i, project := range projects {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Repository: %s (branch %s)\n", project.RepositoryURL, project.RepositoryBranch)
		if languages := topLanguages(project.DetectedLanguages, overviewLanguages); len(languages) > 0 {
			fmt.Fprintf(&b, "Languages: %s\n", strings.Join(languages, ", "))
		}
		if frameworks := project.DetectedFrameworks; len(frameworks) > 0 {
			if len(frameworks) > overviewFrameworks {
				frameworks = frameworks[:overviewFrameworks]
			}
			fmt.Fprintf(&b, "Frameworks: %s\n", strings.Join(frameworks, ", "))
		}
		if len(project.ArchitecturePatterns) > 0 {
			fmt.Fprintf(&b, "Architecture: %s\n", strings.Join(project.ArchitecturePatterns, ", "))
		}
	}
	return strings.TrimSpace(b.String())
}

// topLanguages orders languages by byte count descending, name ascending on
// ties
func topLanguages(byBytes map[string]int64, limit int) []string {
	names := make([]string, 0, len(byBytes))
	for name := range byBytes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if byBytes[names[i]] != byBytes[names[j]] {
			return byBytes[names[i]] > byBytes[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}

func answeredClarifications(clarifications []models.Clarification) []models.Clarification {
	var answered []models.Clarification
	for _, c := range clarifications {
		if strings.TrimSpace(c.Answer) != "" {
			answered = append(answered, c)
		}
	}
	return answered
}

// renderMockups writes the consolidated mockup analysis. Condensed mode
// caps the bullet counts.
func renderMockups(consolidated *models.ConsolidatedAnalysis, condensed bool) string {
	uiCap, flowCap, logicCap := len(consolidated.UIElementTypes), len(consolidated.UserFlows), len(consolidated.BusinessLogic)
	if condensed {
		uiCap = minInt(uiCap, condensedUIEntries)
		flowCap = minInt(flowCap, condensedFlowEntries)
		logicCap = minInt(logicCap, condensedLogicEntries)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis of %d mockup(s), mean confidence %.2f.\n\n", consolidated.MockupCount, consolidated.MeanConfidence)
	if uiCap > 0 {
		b.WriteString("**UI Components:**\n")
		for _, elementType := range consolidated.UIElementTypes[:uiCap] {
			fmt.Fprintf(&b, "- %s\n", elementType)
		}
		b.WriteString("\n")
	}
	if flowCap > 0 {
		b.WriteString("**User Flows:**\n")
		for _, flow := range consolidated.UserFlows[:flowCap] {
			fmt.Fprintf(&b, "- %s\n", flow)
		}
		b.WriteString("\n")
	}
	if logicCap > 0 {
		b.WriteString("**Business Logic:**\n")
		for _, inference := range consolidated.BusinessLogic[:logicCap] {
			fmt.Fprintf(&b, "- %s (confidence %.2f)\n", inference.Description, inference.Confidence)
		}
	}
	return strings.TrimSpace(b.String())
}

// renderCode quotes retrieved chunks. Full mode includes truncated excerpts;
// condensed mode reduces each chunk to a one-line purpose entry.
func renderCode(chunks []repository.ScoredChunk, condensed bool) string {
	var b strings.Builder
	if condensed {
		limit := minInt(len(chunks), condensedCodeEntries)
		for _, scored := range chunks[:limit] {
			fmt.Fprintf(&b, "%s — Purpose: %s\n", scored.Chunk.FilePath, chunkPurpose(scored.Chunk))
		}
		b.WriteString("\nIntegrate the new requirements with the existing architecture described above.")
		return b.String()
	}

	for _, scored := range chunks {
		excerpt := scored.Chunk.Content
		if len(excerpt) > codeExcerptChars {
			excerpt = excerpt[:codeExcerptChars] + "\n// ... truncated"
		}
		fmt.Fprintf(&b, "File %s (lines %d-%d, similarity %.2f):\n```%s\n%s\n```\n\n",
			scored.Chunk.FilePath, scored.Chunk.StartLine, scored.Chunk.EndLine,
			scored.Similarity, scored.Chunk.Language, excerpt)
	}
	b.WriteString("Integrate the new requirements with the existing architecture described above.")
	return b.String()
}

// chunkPurpose derives a one-line description of a chunk from its symbols
func chunkPurpose(chunk models.CodeChunk) string {
	if len(chunk.Symbols) > 0 {
		return fmt.Sprintf("%s %s", chunk.ChunkType, strings.Join(chunk.Symbols, ", "))
	}
	return fmt.Sprintf("%s block (lines %d-%d)", chunk.ChunkType, chunk.StartLine, chunk.EndLine)
}

// renderSections joins sections into one delivery body
func renderSections(sections []section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", s.title, s.body)
	}
	return b.String()
}

// splitSegments packs sections into delivery segments under the per-segment
// cap. A single oversized section is split on line boundaries.
func splitSegments(sections []section) []string {
	var segments []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, s := range sections {
		rendered := fmt.Sprintf("## %s\n\n%s", s.title, s.body)
		tokens := EstimateTokens(rendered, s.isCode)

		if tokens > MaxSegmentTokens {
			flush()
			for _, piece := range splitByLines(rendered, s.isCode) {
				segments = append(segments, piece)
			}
			continue
		}
		if currentTokens+tokens > MaxSegmentTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(rendered)
		currentTokens += tokens
	}
	flush()
	return segments
}

// splitByLines breaks an oversized block on line boundaries
func splitByLines(text string, isCode bool) []string {
	var pieces []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if EstimateTokens(current.String()+line, isCode) > MaxSegmentTokens && current.Len() > 0 {
			pieces = append(pieces, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if current.Len() > 0 {
		pieces = append(pieces, strings.TrimRight(current.String(), "\n"))
	}
	return pieces
}

// generationInstruction is the final user turn after all context
func generationInstruction(input Input) string {
	var b strings.Builder
	b.WriteString("Using all context above, write the complete product requirements document for \"")
	b.WriteString(input.Request.Title)
	b.WriteString("\". Start with a \"# \" title line, use \"## \" for sections, and cover overview, ")
	b.WriteString("objectives, user stories, functional requirements, non-functional requirements, ")
	b.WriteString("and technical considerations.")
	return b.String()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
