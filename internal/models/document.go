package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SectionType is the closed enum of PRD section kinds. Unrecognized headings
// round-trip as SectionAppendix rather than failing.
type SectionType string

const (
	SectionExecutiveSummary          SectionType = "executive_summary"
	SectionProblemStatement          SectionType = "problem_statement"
	SectionUserStories               SectionType = "user_stories"
	SectionFunctionalRequirements    SectionType = "functional_requirements"
	SectionNonFunctionalRequirements SectionType = "non_functional_requirements"
	SectionTechnicalRequirements     SectionType = "technical_requirements"
	SectionAcceptanceCriteria        SectionType = "acceptance_criteria"
	SectionTimeline                  SectionType = "timeline"
	SectionRisks                     SectionType = "risks"
	SectionAppendix                  SectionType = "appendix"
)

// PRDSection is one ordered unit of a generated document
type PRDSection struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	SectionType SectionType `json:"section_type"`
	Order       int         `json:"order"`
}

// DocumentMetadata describes a generated document
type DocumentMetadata struct {
	Format            string   `json:"format"`
	Language          string   `json:"language"`
	WordCount         int      `json:"word_count"`
	EstimatedReadTime int      `json:"estimated_read_time"`
	Tags              []string `json:"tags,omitempty"`
	Attachments       []string `json:"attachments,omitempty"`
}

// TagNeedsReview marks documents generated below the review threshold
const TagNeedsReview = "needs-review"

// ReviewThreshold is the confidence below which a document needs review
const ReviewThreshold = 0.7

// PRDDocument is the generated artifact, strongly keyed to one request
type PRDDocument struct {
	ID                   uuid.UUID        `json:"id" db:"id"`
	RequestID            uuid.UUID        `json:"request_id" db:"request_id"`
	Title                string           `json:"title" db:"title"`
	Content              string           `json:"content" db:"content"`
	Sections             []PRDSection     `json:"sections"`
	Metadata             DocumentMetadata `json:"metadata"`
	Confidence           float64          `json:"confidence" db:"confidence"`
	GeneratedBy          string           `json:"generated_by" db:"generated_by"`
	Version              int              `json:"version" db:"version"`
	GeneratedAt          time.Time        `json:"generated_at" db:"generated_at"`
	ProfessionalAnalysis string           `json:"professional_analysis,omitempty" db:"professional_analysis"`
}

// EstimateReadTime derives minutes of reading from a word count
func EstimateReadTime(wordCount int) int {
	minutes := wordCount / 200
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Validate enforces the document invariants
func (d *PRDDocument) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return NewError(ErrValidation, "document title is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		return NewError(ErrValidation, "document content is required")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return NewErrorf(ErrValidation, "confidence %f out of range [0,1]", d.Confidence)
	}
	if d.Version < 1 {
		return NewError(ErrValidation, "document version must be >= 1")
	}
	if d.Confidence < ReviewThreshold && !d.HasTag(TagNeedsReview) {
		return NewErrorf(ErrBusinessRule,
			"documents with confidence below %.2f must carry the %q tag", ReviewThreshold, TagNeedsReview)
	}
	if d.Metadata.EstimatedReadTime != EstimateReadTime(d.Metadata.WordCount) {
		return NewError(ErrValidation, "estimated read time does not match word count")
	}
	return nil
}

// HasTag reports whether the document carries a metadata tag
func (d *PRDDocument) HasTag(tag string) bool {
	for _, t := range d.Metadata.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ClassifySection maps a heading to a section type by case-insensitive
// substring match. Unmatched headings become the appendix.
func ClassifySection(heading string) SectionType {
	h := strings.ToLower(heading)
	switch {
	case strings.Contains(h, "executive"), strings.Contains(h, "summary"):
		return SectionExecutiveSummary
	case strings.Contains(h, "problem"):
		return SectionProblemStatement
	case strings.Contains(h, "user stor"):
		return SectionUserStories
	case strings.Contains(h, "non-functional"), strings.Contains(h, "nfr"):
		return SectionNonFunctionalRequirements
	case strings.Contains(h, "functional requirement"):
		return SectionFunctionalRequirements
	case strings.Contains(h, "technical"):
		return SectionTechnicalRequirements
	case strings.Contains(h, "acceptance"):
		return SectionAcceptanceCriteria
	case strings.Contains(h, "timeline"), strings.Contains(h, "milestone"):
		return SectionTimeline
	case strings.Contains(h, "risk"):
		return SectionRisks
	default:
		return SectionAppendix
	}
}
