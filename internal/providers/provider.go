// Package providers abstracts the AI model backends that generate PRD
// content. The orchestrator selects among registered providers by privacy
// constraint, health, and priority; adapters translate one shared command
// shape into each backend's wire protocol.
package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// PrivacyLevel orders how far request data may travel. A deployment's
// configured maximum excludes every provider above it.
type PrivacyLevel int

const (
	PrivacyOnDevice PrivacyLevel = iota
	PrivacyPrivateCloud
	PrivacyExternal
)

func (l PrivacyLevel) String() string {
	switch l {
	case PrivacyOnDevice:
		return "onDevice"
	case PrivacyPrivateCloud:
		return "privateCloud"
	case PrivacyExternal:
		return "external"
	default:
		return fmt.Sprintf("privacyLevel(%d)", int(l))
	}
}

// ParsePrivacyLevel parses a configuration string
func ParsePrivacyLevel(s string) (PrivacyLevel, error) {
	switch s {
	case "onDevice":
		return PrivacyOnDevice, nil
	case "privateCloud":
		return PrivacyPrivateCloud, nil
	case "external":
		return PrivacyExternal, nil
	default:
		return 0, models.NewErrorf(models.ErrValidation, "unknown privacy level %q", s)
	}
}

// ContextFeed supplies the conversation segments prepared by the context
// pipeline. Multi-segment feeds are delivered as alternating user/assistant
// turns, with the recorded acknowledgement standing in for each assistant
// reply; single-pass feeds have exactly one segment.
type ContextFeed interface {
	// Segments returns the ordered context segments
	Segments() []string

	// Ack returns the acknowledgement recorded after segment i
	Ack(i int) string
}

// GenerateCommand describes one PRD generation call
type GenerateCommand struct {
	RequestID   uuid.UUID
	Title       string
	Instruction string // the final generation instruction appended after context
	MaxTokens   int
	Temperature float64
}

// GenerateResult is the provider's output for a generation call
type GenerateResult struct {
	Content    string
	TokensUsed int
	Provider   string
}

// RequirementsAnalysis is the structured read of a request's description
type RequirementsAnalysis struct {
	Confidence  float64  // how completely the description specifies the product
	Ambiguities []string // statements the provider flagged as underspecified
	Entities    []string // domain entities mentioned in the description
}

// MockupAnalysisCommand describes one mockup vision call. Existing analyses
// from earlier mockups of the same request are passed so the provider keeps
// terminology consistent across images.
type MockupAnalysisCommand struct {
	ImageURL           string
	ContentType        string
	RequestTitle       string
	RequestDescription string
	ExistingAnalyses   []models.MockupAnalysis
}

// Provider is one AI backend
type Provider interface {
	// Name identifies the provider in logs and generation metadata
	Name() string

	// Priority orders candidates; higher wins
	Priority() int

	// MaxPrivacyLevel is the furthest data sent to this provider travels
	MaxPrivacyLevel() PrivacyLevel

	// IsAvailable reports whether the provider is configured and reachable
	IsAvailable(ctx context.Context) bool

	// GeneratePRD produces the PRD markdown for a request
	GeneratePRD(ctx context.Context, cmd GenerateCommand, feed ContextFeed) (*GenerateResult, error)

	// AnalyzeRequirements scores how completely a description specifies
	// the product and surfaces ambiguities
	AnalyzeRequirements(ctx context.Context, title, description string) (*RequirementsAnalysis, error)

	// AnalyzeMockupImage extracts UI structure from one mockup image
	AnalyzeMockupImage(ctx context.Context, cmd MockupAnalysisCommand) (*models.MockupAnalysis, error)
}

// StaticFeed is a ContextFeed over a fixed segment list
type StaticFeed struct {
	segments []string
	acks     []string
}

// NewStaticFeed builds a feed from parallel segment and ack slices. The last
// segment needs no ack; a short ack slice is padded with empty strings.
func NewStaticFeed(segments, acks []string) *StaticFeed {
	return &StaticFeed{segments: segments, acks: acks}
}

func (f *StaticFeed) Segments() []string { return f.segments }

func (f *StaticFeed) Ack(i int) string {
	if i < len(f.acks) {
		return f.acks[i]
	}
	return ""
}
