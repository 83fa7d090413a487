package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// MockProvider is a scriptable provider used in tests and in deployments
// without provider credentials. By default it produces a deterministic
// skeleton PRD derived from the command.
type MockProvider struct {
	name     string
	priority int
	privacy  PrivacyLevel

	mu        sync.Mutex
	available bool
	failures  []error // consumed one per call before succeeding
	calls     int

	// GenerateFn overrides the default PRD generation when set
	GenerateFn func(cmd GenerateCommand, feed ContextFeed) (*GenerateResult, error)

	// AnalysisFn overrides the default requirements analysis when set
	AnalysisFn func(title, description string) (*RequirementsAnalysis, error)

	// MockupFn overrides the default mockup analysis when set
	MockupFn func(cmd MockupAnalysisCommand) (*models.MockupAnalysis, error)
}

// NewMockProvider creates a mock provider
func NewMockProvider(name string, priority int, privacy PrivacyLevel) *MockProvider {
	return &MockProvider{name: name, priority: priority, privacy: privacy, available: true}
}

// SetAvailable toggles availability
func (p *MockProvider) SetAvailable(available bool) {
	p.mu.Lock()
	p.available = available
	p.mu.Unlock()
}

// FailNext queues errors returned by upcoming calls, in order
func (p *MockProvider) FailNext(errs ...error) {
	p.mu.Lock()
	p.failures = append(p.failures, errs...)
	p.mu.Unlock()
}

// Calls reports how many provider calls were attempted
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MockProvider) Name() string                  { return p.name }
func (p *MockProvider) Priority() int                 { return p.priority }
func (p *MockProvider) MaxPrivacyLevel() PrivacyLevel { return p.privacy }

func (p *MockProvider) IsAvailable(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *MockProvider) nextFailure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.failures) == 0 {
		return nil
	}
	err := p.failures[0]
	p.failures = p.failures[1:]
	return err
}

func (p *MockProvider) GeneratePRD(ctx context.Context, cmd GenerateCommand, feed ContextFeed) (*GenerateResult, error) {
	if err := p.nextFailure(); err != nil {
		return nil, err
	}
	if p.GenerateFn != nil {
		return p.GenerateFn(cmd, feed)
	}
	var body strings.Builder
	fmt.Fprintf(&body, "# %s\n\n", cmd.Title)
	body.WriteString("## Overview\n\nGenerated product requirements document.\n\n")
	body.WriteString("## Functional Requirements\n\nThe system shall satisfy the described behavior.\n")
	return &GenerateResult{Content: body.String(), TokensUsed: 128, Provider: p.name}, nil
}

func (p *MockProvider) AnalyzeRequirements(ctx context.Context, title, description string) (*RequirementsAnalysis, error) {
	if err := p.nextFailure(); err != nil {
		return nil, err
	}
	if p.AnalysisFn != nil {
		return p.AnalysisFn(title, description)
	}
	// Longer descriptions read as more completely specified.
	confidence := 0.4 + float64(len(description))/2000
	if confidence > 0.95 {
		confidence = 0.95
	}
	return &RequirementsAnalysis{Confidence: confidence}, nil
}

func (p *MockProvider) AnalyzeMockupImage(ctx context.Context, cmd MockupAnalysisCommand) (*models.MockupAnalysis, error) {
	if err := p.nextFailure(); err != nil {
		return nil, err
	}
	if p.MockupFn != nil {
		return p.MockupFn(cmd)
	}
	return &models.MockupAnalysis{
		UIElements: []models.UIElement{
			{Type: models.UIButton, Label: "Submit", Confidence: 0.9},
		},
		Layout:     models.LayoutStructure{ScreenType: "form", PrimaryLayout: "vertical"},
		Confidence: 0.8,
	}, nil
}
