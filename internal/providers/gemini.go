package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/S-Corkum/prd-engine/internal/models"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiProvider calls the Gemini generateContent API. Like OpenAI it is an
// external provider. Vision calls are not supported here; the orchestrator
// routes mockup analysis to a provider that handles images.
type GeminiProvider struct {
	apiKey   string
	model    string
	endpoint string
	priority int
	client   *http.Client
}

// NewGeminiProvider creates a Gemini-backed provider
func NewGeminiProvider(apiKey, model string, priority int) *GeminiProvider {
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GeminiProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultGeminiEndpoint,
		priority: priority,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// WithEndpoint overrides the API endpoint. Tests only.
func (p *GeminiProvider) WithEndpoint(endpoint string) *GeminiProvider {
	p.endpoint = endpoint
	return p
}

func (p *GeminiProvider) Name() string                  { return "gemini" }
func (p *GeminiProvider) Priority() int                 { return p.priority }
func (p *GeminiProvider) MaxPrivacyLevel() PrivacyLevel { return PrivacyExternal }

func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig *struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *GeminiProvider) GeneratePRD(ctx context.Context, cmd GenerateCommand, feed ContextFeed) (*GenerateResult, error) {
	contents := []geminiContent{{Role: "user", Parts: []geminiPart{{Text: systemPrompt}}}}
	contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: "Understood."}}})

	segments := feed.Segments()
	for i, segment := range segments {
		if i == len(segments)-1 {
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: segment + "\n\n" + cmd.Instruction}}})
			break
		}
		contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: segment}}})
		contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: feed.Ack(i)}}})
	}
	if len(segments) == 0 {
		contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: cmd.Instruction}}})
	}

	request := geminiRequest{Contents: contents}
	if cmd.MaxTokens > 0 || cmd.Temperature > 0 {
		request.GenerationConfig = &struct {
			MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
			Temperature     float64 `json:"temperature,omitempty"`
		}{MaxOutputTokens: cmd.MaxTokens, Temperature: cmd.Temperature}
	}

	text, tokens, err := p.generate(ctx, request)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Content: text, TokensUsed: tokens, Provider: p.Name()}, nil
}

func (p *GeminiProvider) AnalyzeRequirements(ctx context.Context, title, description string) (*RequirementsAnalysis, error) {
	text, _, err := p.generate(ctx, geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: analyzePrompt(title, description)}}}},
	})
	if err != nil {
		return nil, err
	}
	return parseRequirementsAnalysis(text)
}

func (p *GeminiProvider) AnalyzeMockupImage(ctx context.Context, cmd MockupAnalysisCommand) (*models.MockupAnalysis, error) {
	return nil, models.NewError(models.ErrValidation, "gemini provider does not support mockup analysis")
}

func (p *GeminiProvider) generate(ctx context.Context, request geminiRequest) (string, int, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal generate request: %w", err)
	}
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.endpoint, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, models.WrapError(models.ErrProcessingFailed, "gemini API request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", 0, models.NewErrorf(models.ErrUnauthorized, "gemini API rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, models.NewErrorf(models.ErrProcessingFailed,
			"gemini API transient failure (status %d): %s", resp.StatusCode, string(body))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, models.NewErrorf(models.ErrValidation,
			"gemini API rejected request (status %d): %s", resp.StatusCode, string(body))
	}

	var response geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", 0, models.WrapError(models.ErrProcessingFailed, "failed to decode gemini response", err)
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", 0, models.NewError(models.ErrProcessingFailed, "gemini returned no candidates")
	}
	return response.Candidates[0].Content.Parts[0].Text, response.UsageMetadata.TotalTokenCount, nil
}
