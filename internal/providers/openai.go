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

const defaultOpenAIChatEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider calls OpenAI chat completions, including vision inputs for
// mockup analysis. It is an external provider: request data leaves the
// deployment boundary.
type OpenAIProvider struct {
	apiKey   string
	model    string
	endpoint string
	priority int
	client   *http.Client
}

// NewOpenAIProvider creates an OpenAI-backed provider
func NewOpenAIProvider(apiKey, model string, priority int) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultOpenAIChatEndpoint,
		priority: priority,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// WithEndpoint overrides the API endpoint. Tests only.
func (p *OpenAIProvider) WithEndpoint(endpoint string) *OpenAIProvider {
	p.endpoint = endpoint
	return p
}

func (p *OpenAIProvider) Name() string                  { return "openai" }
func (p *OpenAIProvider) Priority() int                 { return p.priority }
func (p *OpenAIProvider) MaxPrivacyLevel() PrivacyLevel { return PrivacyExternal }

func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIImagePart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// feedMessages turns a context feed into alternating user/assistant turns,
// using the recorded acknowledgement as each assistant reply
func feedMessages(feed ContextFeed, instruction string) []openAIMessage {
	messages := []openAIMessage{{Role: "system", Content: systemPrompt}}
	segments := feed.Segments()
	for i, segment := range segments {
		if i == len(segments)-1 {
			messages = append(messages, openAIMessage{Role: "user", Content: segment + "\n\n" + instruction})
			break
		}
		messages = append(messages, openAIMessage{Role: "user", Content: segment})
		messages = append(messages, openAIMessage{Role: "assistant", Content: feed.Ack(i)})
	}
	if len(segments) == 0 {
		messages = append(messages, openAIMessage{Role: "user", Content: instruction})
	}
	return messages
}

func (p *OpenAIProvider) GeneratePRD(ctx context.Context, cmd GenerateCommand, feed ContextFeed) (*GenerateResult, error) {
	resp, tokens, err := p.chat(ctx, openAIChatRequest{
		Model:       p.model,
		Messages:    feedMessages(feed, cmd.Instruction),
		MaxTokens:   cmd.MaxTokens,
		Temperature: cmd.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Content: resp, TokensUsed: tokens, Provider: p.Name()}, nil
}

func (p *OpenAIProvider) AnalyzeRequirements(ctx context.Context, title, description string) (*RequirementsAnalysis, error) {
	resp, _, err := p.chat(ctx, openAIChatRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "user", Content: analyzePrompt(title, description)},
		},
	})
	if err != nil {
		return nil, err
	}
	return parseRequirementsAnalysis(resp)
}

func (p *OpenAIProvider) AnalyzeMockupImage(ctx context.Context, cmd MockupAnalysisCommand) (*models.MockupAnalysis, error) {
	imagePart := openAIImagePart{Type: "image_url"}
	imagePart.ImageURL = &struct {
		URL string `json:"url"`
	}{URL: cmd.ImageURL}

	resp, _, err := p.chat(ctx, openAIChatRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "user", Content: []openAIImagePart{
				{Type: "text", Text: mockupPrompt(cmd)},
				imagePart,
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	return parseMockupAnalysis(resp)
}

func (p *OpenAIProvider) chat(ctx context.Context, request openAIChatRequest) (string, int, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, models.WrapError(models.ErrProcessingFailed, "chat API request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", 0, models.NewErrorf(models.ErrUnauthorized, "chat API rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, models.NewErrorf(models.ErrProcessingFailed,
			"chat API transient failure (status %d): %s", resp.StatusCode, string(body))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, models.NewErrorf(models.ErrValidation,
			"chat API rejected request (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", 0, models.WrapError(models.ErrProcessingFailed, "failed to decode chat response", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", 0, models.NewError(models.ErrProcessingFailed, "chat API returned no choices")
	}
	return chatResp.Choices[0].Message.Content, chatResp.Usage.TotalTokens, nil
}
