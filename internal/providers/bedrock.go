package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// BedrockAPI is the runtime-client seam for tests
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider calls Anthropic models through AWS Bedrock. Data stays
// within the deployment's cloud account, so it qualifies as privateCloud.
type BedrockProvider struct {
	client   BedrockAPI
	modelID  string
	priority int
	fetcher  *http.Client // downloads mockup images from signed URLs
}

// NewBedrockProvider creates a Bedrock-backed provider
func NewBedrockProvider(client BedrockAPI, modelID string, priority int) *BedrockProvider {
	if modelID == "" {
		modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &BedrockProvider{
		client:   client,
		modelID:  modelID,
		priority: priority,
		fetcher:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *BedrockProvider) Name() string                  { return "bedrock" }
func (p *BedrockProvider) Priority() int                 { return p.priority }
func (p *BedrockProvider) MaxPrivacyLevel() PrivacyLevel { return PrivacyPrivateCloud }

func (p *BedrockProvider) IsAvailable(ctx context.Context) bool {
	return p.client != nil
}

type anthropicContent struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Source *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func textMessage(role, text string) anthropicMessage {
	return anthropicMessage{Role: role, Content: []anthropicContent{{Type: "text", Text: text}}}
}

func (p *BedrockProvider) GeneratePRD(ctx context.Context, cmd GenerateCommand, feed ContextFeed) (*GenerateResult, error) {
	var messages []anthropicMessage
	segments := feed.Segments()
	for i, segment := range segments {
		if i == len(segments)-1 {
			messages = append(messages, textMessage("user", segment+"\n\n"+cmd.Instruction))
			break
		}
		messages = append(messages, textMessage("user", segment))
		messages = append(messages, textMessage("assistant", feed.Ack(i)))
	}
	if len(segments) == 0 {
		messages = append(messages, textMessage("user", cmd.Instruction))
	}

	maxTokens := cmd.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	text, tokens, err := p.invoke(ctx, anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           systemPrompt,
		Messages:         messages,
		Temperature:      cmd.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Content: text, TokensUsed: tokens, Provider: p.Name()}, nil
}

func (p *BedrockProvider) AnalyzeRequirements(ctx context.Context, title, description string) (*RequirementsAnalysis, error) {
	text, _, err := p.invoke(ctx, anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		Messages:         []anthropicMessage{textMessage("user", analyzePrompt(title, description))},
	})
	if err != nil {
		return nil, err
	}
	return parseRequirementsAnalysis(text)
}

func (p *BedrockProvider) AnalyzeMockupImage(ctx context.Context, cmd MockupAnalysisCommand) (*models.MockupAnalysis, error) {
	// Bedrock takes inline image bytes, not URLs: fetch through the signed
	// URL and embed the payload base64-encoded.
	data, mediaType, err := p.fetchImage(ctx, cmd.ImageURL, cmd.ContentType)
	if err != nil {
		return nil, err
	}

	imageContent := anthropicContent{Type: "image"}
	imageContent.Source = &struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	}{Type: "base64", MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)}

	text, _, err := p.invoke(ctx, anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        2048,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicContent{
				imageContent,
				{Type: "text", Text: mockupPrompt(cmd)},
			},
		}},
	})
	if err != nil {
		return nil, err
	}
	return parseMockupAnalysis(text)
}

func (p *BedrockProvider) fetchImage(ctx context.Context, url, contentType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := p.fetcher.Do(req)
	if err != nil {
		return nil, "", models.WrapError(models.ErrProcessingFailed, "failed to fetch mockup image", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", models.NewErrorf(models.ErrProcessingFailed,
			"mockup image fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, models.MaxMockupFileSize+1))
	if err != nil {
		return nil, "", models.WrapError(models.ErrProcessingFailed, "failed to read mockup image", err)
	}
	mediaType := contentType
	if mediaType == "" {
		mediaType = resp.Header.Get("Content-Type")
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/png"
	}
	return data, mediaType, nil
}

func (p *BedrockProvider) invoke(ctx context.Context, request anthropicRequest) (string, int, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal invoke payload: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return "", 0, models.WrapError(models.ErrProcessingFailed, "bedrock invocation failed", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(out.Body, &response); err != nil {
		return "", 0, models.WrapError(models.ErrProcessingFailed, "failed to decode bedrock response", err)
	}
	if len(response.Content) == 0 {
		return "", 0, models.NewError(models.ErrProcessingFailed, "bedrock returned no content")
	}
	var text strings.Builder
	for _, block := range response.Content {
		text.WriteString(block.Text)
	}
	return text.String(), response.Usage.InputTokens + response.Usage.OutputTokens, nil
}
