package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/S-Corkum/prd-engine/internal/models"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"
	defaultTimeout        = 30 * time.Second

	// Maximum batch size accepted per OpenAI API call
	maxOpenAIBatchSize = 16
)

// OpenAIEmbeddingRequest represents a request to the OpenAI embeddings API
type OpenAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OpenAIEmbeddingResponse represents a response from the OpenAI embeddings API
type OpenAIEmbeddingResponse struct {
	Data  []OpenAIEmbeddingData `json:"data"`
	Model string                `json:"model"`
}

// OpenAIEmbeddingData represents embedding data in an OpenAI API response
type OpenAIEmbeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// OpenAIService implements Service using OpenAI's embeddings API. Calls are
// rate-limited at the client to respect upstream quotas.
type OpenAIService struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewOpenAIService creates a new OpenAI embedding service
func NewOpenAIService(apiKey, model string, ratePerSecond float64, burst int) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, models.NewError(models.ErrUnauthorized, "OpenAI API key is required for embeddings")
	}
	if model == "" {
		model = models.DefaultEmbeddingModel
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &OpenAIService{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultOpenAIEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}, nil
}

// WithEndpoint overrides the API endpoint. Tests only.
func (s *OpenAIService) WithEndpoint(endpoint string) *OpenAIService {
	s.endpoint = endpoint
	return s
}

func (s *OpenAIService) Model() string { return s.model }

func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, models.NewError(models.ErrValidation, "embedding input cannot be empty")
	}
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, models.NewError(models.ErrProcessingFailed, "no embeddings generated")
	}
	return vectors[0], nil
}

func (s *OpenAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, models.NewError(models.ErrValidation, "no texts provided for embedding generation")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxOpenAIBatchSize {
		end := start + maxOpenAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (s *OpenAIService) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, models.WrapError(models.ErrTimeout, "embedding rate limit wait cancelled", err)
	}

	jsonData, err := json.Marshal(OpenAIEmbeddingRequest{Model: s.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "embedding API request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, models.NewErrorf(models.ErrUnauthorized, "embedding API rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewErrorf(models.ErrProcessingFailed,
			"embedding API transient failure (status %d): %s", resp.StatusCode, string(body))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewErrorf(models.ErrValidation,
			"embedding API rejected request (status %d): %s", resp.StatusCode, string(body))
	}

	var response OpenAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to decode embedding response", err)
	}
	if len(response.Data) != len(texts) {
		return nil, models.NewErrorf(models.ErrProcessingFailed,
			"embedding API returned %d vectors for %d inputs", len(response.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range response.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, models.NewErrorf(models.ErrProcessingFailed, "embedding index %d out of range", data.Index)
		}
		if err := validateDimensions(data.Embedding); err != nil {
			return nil, err
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}
