package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// DeterministicService derives unit vectors from a content digest so tests
// and SKIP_DATABASE deployments get stable, comparable embeddings without a
// network dependency.
type DeterministicService struct {
	model string
}

// NewDeterministicService creates a deterministic embedding service
func NewDeterministicService() *DeterministicService {
	return &DeterministicService{model: "deterministic-sha256"}
}

func (s *DeterministicService) Model() string { return s.model }

func (s *DeterministicService) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, models.NewError(models.ErrValidation, "embedding input cannot be empty")
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, models.EmbeddingDimensions)
	var norm float64
	for i := range vec {
		word := binary.BigEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
		v := float32(word%2048)/1024 - 1
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (s *DeterministicService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
