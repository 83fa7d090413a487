// Package embedding wraps the embedding collaborator: 1536-dimension vectors
// for code chunks and retrieval queries, produced by the same model family so
// distances are comparable.
package embedding

import (
	"context"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// Service generates embeddings for text
type Service interface {
	// Embed generates one vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts, preserving order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the model name recorded on stored embeddings
	Model() string
}

// validateDimensions rejects vectors that do not match the fixed schema width
func validateDimensions(vec []float32) error {
	if len(vec) != models.EmbeddingDimensions {
		return models.NewErrorf(models.ErrProcessingFailed,
			"embedding has %d dimensions, expected %d", len(vec), models.EmbeddingDimensions)
	}
	return nil
}
