// Package rag retrieves code context relevant to a PRD request from indexed
// codebases. Retrieval is embedding-based: the request is reduced to a short
// technical query, embedded, and matched against stored chunk vectors.
package rag

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/embedding"
	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/repository"
)

const (
	// DefaultThreshold is the minimum similarity for a chunk to be used
	DefaultThreshold = 0.7

	// DefaultLimit bounds how many chunks one retrieval returns
	DefaultLimit = 10

	// maxQueryTokens caps the embedded query at whitespace tokens
	maxQueryTokens = 50
)

// technicalKeywords is the closed vocabulary used to distill a request into
// a retrieval query. Order matters: earlier keywords are kept first when the
// token cap truncates the query.
var technicalKeywords = []string{
	"api", "authentication", "database", "cache", "queue", "service",
	"repository", "controller", "model", "view", "async", "sync",
	"real-time", "webhook", "rest", "graphql", "storage", "persistence",
	"validation", "security", "encryption", "performance", "optimization",
	"scalability", "architecture",
}

// Result is the outcome of one retrieval pass
type Result struct {
	Query          string
	Chunks         []repository.ScoredChunk
	MeanSimilarity float64
}

// Retriever finds relevant code chunks for a request
type Retriever struct {
	repo      repository.Repository
	embedder  embedding.Service
	threshold float64
	limit     int
	logger    observability.Logger
}

// NewRetriever creates a retriever. Zero threshold and limit select defaults.
func NewRetriever(repo repository.Repository, embedder embedding.Service,
	threshold float64, limit int, logger observability.Logger) *Retriever {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Retriever{
		repo:      repo,
		embedder:  embedder,
		threshold: threshold,
		limit:     limit,
		logger:    logger,
	}
}

// BuildQuery distills a request into a retrieval query: the title plus any
// technical keywords appearing in the description, capped at 50 whitespace
// tokens
func BuildQuery(title, description string) string {
	parts := []string{strings.TrimSpace(title)}
	lower := strings.ToLower(description)
	for _, keyword := range technicalKeywords {
		if strings.Contains(lower, keyword) {
			parts = append(parts, keyword)
		}
	}
	fields := strings.Fields(strings.Join(parts, " "))
	if len(fields) > maxQueryTokens {
		fields = fields[:maxQueryTokens]
	}
	return strings.Join(fields, " ")
}

// Retrieve searches one project for chunks relevant to the request. An empty
// result is not an error: generation proceeds without code context.
func (r *Retriever) Retrieve(ctx context.Context, projectID uuid.UUID, title, description string) (*Result, error) {
	query := BuildQuery(title, description)
	if query == "" {
		return &Result{}, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.repo.SimilarChunks(ctx, projectID, vector, r.limit, r.threshold)
	if err != nil {
		return nil, err
	}

	result := &Result{Query: query, Chunks: scored}
	if len(scored) > 0 {
		var sum float64
		for _, chunk := range scored {
			sum += chunk.Similarity
		}
		result.MeanSimilarity = sum / float64(len(scored))
	}
	r.logger.Debug("code retrieval complete", map[string]interface{}{
		"project_id": projectID,
		"query":      query,
		"chunks":     len(scored),
		"mean":       result.MeanSimilarity,
	})
	return result, nil
}

// RetrieveAll searches every linked project and merges the results, keeping
// the global ordering by similarity with (filePath, startLine) tie-breaks
func (r *Retriever) RetrieveAll(ctx context.Context, projectIDs []uuid.UUID, title, description string) (*Result, error) {
	merged := &Result{Query: BuildQuery(title, description)}
	for _, projectID := range projectIDs {
		result, err := r.Retrieve(ctx, projectID, title, description)
		if err != nil {
			if models.IsKind(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		merged.Chunks = append(merged.Chunks, result.Chunks...)
	}

	sort.SliceStable(merged.Chunks, func(i, j int) bool {
		a, b := merged.Chunks[i], merged.Chunks[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Chunk.FilePath != b.Chunk.FilePath {
			return a.Chunk.FilePath < b.Chunk.FilePath
		}
		return a.Chunk.StartLine < b.Chunk.StartLine
	})
	if len(merged.Chunks) > r.limit {
		merged.Chunks = merged.Chunks[:r.limit]
	}
	if len(merged.Chunks) > 0 {
		var sum float64
		for _, chunk := range merged.Chunks {
			sum += chunk.Similarity
		}
		merged.MeanSimilarity = sum / float64(len(merged.Chunks))
	}
	return merged, nil
}
