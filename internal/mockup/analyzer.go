// Package mockup analyzes uploaded mockup images: one synchronous vision
// call per image, with earlier analyses fed back in so terminology stays
// consistent across a request's mockups. Consolidation merges per-image
// results into one request-level view.
package mockup

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/cache"
	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/providers"
	"github.com/S-Corkum/prd-engine/internal/storage"
	"github.com/S-Corkum/prd-engine/internal/store"
)

// signedURLTTL is how long the provider-facing image URL stays valid
const signedURLTTL = 3600 * time.Second

// VisionAnalyzer is the provider port for image analysis
type VisionAnalyzer interface {
	AnalyzeMockupImage(ctx context.Context, cmd providers.MockupAnalysisCommand) (*models.MockupAnalysis, error)
}

// Analyzer runs mockup analysis for PRD requests
type Analyzer struct {
	store   store.Store
	storage storage.MockupStorage
	vision  VisionAnalyzer
	cache   cache.Cache
	logger  observability.Logger
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(st store.Store, objects storage.MockupStorage, vision VisionAnalyzer,
	analysisCache cache.Cache, logger observability.Logger) *Analyzer {
	return &Analyzer{
		store:   st,
		storage: objects,
		vision:  vision,
		cache:   analysisCache,
		logger:  logger,
	}
}

// AnalyzeMockup analyzes one upload synchronously. The request must exist;
// earlier analyses of the same request are passed to the provider. Results
// are persisted on the upload record and cached by storage path.
func (a *Analyzer) AnalyzeMockup(ctx context.Context, requestID, uploadID uuid.UUID) (*models.MockupAnalysis, error) {
	request, err := a.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	upload, err := a.store.GetMockupUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if upload.RequestID != requestID {
		return nil, models.NewErrorf(models.ErrNotFound,
			"mockup %s does not belong to request %s", uploadID, requestID)
	}

	cacheKey := "mockup-analysis:" + upload.StoragePath
	if a.cache != nil {
		var cached models.MockupAnalysis
		if err := a.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	existing, err := a.existingAnalyses(ctx, requestID, uploadID)
	if err != nil {
		return nil, err
	}

	imageURL, err := a.storage.SignedURL(ctx, upload.StoragePath, signedURLTTL)
	if err != nil {
		return nil, err
	}

	analysis, err := a.vision.AnalyzeMockupImage(ctx, providers.MockupAnalysisCommand{
		ImageURL:           imageURL,
		ContentType:        upload.MimeType,
		RequestTitle:       request.Title,
		RequestDescription: request.Description,
		ExistingAnalyses:   existing,
	})
	if err != nil {
		return nil, err
	}

	upload.AnalysisResult = analysis
	upload.AnalysisConfidence = &analysis.Confidence
	if err := a.store.UpdateMockupUpload(ctx, upload); err != nil {
		return nil, err
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, cacheKey, analysis, signedURLTTL); err != nil {
			a.logger.Warn("failed to cache mockup analysis", map[string]interface{}{
				"upload_id": uploadID,
				"error":     err.Error(),
			})
		}
	}
	a.logger.Info("mockup analyzed", map[string]interface{}{
		"request_id": requestID,
		"upload_id":  uploadID,
		"elements":   len(analysis.UIElements),
		"confidence": analysis.Confidence,
	})
	return analysis, nil
}

// AnalyzeMockups analyzes every unanalyzed upload of a request in upload
// order. It is sugar over AnalyzeMockup; already-analyzed uploads are kept
// as-is.
func (a *Analyzer) AnalyzeMockups(ctx context.Context, requestID uuid.UUID) (*models.ConsolidatedAnalysis, error) {
	uploads, err := a.store.ListMockupUploads(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, upload := range uploads {
		if upload.AnalysisResult != nil {
			continue
		}
		if _, err := a.AnalyzeMockup(ctx, requestID, upload.ID); err != nil {
			return nil, err
		}
	}
	return a.Consolidate(ctx, requestID)
}

// existingAnalyses collects prior analyses of the request, excluding the
// upload currently being analyzed
func (a *Analyzer) existingAnalyses(ctx context.Context, requestID, excludeID uuid.UUID) ([]models.MockupAnalysis, error) {
	uploads, err := a.store.ListMockupUploads(ctx, requestID)
	if err != nil {
		return nil, err
	}
	var analyses []models.MockupAnalysis
	for _, upload := range uploads {
		if upload.ID == excludeID || upload.AnalysisResult == nil {
			continue
		}
		analyses = append(analyses, *upload.AnalysisResult)
	}
	return analyses, nil
}

// Consolidate merges every analyzed mockup of a request: element types are
// deduplicated, flows and logic unioned, text concatenated, and confidence
// averaged over analyzed mockups
func (a *Analyzer) Consolidate(ctx context.Context, requestID uuid.UUID) (*models.ConsolidatedAnalysis, error) {
	uploads, err := a.store.ListMockupUploads(ctx, requestID)
	if err != nil {
		return nil, err
	}

	consolidated := &models.ConsolidatedAnalysis{RequestID: requestID}
	elementTypes := make(map[models.UIElementType]bool)
	flows := make(map[string]bool)
	logic := make(map[string]models.BusinessLogicInference)
	var confidenceSum float64

	for _, upload := range uploads {
		analysis := upload.AnalysisResult
		if analysis == nil {
			continue
		}
		consolidated.MockupCount++
		confidenceSum += analysis.Confidence

		for _, el := range analysis.UIElements {
			elementTypes[el.Type] = true
		}
		for _, flow := range analysis.UserFlows {
			flows[flow] = true
		}
		for _, inference := range analysis.BusinessLogic {
			// Keep the highest-confidence phrasing of a duplicate inference.
			if prior, ok := logic[inference.Description]; !ok || inference.Confidence > prior.Confidence {
				logic[inference.Description] = inference
			}
		}
		consolidated.ExtractedText = append(consolidated.ExtractedText, analysis.ExtractedText...)
	}

	if consolidated.MockupCount == 0 {
		return consolidated, nil
	}
	consolidated.MeanConfidence = confidenceSum / float64(consolidated.MockupCount)

	for elementType := range elementTypes {
		consolidated.UIElementTypes = append(consolidated.UIElementTypes, elementType)
	}
	sort.Slice(consolidated.UIElementTypes, func(i, j int) bool {
		return consolidated.UIElementTypes[i] < consolidated.UIElementTypes[j]
	})
	for flow := range flows {
		consolidated.UserFlows = append(consolidated.UserFlows, flow)
	}
	sort.Strings(consolidated.UserFlows)
	for _, inference := range logic {
		consolidated.BusinessLogic = append(consolidated.BusinessLogic, inference)
	}
	sort.Slice(consolidated.BusinessLogic, func(i, j int) bool {
		if consolidated.BusinessLogic[i].Confidence != consolidated.BusinessLogic[j].Confidence {
			return consolidated.BusinessLogic[i].Confidence > consolidated.BusinessLogic[j].Confidence
		}
		return consolidated.BusinessLogic[i].Description < consolidated.BusinessLogic[j].Description
	})
	return consolidated, nil
}

// MarkProcessed flags every analyzed upload as consumed by generation and
// shortens its retention window
func (a *Analyzer) MarkProcessed(ctx context.Context, requestID uuid.UUID) error {
	uploads, err := a.store.ListMockupUploads(ctx, requestID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, upload := range uploads {
		if upload.AnalysisResult == nil {
			continue
		}
		upload.IsProcessed = true
		upload.ExpiresAt = now.Add(models.MockupProcessedExpiry)
		if err := a.store.UpdateMockupUpload(ctx, upload); err != nil {
			return err
		}
	}
	return nil
}
