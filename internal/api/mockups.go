package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// uploadMockup binds one image binary to a request. The request must exist;
// size and MIME invariants are enforced before anything touches storage.
func (s *Server) uploadMockup(c *gin.Context) {
	requestID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.deps.Store.GetRequest(ctx, requestID); err != nil {
		abortWithError(c, err)
		return
	}
	if s.deps.Storage == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "mockup storage is not configured"))
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, models.WrapError(models.ErrValidation, "multipart field \"file\" is required", err))
		return
	}

	upload := &models.MockupUpload{
		ID:        uuid.New(),
		RequestID: requestID,
		FileName:  header.Filename,
		FileSize:  header.Size,
		MimeType:  header.Header.Get("Content-Type"),
	}
	if err := upload.Validate(); err != nil {
		abortWithError(c, err)
		return
	}

	existing, err := s.deps.Store.ListMockupUploads(ctx, requestID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(existing) >= models.MaxMockupSources {
		abortWithError(c, models.NewErrorf(models.ErrValidation,
			"request already has the maximum of %d mockups", models.MaxMockupSources))
		return
	}

	file, err := header.Open()
	if err != nil {
		abortWithError(c, models.WrapError(models.ErrValidation, "reading upload", err))
		return
	}
	defer file.Close()

	key, err := s.deps.Storage.Upload(ctx, requestID, upload.ID, upload.MimeType, file, upload.FileSize)
	if err != nil {
		abortWithError(c, err)
		return
	}
	upload.StoragePath = key

	if err := s.deps.Store.CreateMockupUpload(ctx, upload); err != nil {
		// Do not leave an orphaned object behind the failed record.
		if delErr := s.deps.Storage.Delete(ctx, key); delErr != nil {
			s.deps.Logger.Warn("failed to remove orphaned mockup object", map[string]interface{}{
				"key":   key,
				"error": delErr.Error(),
			})
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, upload)
}

func (s *Server) listMockups(c *gin.Context) {
	requestID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	uploads, err := s.deps.Store.ListMockupUploads(c.Request.Context(), requestID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mockups": uploads})
}

func (s *Server) analyzeMockup(c *gin.Context) {
	requestID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	uploadID, ok := pathUUID(c, "uploadID")
	if !ok {
		return
	}
	if s.deps.Mockups == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "mockup analysis is not configured"))
		return
	}
	analysis, err := s.deps.Mockups.AnalyzeMockup(c.Request.Context(), requestID, uploadID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}
