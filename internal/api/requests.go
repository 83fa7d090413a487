package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/engine"
	"github.com/S-Corkum/prd-engine/internal/models"
)

type createRequestBody struct {
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Priority          models.Priority  `json:"priority"`
	Requester         models.Requester `json:"requester"`
	MockupSources     []string         `json:"mockup_sources,omitempty"`
	PreferredProvider string           `json:"preferred_provider,omitempty"`
}

func (s *Server) createRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.WrapError(models.ErrValidation, "invalid request body", err))
		return
	}
	request := &models.PRDRequest{
		Title:             body.Title,
		Description:       body.Description,
		Priority:          body.Priority,
		Requester:         body.Requester,
		MockupSources:     body.MockupSources,
		PreferredProvider: body.PreferredProvider,
	}
	if request.Priority == "" {
		request.Priority = models.PriorityMedium
	}
	if err := s.deps.Store.CreateRequest(c.Request.Context(), request); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (s *Server) listRequests(c *gin.Context) {
	requesterID := c.Query("requester_id")
	if requesterID == "" {
		abortWithError(c, models.NewError(models.ErrValidation, "requester_id is required"))
		return
	}
	requests, err := s.deps.Store.ListRequestsByRequester(c.Request.Context(), requesterID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (s *Server) getRequest(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	request, err := s.deps.Store.GetRequest(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (s *Server) requestStatus(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	request, err := s.deps.Store.GetRequest(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	body := gin.H{
		"status":   request.Status,
		"progress": request.Status.Progress(),
	}
	if request.FailureReason != "" {
		body["failure_reason"] = request.FailureReason
	}
	if request.GeneratedDocumentID != nil {
		body["generated_document_id"] = request.GeneratedDocumentID
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) cancelRequest(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	request, err := s.deps.Store.TransitionRequest(c.Request.Context(), id, models.StatusCancelled, "")
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

type generateBody struct {
	Answers []models.Clarification `json:"answers,omitempty"`
}

// generate runs the engine synchronously. Interactive clients should use
// the WebSocket session instead; this endpoint serves scripted callers.
func (s *Server) generate(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if s.deps.Engine == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "generation is not configured"))
		return
	}
	var body generateBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abortWithError(c, models.WrapError(models.ErrValidation, "invalid request body", err))
			return
		}
	}

	outcome, err := s.deps.Engine.Generate(c.Request.Context(),
		engine.Command{RequestID: id, Answers: body.Answers}, engine.Events{})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if outcome.NeedsClarification {
		c.JSON(http.StatusOK, gin.H{
			"needs_clarification": true,
			"clarifications":      outcome.Clarifications,
			"confidence":          outcome.Confidence,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"needs_clarification": false,
		"document":            outcome.Document,
		"confidence":          outcome.Confidence,
	})
}

func (s *Server) getDocument(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	doc, err := s.deps.Store.GetDocumentByRequest(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) exportDocument(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	doc, err := s.deps.Store.GetDocumentByRequest(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	format := c.DefaultQuery("format", "markdown")
	export, err := engine.ExportDocument(doc, format, time.Now())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	c.Data(http.StatusOK, export.MIMEType, export.Body)
}

// pathUUID parses a UUID path parameter, aborting with validation on failure
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		abortWithError(c, models.NewErrorf(models.ErrValidation, "invalid %s %q", name, c.Param(name)))
		return uuid.Nil, false
	}
	return id, true
}
