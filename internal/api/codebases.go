package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/queue"
)

type registerCodebaseBody struct {
	RepositoryURL string `json:"repository_url"`
	Branch        string `json:"branch"`
	Force         bool   `json:"force"`
}

// registerCodebase registers (or returns) a project and enqueues its
// indexing job. Re-registering an already-indexed pair returns the existing
// project with no new job.
func (s *Server) registerCodebase(c *gin.Context) {
	if s.deps.Indexer == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "codebase indexing is not configured"))
		return
	}
	var body registerCodebaseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.WrapError(models.ErrValidation, "invalid request body", err))
		return
	}
	if strings.TrimSpace(body.Branch) == "" {
		body.Branch = "main"
	}

	ctx := c.Request.Context()
	project, job, err := s.deps.Indexer.RegisterProject(ctx, body.RepositoryURL, body.Branch, body.Force)
	if err != nil {
		abortWithError(c, err)
		return
	}

	response := gin.H{"project": project}
	status := http.StatusOK
	if job != nil {
		if s.deps.Queue != nil {
			if err := s.deps.Queue.Enqueue(ctx, queue.JobMessage{
				JobID:     job.ID,
				ProjectID: project.ID,
				JobType:   job.JobType,
			}); err != nil {
				abortWithError(c, err)
				return
			}
		}
		response["job"] = job
		status = http.StatusAccepted
	}
	c.JSON(status, response)
}

func (s *Server) getCodebase(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	project, err := s.deps.Projects.GetProject(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

type searchBody struct {
	Query string `json:"query"`
}

// searchCodebase runs a semantic similarity search over one project's chunks
func (s *Server) searchCodebase(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if s.deps.Retriever == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "semantic search is not configured"))
		return
	}
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.WrapError(models.ErrValidation, "invalid request body", err))
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		abortWithError(c, models.NewError(models.ErrValidation, "query is required"))
		return
	}

	result, err := s.deps.Retriever.Retrieve(c.Request.Context(), id, body.Query, body.Query)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":           result.Query,
		"chunks":          result.Chunks,
		"mean_similarity": result.MeanSimilarity,
	})
}

func (s *Server) linkCodebase(c *gin.Context) {
	requestID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "projectID")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.deps.Projects.GetProject(ctx, projectID); err != nil {
		abortWithError(c, err)
		return
	}
	link, err := s.deps.Store.LinkCodebase(ctx, requestID, projectID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}
