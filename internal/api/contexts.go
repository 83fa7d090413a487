package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// contextAvailability reports what additional context a request can draw on:
// uploaded mockups and linked, fully indexed codebases
func (s *Server) contextAvailability(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if s.deps.Contexts == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "context lookups are not configured"))
		return
	}
	availability, err := s.deps.Contexts.HasAdditionalContext(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

type mockupContextBody struct {
	FeatureQuery string `json:"feature_query"`
}

// mockupContext filters a request's stored mockup analyses by feature keyword
func (s *Server) mockupContext(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if s.deps.Contexts == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "context lookups are not configured"))
		return
	}
	var body mockupContextBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.WrapError(models.ErrValidation, "invalid request body", err))
		return
	}
	result, err := s.deps.Contexts.RequestMockupContext(c.Request.Context(), id, body.FeatureQuery)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type codebaseContextBody struct {
	Question    string `json:"question"`
	SearchQuery string `json:"search_query"`
}

// codebaseContext answers a focused question against one indexed project
func (s *Server) codebaseContext(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if s.deps.Contexts == nil {
		abortWithError(c, models.NewError(models.ErrProcessingFailed, "context lookups are not configured"))
		return
	}
	var body codebaseContextBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.WrapError(models.ErrValidation, "invalid request body", err))
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		abortWithError(c, models.NewError(models.ErrValidation, "question is required"))
		return
	}
	if strings.TrimSpace(body.SearchQuery) == "" {
		body.SearchQuery = body.Question
	}
	result, err := s.deps.Contexts.RequestCodebaseContext(c.Request.Context(), id, body.Question, body.SearchQuery)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
