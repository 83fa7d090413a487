// Package api is the REST edge of the PRD engine: request lifecycle, mockup
// uploads, codebase registration and search, document export, and the
// WebSocket upgrade for interactive generation. Handlers translate transport
// concerns only; behavior lives in the domain packages.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/prd-engine/internal/api/websocket"
	"github.com/S-Corkum/prd-engine/internal/config"
	"github.com/S-Corkum/prd-engine/internal/engine"
	"github.com/S-Corkum/prd-engine/internal/indexer"
	"github.com/S-Corkum/prd-engine/internal/mockup"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/providers"
	"github.com/S-Corkum/prd-engine/internal/queue"
	"github.com/S-Corkum/prd-engine/internal/rag"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/storage"
	"github.com/S-Corkum/prd-engine/internal/store"
)

// Deps wires the domain services the server fronts. Optional collaborators
// (mockup analyzer, retriever, orchestrator) may be nil in reduced
// deployments; the routes depending on them then return processing_failed.
type Deps struct {
	Store        store.Store
	Projects     repository.Repository
	Engine       *engine.Engine
	Contexts     *engine.ContextService
	Indexer      *indexer.Indexer
	Queue        queue.JobQueue
	Retriever    *rag.Retriever
	Mockups      *mockup.Analyzer
	Storage      storage.MockupStorage
	Orchestrator *providers.Orchestrator
	Logger       observability.Logger
	Metrics      *observability.MetricsClient
}

// Server is the HTTP edge
type Server struct {
	router   *gin.Engine
	server   *http.Server
	deps     Deps
	sessions *websocket.Hub
}

// NewServer builds the router with the full middleware chain and route set
func NewServer(deps Deps, cfg config.APIConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(deps.Logger))
	router.Use(Metrics(deps.Metrics))
	router.Use(ErrorHandler())

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Server{
		router: router,
		deps:   deps,
		sessions: websocket.NewHub(websocket.Deps{
			Store:  deps.Store,
			Engine: deps.Engine,
			Logger: deps.Logger,
		}),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.GET("/healthz", s.health)

	v1 := router.Group("/api/v1", Timeout(timeout))
	{
		v1.POST("/requests", s.createRequest)
		v1.GET("/requests", s.listRequests)
		v1.GET("/requests/:id", s.getRequest)
		v1.GET("/requests/:id/status", s.requestStatus)
		v1.POST("/requests/:id/cancel", s.cancelRequest)
		v1.POST("/requests/:id/generate", s.generate)
		v1.GET("/requests/:id/document", s.getDocument)
		v1.GET("/requests/:id/document/export", s.exportDocument)

		v1.POST("/requests/:id/mockups", s.uploadMockup)
		v1.GET("/requests/:id/mockups", s.listMockups)
		v1.POST("/requests/:id/mockups/:uploadID/analyze", s.analyzeMockup)

		v1.GET("/requests/:id/context", s.contextAvailability)
		v1.POST("/requests/:id/context/mockups", s.mockupContext)

		v1.POST("/codebases", s.registerCodebase)
		v1.GET("/codebases/:id", s.getCodebase)
		v1.POST("/codebases/:id/search", s.searchCodebase)
		v1.POST("/codebases/:id/context", s.codebaseContext)
		v1.POST("/requests/:id/codebases/:projectID", s.linkCodebase)
	}

	// The session endpoint manages its own deadline per generation task.
	router.GET("/ws/requests/:id", s.session)

	return s
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.deps.Logger.Info("api listening", map[string]interface{}{"addr": s.server.Addr})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// health reports liveness plus per-provider health when an orchestrator is
// wired
func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Orchestrator != nil {
		body["providers"] = s.deps.Orchestrator.HealthReport()
	}
	c.JSON(http.StatusOK, body)
}
