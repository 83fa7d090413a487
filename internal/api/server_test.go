package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/config"
	"github.com/S-Corkum/prd-engine/internal/engine"
	"github.com/S-Corkum/prd-engine/internal/indexer"
	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
	"github.com/S-Corkum/prd-engine/internal/providers"
	"github.com/S-Corkum/prd-engine/internal/queue"
	"github.com/S-Corkum/prd-engine/internal/repository"
	"github.com/S-Corkum/prd-engine/internal/storage"
	"github.com/S-Corkum/prd-engine/internal/store"
)

const apiDocument = `# Chat

## Executive Summary

Real-time messaging for the product.

## Functional Requirements

Users exchange messages instantly.
`

type stubGenerator struct {
	confidence float64
	content    string
}

func (g *stubGenerator) AnalyzeRequirements(ctx context.Context, title, description string) (*providers.RequirementsAnalysis, error) {
	return &providers.RequirementsAnalysis{Confidence: g.confidence}, nil
}

func (g *stubGenerator) GeneratePRD(ctx context.Context, cmd providers.GenerateCommand, feed providers.ContextFeed) (*providers.GenerateResult, error) {
	return &providers.GenerateResult{Content: g.content, Provider: "mock", TokensUsed: 256}, nil
}

type apiHarness struct {
	server *Server
	store  *store.MemoryStore
	queue  *queue.MemoryQueue
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	return newAPIHarnessWith(t, &stubGenerator{confidence: 0.9, content: apiDocument})
}

func newAPIHarnessWith(t *testing.T, gen engine.Generator) *apiHarness {
	t.Helper()
	st := store.NewMemoryStore()
	projects := repository.NewMemoryRepository()
	q := queue.NewMemoryQueue()
	logger := observability.NewNoopLogger()
	metrics := observability.NewMetricsClient()

	eng := engine.New(st, projects, gen, nil, nil,
		engine.Options{ClarificationsEnabled: true}, logger, metrics)
	ix := indexer.New(nil, projects, nil, nil, indexer.Options{}, logger, metrics)

	srv := NewServer(Deps{
		Store:    st,
		Projects: projects,
		Engine:   eng,
		Contexts: engine.NewContextService(st, projects, nil, logger),
		Indexer:  ix,
		Queue:    q,
		Storage:  storage.NewMemoryStorage(),
		Logger:   logger,
		Metrics:  metrics,
	}, config.APIConfig{Port: 8080, RequestTimeout: 5 * time.Second})
	return &apiHarness{server: srv, store: st, queue: q}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func (h *apiHarness) createRequest(t *testing.T) models.PRDRequest {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/requests", map[string]interface{}{
		"title":       "Chat",
		"description": "Add real-time messaging",
		"requester":   map[string]string{"id": "user-1", "email": "jordan@example.com"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var request models.PRDRequest
	decodeBody(t, rec, &request)
	return request
}

func TestRequestLifecycleEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	request := h.createRequest(t)
	assert.Equal(t, models.StatusPending, request.Status)
	assert.Equal(t, models.PriorityMedium, request.Priority)

	rec := h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	decodeBody(t, rec, &status)
	assert.Equal(t, "pending", status["status"])
	assert.Equal(t, float64(0), status["progress"])

	rec = h.do(t, http.MethodGet, "/api/v1/requests?requester_id=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Requests []models.PRDRequest `json:"requests"`
	}
	decodeBody(t, rec, &listing)
	assert.Len(t, listing.Requests, 1)

	rec = h.do(t, http.MethodPost, "/api/v1/requests/"+request.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled models.PRDRequest
	decodeBody(t, rec, &cancelled)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestErrorEnvelopeShape(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/requests/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Timestamp string `json:"timestamp"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "validation", body.Error.Code)
	assert.Contains(t, body.Error.Message, "not-a-uuid")
	assert.NotEmpty(t, body.Error.Timestamp)

	rec = h.do(t, http.MethodGet, "/api/v1/requests/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestGenerateAndExport(t *testing.T) {
	h := newAPIHarness(t)
	request := h.createRequest(t)

	rec := h.do(t, http.MethodPost, "/api/v1/requests/"+request.ID.String()+"/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var generated struct {
		NeedsClarification bool                `json:"needs_clarification"`
		Document           *models.PRDDocument `json:"document"`
		Confidence         float64             `json:"confidence"`
	}
	decodeBody(t, rec, &generated)
	require.False(t, generated.NeedsClarification)
	require.NotNil(t, generated.Document)
	assert.Equal(t, "mock", generated.Document.GeneratedBy)

	rec = h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/document", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/document/export?format=html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".html")
	assert.Contains(t, rec.Body.String(), "<pre>")

	rec = h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/document/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateReturnsClarifications(t *testing.T) {
	h := newAPIHarnessWith(t, &ambiguousGenerator{
		stubGenerator: &stubGenerator{confidence: 0.4, content: apiDocument},
	})
	request := h.createRequest(t)

	rec := h.do(t, http.MethodPost, "/api/v1/requests/"+request.ID.String()+"/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		NeedsClarification bool                   `json:"needs_clarification"`
		Clarifications     []models.Clarification `json:"clarifications"`
	}
	decodeBody(t, rec, &body)
	assert.True(t, body.NeedsClarification)
	assert.NotEmpty(t, body.Clarifications)

	status := h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/status", nil)
	assert.Contains(t, status.Body.String(), "clarification_needed")
}

type ambiguousGenerator struct {
	*stubGenerator
}

func (g *ambiguousGenerator) AnalyzeRequirements(ctx context.Context, title, description string) (*providers.RequirementsAnalysis, error) {
	return &providers.RequirementsAnalysis{
		Confidence:  g.confidence,
		Ambiguities: []string{"Which authentication method should be used?"},
	}, nil
}

func multipartUpload(t *testing.T, field, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestMockupUploadAndList(t *testing.T) {
	h := newAPIHarness(t)
	request := h.createRequest(t)

	body, contentType := multipartUpload(t, "file", "login.png", "image/png",
		bytes.Repeat([]byte{0x89}, 128))
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/requests/"+request.ID.String()+"/mockups", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var upload models.MockupUpload
	decodeBody(t, rec, &upload)
	assert.Equal(t, "login.png", upload.FileName)
	assert.NotEmpty(t, upload.StoragePath)

	listRec := h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/mockups", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listing struct {
		Mockups []models.MockupUpload `json:"mockups"`
	}
	decodeBody(t, listRec, &listing)
	assert.Len(t, listing.Mockups, 1)
}

func TestMockupUploadRejectsNonImage(t *testing.T) {
	h := newAPIHarness(t)
	request := h.createRequest(t)

	body, contentType := multipartUpload(t, "file", "notes.txt", "text/plain",
		[]byte("not an image"))
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/requests/"+request.ID.String()+"/mockups", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMockupUploadUnknownRequest(t *testing.T) {
	h := newAPIHarness(t)
	body, contentType := multipartUpload(t, "file", "login.png", "image/png",
		[]byte{0x89, 0x50})
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/requests/"+uuid.NewString()+"/mockups", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterCodebaseEnqueuesOnce(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/codebases", map[string]interface{}{
		"repository_url": "https://github.com/acme/webapp",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var registered struct {
		Project models.CodebaseProject `json:"project"`
		Job     *models.IndexingJob    `json:"job"`
	}
	decodeBody(t, rec, &registered)
	require.NotNil(t, registered.Job)
	assert.Equal(t, "main", registered.Project.RepositoryBranch)
	assert.Equal(t, 1, h.queue.Depth())

	// Same (url, branch) pair: no new job, nothing enqueued.
	rec = h.do(t, http.MethodPost, "/api/v1/codebases", map[string]interface{}{
		"repository_url": "https://github.com/acme/webapp",
		"branch":         "main",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var again struct {
		Project models.CodebaseProject `json:"project"`
		Job     *models.IndexingJob    `json:"job"`
	}
	decodeBody(t, rec, &again)
	assert.Nil(t, again.Job)
	assert.Equal(t, registered.Project.ID, again.Project.ID)
	assert.Equal(t, 1, h.queue.Depth())

	getRec := h.do(t, http.MethodGet, "/api/v1/codebases/"+registered.Project.ID.String(), nil)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestLinkCodebaseToRequest(t *testing.T) {
	h := newAPIHarness(t)
	request := h.createRequest(t)

	rec := h.do(t, http.MethodPost, "/api/v1/codebases", map[string]interface{}{
		"repository_url": "https://github.com/acme/webapp",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var registered struct {
		Project models.CodebaseProject `json:"project"`
	}
	decodeBody(t, rec, &registered)

	linkRec := h.do(t, http.MethodPost,
		"/api/v1/requests/"+request.ID.String()+"/codebases/"+registered.Project.ID.String(), nil)
	require.Equal(t, http.StatusCreated, linkRec.Code, linkRec.Body.String())

	// Linking an unknown project fails before the store is touched.
	missing := h.do(t, http.MethodPost,
		"/api/v1/requests/"+request.ID.String()+"/codebases/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestContextAvailabilityEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	request := h.createRequest(t)

	rec := h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/context", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var availability struct {
		HasCodebase bool `json:"has_codebase"`
		HasMockups  bool `json:"has_mockups"`
		MockupCount int  `json:"mockup_count"`
	}
	decodeBody(t, rec, &availability)
	assert.False(t, availability.HasCodebase)
	assert.False(t, availability.HasMockups)

	// A mockup upload and a codebase link both surface.
	body, contentType := multipartUpload(t, "file", "login.png", "image/png",
		bytes.Repeat([]byte{0x89}, 64))
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/requests/"+request.ID.String()+"/mockups", body)
	req.Header.Set("Content-Type", contentType)
	upload := httptest.NewRecorder()
	h.server.Router().ServeHTTP(upload, req)
	require.Equal(t, http.StatusCreated, upload.Code)

	reg := h.do(t, http.MethodPost, "/api/v1/codebases", map[string]interface{}{
		"repository_url": "https://github.com/acme/webapp",
	})
	require.Equal(t, http.StatusAccepted, reg.Code)
	var registered struct {
		Project models.CodebaseProject `json:"project"`
	}
	decodeBody(t, reg, &registered)
	link := h.do(t, http.MethodPost,
		"/api/v1/requests/"+request.ID.String()+"/codebases/"+registered.Project.ID.String(), nil)
	require.Equal(t, http.StatusCreated, link.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/requests/"+request.ID.String()+"/context", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var after struct {
		HasCodebase       bool `json:"has_codebase"`
		HasMockups        bool `json:"has_mockups"`
		MockupCount       int  `json:"mockup_count"`
		IsCodebaseIndexed bool `json:"is_codebase_indexed"`
	}
	decodeBody(t, rec, &after)
	assert.True(t, after.HasMockups)
	assert.Equal(t, 1, after.MockupCount)
	assert.True(t, after.HasCodebase)
	assert.False(t, after.IsCodebaseIndexed, "registration alone does not index")
}

func TestMockupContextEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	request := h.createRequest(t)

	rec := h.do(t, http.MethodPost, "/api/v1/requests/"+request.ID.String()+"/context/mockups",
		map[string]string{"feature_query": "checkout"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Summary string `json:"summary"`
	}
	decodeBody(t, rec, &result)
	assert.Contains(t, result.Summary, "checkout")
}

func TestCodebaseContextRequiresRetriever(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/codebases/"+uuid.NewString()+"/context",
		map[string]string{"question": "Where is authentication handled?"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/codebases/"+uuid.NewString()+"/search",
		map[string]string{"query": ""})
	// No retriever is wired in the harness; misconfiguration wins over
	// validation so operators see the real problem.
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "processing_failed", body.Error.Code)
}
