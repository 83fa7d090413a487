package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// MemoryStore is an in-process Store used when SKIP_DATABASE is set and by
// the test suites. A single mutex keeps request transitions linearizable.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[uuid.UUID]*models.PRDRequest
	documents map[uuid.UUID]*models.PRDDocument
	uploads   map[uuid.UUID]*models.MockupUpload
	links     map[uuid.UUID]*models.CodebaseLink
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[uuid.UUID]*models.PRDRequest),
		documents: make(map[uuid.UUID]*models.PRDDocument),
		uploads:   make(map[uuid.UUID]*models.MockupUpload),
		links:     make(map[uuid.UUID]*models.CodebaseLink),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock. Tests only.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req *models.PRDRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if _, exists := s.requests[req.ID]; exists {
		return models.NewErrorf(models.ErrConflict, "request %s already exists", req.ID)
	}
	now := s.now()
	req.Status = models.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.PRDRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "request %s not found", id)
	}
	return cloneRequest(req), nil
}

func (s *MemoryStore) ListRequestsByRequester(ctx context.Context, requesterID string) ([]*models.PRDRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PRDRequest
	for _, req := range s.requests {
		if req.Requester.ID == requesterID {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TransitionRequest(ctx context.Context, id uuid.UUID, next models.RequestStatus, reason string) (*models.PRDRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, next, reason)
}

func (s *MemoryStore) transitionLocked(id uuid.UUID, next models.RequestStatus, reason string) (*models.PRDRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "request %s not found", id)
	}
	if !req.Status.CanTransitionTo(next) {
		return nil, models.NewErrorf(models.ErrBusinessRule,
			"illegal transition %s -> %s", req.Status, next)
	}
	now := s.now()
	req.Status = next
	req.UpdatedAt = now
	if next == models.StatusFailed {
		req.FailureReason = reason
	}
	if next.Terminal() {
		completed := now
		req.CompletedAt = &completed
	}
	return cloneRequest(req), nil
}

func (s *MemoryStore) AttachDocument(ctx context.Context, doc *models.PRDDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[doc.RequestID]
	if !ok {
		return models.NewErrorf(models.ErrNotFound, "request %s not found", doc.RequestID)
	}
	if !req.Status.CanTransitionTo(models.StatusCompleted) {
		return models.NewErrorf(models.ErrBusinessRule,
			"cannot complete request in state %s", req.Status)
	}

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := s.now()
	s.documents[doc.ID] = cloneDocument(doc)

	req.Status = models.StatusCompleted
	req.GeneratedDocumentID = &doc.ID
	req.UpdatedAt = now
	completed := now
	req.CompletedAt = &completed
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.PRDDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "document %s not found", id)
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) GetDocumentByRequest(ctx context.Context, requestID uuid.UUID) (*models.PRDDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.documents {
		if doc.RequestID == requestID {
			return cloneDocument(doc), nil
		}
	}
	return nil, models.NewErrorf(models.ErrNotFound, "no document for request %s", requestID)
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, doc *models.PRDDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.documents[doc.ID]
	if !ok {
		return models.NewErrorf(models.ErrNotFound, "document %s not found", doc.ID)
	}
	if existing.Version != doc.Version {
		return models.NewErrorf(models.ErrConflict,
			"document %s version %d is stale (current %d)", doc.ID, doc.Version, existing.Version)
	}
	updated := cloneDocument(doc)
	updated.Version = doc.Version + 1
	if err := updated.Validate(); err != nil {
		return err
	}
	s.documents[doc.ID] = updated
	doc.Version = updated.Version
	return nil
}

func (s *MemoryStore) CreateMockupUpload(ctx context.Context, upload *models.MockupUpload) error {
	if err := upload.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[upload.RequestID]
	if !ok {
		return models.NewErrorf(models.ErrNotFound, "request %s not found", upload.RequestID)
	}
	count := 0
	for _, u := range s.uploads {
		if u.RequestID == req.ID {
			count++
		}
	}
	if count >= models.MaxMockupSources {
		return models.NewErrorf(models.ErrValidation,
			"request %s already has %d mockups", req.ID, models.MaxMockupSources)
	}

	if upload.ID == uuid.Nil {
		upload.ID = uuid.New()
	}
	now := s.now()
	upload.UploadedAt = now
	// Extended retention window until the mockup has been processed.
	upload.ExpiresAt = now.Add(models.MockupExtendedExpiry)
	s.uploads[upload.ID] = cloneUpload(upload)
	req.UpdatedAt = now
	return nil
}

func (s *MemoryStore) GetMockupUpload(ctx context.Context, id uuid.UUID) (*models.MockupUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	upload, ok := s.uploads[id]
	if !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "mockup upload %s not found", id)
	}
	return cloneUpload(upload), nil
}

func (s *MemoryStore) ListMockupUploads(ctx context.Context, requestID uuid.UUID) ([]*models.MockupUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MockupUpload
	for _, u := range s.uploads {
		if u.RequestID == requestID {
			out = append(out, cloneUpload(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateMockupUpload(ctx context.Context, upload *models.MockupUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[upload.ID]; !ok {
		return models.NewErrorf(models.ErrNotFound, "mockup upload %s not found", upload.ID)
	}
	s.uploads[upload.ID] = cloneUpload(upload)
	return nil
}

func (s *MemoryStore) DeleteMockupUploadsForRequest(ctx context.Context, requestID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.uploads {
		if u.RequestID == requestID {
			delete(s.uploads, id)
		}
	}
	return nil
}

func (s *MemoryStore) LinkCodebase(ctx context.Context, requestID, projectID uuid.UUID) (*models.CodebaseLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return nil, models.NewErrorf(models.ErrNotFound, "request %s not found", requestID)
	}
	for _, l := range s.links {
		if l.RequestID == requestID && l.ProjectID == projectID {
			return nil, models.NewErrorf(models.ErrConflict,
				"request %s is already linked to codebase %s", requestID, projectID)
		}
	}
	link := &models.CodebaseLink{
		ID:        uuid.New(),
		RequestID: requestID,
		ProjectID: projectID,
		CreatedAt: s.now(),
	}
	s.links[link.ID] = link
	return &models.CodebaseLink{
		ID: link.ID, RequestID: link.RequestID, ProjectID: link.ProjectID, CreatedAt: link.CreatedAt,
	}, nil
}

func (s *MemoryStore) ListCodebaseLinks(ctx context.Context, requestID uuid.UUID) ([]*models.CodebaseLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CodebaseLink
	for _, l := range s.links {
		if l.RequestID == requestID {
			copied := *l
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneRequest(req *models.PRDRequest) *models.PRDRequest {
	copied := *req
	copied.MockupSources = append([]string(nil), req.MockupSources...)
	if req.GeneratedDocumentID != nil {
		id := *req.GeneratedDocumentID
		copied.GeneratedDocumentID = &id
	}
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}

func cloneDocument(doc *models.PRDDocument) *models.PRDDocument {
	copied := *doc
	copied.Sections = append([]models.PRDSection(nil), doc.Sections...)
	copied.Metadata.Tags = append([]string(nil), doc.Metadata.Tags...)
	copied.Metadata.Attachments = append([]string(nil), doc.Metadata.Attachments...)
	return &copied
}

func cloneUpload(upload *models.MockupUpload) *models.MockupUpload {
	copied := *upload
	if upload.AnalysisConfidence != nil {
		c := *upload.AnalysisConfidence
		copied.AnalysisConfidence = &c
	}
	if upload.AnalysisResult != nil {
		result := *upload.AnalysisResult
		copied.AnalysisResult = &result
	}
	return &copied
}
