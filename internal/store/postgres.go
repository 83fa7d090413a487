package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// PostgresStore implements Store on Postgres via sqlx. The schema is managed
// externally; this layer only assumes the tables exist.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on an existing connection pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *models.PRDRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.Status = models.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	query := `
		INSERT INTO prd_requests
			(id, title, description, priority, requester_id, requester_email,
			 mockup_sources, preferred_provider, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.Title, req.Description, req.Priority,
		req.Requester.ID, req.Requester.Email,
		pq.Array(req.MockupSources), req.PreferredProvider,
		req.Status, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.WrapError(models.ErrConflict, "request already exists", err)
		}
		return models.WrapError(models.ErrProcessingFailed, "failed to create request", err)
	}
	return nil
}

type requestRow struct {
	ID                  uuid.UUID            `db:"id"`
	Title               string               `db:"title"`
	Description         string               `db:"description"`
	Priority            models.Priority      `db:"priority"`
	RequesterID         string               `db:"requester_id"`
	RequesterEmail      string               `db:"requester_email"`
	MockupSources       pq.StringArray       `db:"mockup_sources"`
	PreferredProvider   string               `db:"preferred_provider"`
	Status              models.RequestStatus `db:"status"`
	FailureReason       string               `db:"failure_reason"`
	GeneratedDocumentID *uuid.UUID           `db:"generated_document_id"`
	CreatedAt           time.Time            `db:"created_at"`
	UpdatedAt           time.Time            `db:"updated_at"`
	CompletedAt         *time.Time           `db:"completed_at"`
}

func (r *requestRow) toModel() *models.PRDRequest {
	return &models.PRDRequest{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		Requester: models.Requester{
			ID:    r.RequesterID,
			Email: r.RequesterEmail,
		},
		MockupSources:       []string(r.MockupSources),
		PreferredProvider:   r.PreferredProvider,
		Status:              r.Status,
		FailureReason:       r.FailureReason,
		GeneratedDocumentID: r.GeneratedDocumentID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		CompletedAt:         r.CompletedAt,
	}
}

const requestColumns = `id, title, description, priority, requester_id,
	COALESCE(requester_email, '') AS requester_email, mockup_sources,
	COALESCE(preferred_provider, '') AS preferred_provider, status,
	COALESCE(failure_reason, '') AS failure_reason,
	generated_document_id, created_at, updated_at, completed_at`

func (s *PostgresStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.PRDRequest, error) {
	var row requestRow
	query := `SELECT ` + requestColumns + ` FROM prd_requests WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewErrorf(models.ErrNotFound, "request %s not found", id)
		}
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to load request", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListRequestsByRequester(ctx context.Context, requesterID string) ([]*models.PRDRequest, error) {
	var rows []requestRow
	query := `SELECT ` + requestColumns + ` FROM prd_requests WHERE requester_id = $1 ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &rows, query, requesterID); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to list requests", err)
	}
	out := make([]*models.PRDRequest, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *PostgresStore) TransitionRequest(ctx context.Context, id uuid.UUID, next models.RequestStatus, reason string) (*models.PRDRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row requestRow
	query := `SELECT ` + requestColumns + ` FROM prd_requests WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewErrorf(models.ErrNotFound, "request %s not found", id)
		}
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to load request", err)
	}
	if !row.Status.CanTransitionTo(next) {
		return nil, models.NewErrorf(models.ErrBusinessRule,
			"illegal transition %s -> %s", row.Status, next)
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if next.Terminal() {
		completedAt = &now
	}
	failureReason := ""
	if next == models.StatusFailed {
		failureReason = reason
	}

	update := `
		UPDATE prd_requests
		SET status = $2, failure_reason = NULLIF($3, ''), updated_at = $4,
			completed_at = COALESCE($5, completed_at)
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update, id, next, failureReason, now, completedAt); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to update request", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to commit transition", err)
	}

	updated := row.toModel()
	updated.Status = next
	updated.FailureReason = failureReason
	updated.UpdatedAt = now
	if completedAt != nil {
		updated.CompletedAt = completedAt
	}
	return updated, nil
}

func (s *PostgresStore) AttachDocument(ctx context.Context, doc *models.PRDDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	sections, err := json.Marshal(doc.Sections)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to encode sections", err)
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to encode metadata", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status models.RequestStatus
	if err := tx.GetContext(ctx, &status,
		`SELECT status FROM prd_requests WHERE id = $1 FOR UPDATE`, doc.RequestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewErrorf(models.ErrNotFound, "request %s not found", doc.RequestID)
		}
		return models.WrapError(models.ErrProcessingFailed, "failed to load request", err)
	}
	if !status.CanTransitionTo(models.StatusCompleted) {
		return models.NewErrorf(models.ErrBusinessRule, "cannot complete request in state %s", status)
	}

	now := time.Now().UTC()
	insert := `
		INSERT INTO prd_documents
			(id, request_id, title, content, sections, metadata, confidence,
			 generated_by, version, generated_at, professional_analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
	`
	if _, err := tx.ExecContext(ctx, insert,
		doc.ID, doc.RequestID, doc.Title, doc.Content, sections, metadata,
		doc.Confidence, doc.GeneratedBy, doc.Version, doc.GeneratedAt,
		doc.ProfessionalAnalysis,
	); err != nil {
		if isUniqueViolation(err) {
			return models.WrapError(models.ErrConflict, "document already exists", err)
		}
		return models.WrapError(models.ErrProcessingFailed, "failed to insert document", err)
	}

	update := `
		UPDATE prd_requests
		SET status = $2, generated_document_id = $3, updated_at = $4, completed_at = $4
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, update, doc.RequestID, models.StatusCompleted, doc.ID, now); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to complete request", err)
	}

	if err := tx.Commit(); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to commit document attach", err)
	}
	return nil
}

type documentRow struct {
	ID                   uuid.UUID `db:"id"`
	RequestID            uuid.UUID `db:"request_id"`
	Title                string    `db:"title"`
	Content              string    `db:"content"`
	Sections             []byte    `db:"sections"`
	Metadata             []byte    `db:"metadata"`
	Confidence           float64   `db:"confidence"`
	GeneratedBy          string    `db:"generated_by"`
	Version              int       `db:"version"`
	GeneratedAt          time.Time `db:"generated_at"`
	ProfessionalAnalysis string    `db:"professional_analysis"`
}

func (r *documentRow) toModel() (*models.PRDDocument, error) {
	doc := &models.PRDDocument{
		ID:                   r.ID,
		RequestID:            r.RequestID,
		Title:                r.Title,
		Content:              r.Content,
		Confidence:           r.Confidence,
		GeneratedBy:          r.GeneratedBy,
		Version:              r.Version,
		GeneratedAt:          r.GeneratedAt,
		ProfessionalAnalysis: r.ProfessionalAnalysis,
	}
	if len(r.Sections) > 0 {
		if err := json.Unmarshal(r.Sections, &doc.Sections); err != nil {
			return nil, fmt.Errorf("failed to decode sections: %w", err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return doc, nil
}

const documentColumns = `id, request_id, title, content, sections, metadata,
	confidence, generated_by, version, generated_at,
	COALESCE(professional_analysis, '') AS professional_analysis`

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.PRDDocument, error) {
	var row documentRow
	query := `SELECT ` + documentColumns + ` FROM prd_documents WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewErrorf(models.ErrNotFound, "document %s not found", id)
		}
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to load document", err)
	}
	doc, err := row.toModel()
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "corrupt document row", err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocumentByRequest(ctx context.Context, requestID uuid.UUID) (*models.PRDDocument, error) {
	var row documentRow
	query := `SELECT ` + documentColumns + ` FROM prd_documents WHERE request_id = $1 ORDER BY version DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &row, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewErrorf(models.ErrNotFound, "no document for request %s", requestID)
		}
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to load document", err)
	}
	doc, err := row.toModel()
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "corrupt document row", err)
	}
	return doc, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *models.PRDDocument) error {
	sections, err := json.Marshal(doc.Sections)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to encode sections", err)
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to encode metadata", err)
	}

	query := `
		UPDATE prd_documents
		SET title = $3, content = $4, sections = $5, metadata = $6,
			confidence = $7, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.Version, doc.Title, doc.Content, sections, metadata, doc.Confidence)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to update document", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to read update result", err)
	}
	if affected == 0 {
		// Distinguish missing row from stale version.
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM prd_documents WHERE id = $1)`, doc.ID); err == nil && !exists {
			return models.NewErrorf(models.ErrNotFound, "document %s not found", doc.ID)
		}
		return models.NewErrorf(models.ErrConflict, "document %s version %d is stale", doc.ID, doc.Version)
	}
	doc.Version++
	return nil
}

func (s *PostgresStore) CreateMockupUpload(ctx context.Context, upload *models.MockupUpload) error {
	if err := upload.Validate(); err != nil {
		return err
	}
	if upload.ID == uuid.Nil {
		upload.ID = uuid.New()
	}
	now := time.Now().UTC()
	upload.UploadedAt = now
	upload.ExpiresAt = now.Add(models.MockupExtendedExpiry)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM mockup_uploads WHERE request_id = $1`, upload.RequestID); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to count mockups", err)
	}
	if count >= models.MaxMockupSources {
		return models.NewErrorf(models.ErrValidation,
			"request %s already has %d mockups", upload.RequestID, models.MaxMockupSources)
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM prd_requests WHERE id = $1)`, upload.RequestID); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to check request", err)
	}
	if !exists {
		return models.NewErrorf(models.ErrNotFound, "request %s not found", upload.RequestID)
	}

	insert := `
		INSERT INTO mockup_uploads
			(id, request_id, storage_path, bucket, file_name, file_size,
			 mime_type, uploaded_at, expires_at, is_processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
	`
	if _, err := tx.ExecContext(ctx, insert,
		upload.ID, upload.RequestID, upload.StoragePath, upload.Bucket,
		upload.FileName, upload.FileSize, upload.MimeType,
		upload.UploadedAt, upload.ExpiresAt,
	); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to insert mockup upload", err)
	}
	if err := tx.Commit(); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to commit mockup upload", err)
	}
	return nil
}

type uploadRow struct {
	ID                 uuid.UUID `db:"id"`
	RequestID          uuid.UUID `db:"request_id"`
	StoragePath        string    `db:"storage_path"`
	Bucket             string    `db:"bucket"`
	FileName           string    `db:"file_name"`
	FileSize           int64     `db:"file_size"`
	MimeType           string    `db:"mime_type"`
	UploadedAt         time.Time `db:"uploaded_at"`
	ExpiresAt          time.Time `db:"expires_at"`
	AnalysisResult     []byte    `db:"analysis_result"`
	AnalysisConfidence *float64  `db:"analysis_confidence"`
	IsProcessed        bool      `db:"is_processed"`
}

func (r *uploadRow) toModel() (*models.MockupUpload, error) {
	upload := &models.MockupUpload{
		ID:                 r.ID,
		RequestID:          r.RequestID,
		StoragePath:        r.StoragePath,
		Bucket:             r.Bucket,
		FileName:           r.FileName,
		FileSize:           r.FileSize,
		MimeType:           r.MimeType,
		UploadedAt:         r.UploadedAt,
		ExpiresAt:          r.ExpiresAt,
		AnalysisConfidence: r.AnalysisConfidence,
		IsProcessed:        r.IsProcessed,
	}
	if len(r.AnalysisResult) > 0 {
		var analysis models.MockupAnalysis
		if err := json.Unmarshal(r.AnalysisResult, &analysis); err != nil {
			return nil, fmt.Errorf("failed to decode analysis result: %w", err)
		}
		upload.AnalysisResult = &analysis
	}
	return upload, nil
}

const uploadColumns = `id, request_id, storage_path, bucket, file_name,
	file_size, mime_type, uploaded_at, expires_at, analysis_result,
	analysis_confidence, is_processed`

func (s *PostgresStore) GetMockupUpload(ctx context.Context, id uuid.UUID) (*models.MockupUpload, error) {
	var row uploadRow
	query := `SELECT ` + uploadColumns + ` FROM mockup_uploads WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewErrorf(models.ErrNotFound, "mockup upload %s not found", id)
		}
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to load mockup upload", err)
	}
	upload, err := row.toModel()
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "corrupt mockup upload row", err)
	}
	return upload, nil
}

func (s *PostgresStore) ListMockupUploads(ctx context.Context, requestID uuid.UUID) ([]*models.MockupUpload, error) {
	var rows []uploadRow
	query := `SELECT ` + uploadColumns + ` FROM mockup_uploads WHERE request_id = $1 ORDER BY uploaded_at`
	if err := s.db.SelectContext(ctx, &rows, query, requestID); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to list mockup uploads", err)
	}
	out := make([]*models.MockupUpload, 0, len(rows))
	for i := range rows {
		upload, err := rows[i].toModel()
		if err != nil {
			return nil, models.WrapError(models.ErrProcessingFailed, "corrupt mockup upload row", err)
		}
		out = append(out, upload)
	}
	return out, nil
}

func (s *PostgresStore) UpdateMockupUpload(ctx context.Context, upload *models.MockupUpload) error {
	var analysis []byte
	if upload.AnalysisResult != nil {
		encoded, err := json.Marshal(upload.AnalysisResult)
		if err != nil {
			return models.WrapError(models.ErrProcessingFailed, "failed to encode analysis result", err)
		}
		analysis = encoded
	}
	query := `
		UPDATE mockup_uploads
		SET analysis_result = $2, analysis_confidence = $3, is_processed = $4, expires_at = $5
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		upload.ID, analysis, upload.AnalysisConfidence, upload.IsProcessed, upload.ExpiresAt)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to update mockup upload", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to read update result", err)
	}
	if affected == 0 {
		return models.NewErrorf(models.ErrNotFound, "mockup upload %s not found", upload.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteMockupUploadsForRequest(ctx context.Context, requestID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM mockup_uploads WHERE request_id = $1`, requestID); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to delete mockup uploads", err)
	}
	return nil
}

func (s *PostgresStore) LinkCodebase(ctx context.Context, requestID, projectID uuid.UUID) (*models.CodebaseLink, error) {
	link := &models.CodebaseLink{
		ID:        uuid.New(),
		RequestID: requestID,
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
	}
	query := `
		INSERT INTO prd_codebase_links (id, prd_request_id, codebase_project_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, link.ID, link.RequestID, link.ProjectID, link.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, models.NewErrorf(models.ErrConflict,
				"request %s is already linked to codebase %s", requestID, projectID)
		}
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to link codebase", err)
	}
	return link, nil
}

func (s *PostgresStore) ListCodebaseLinks(ctx context.Context, requestID uuid.UUID) ([]*models.CodebaseLink, error) {
	var links []*models.CodebaseLink
	query := `
		SELECT id, prd_request_id, codebase_project_id, created_at
		FROM prd_codebase_links WHERE prd_request_id = $1 ORDER BY created_at
	`
	if err := s.db.SelectContext(ctx, &links, query, requestID); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to list codebase links", err)
	}
	return links, nil
}
