// Package store persists PRD requests, documents, mockup uploads, and
// codebase links, and is the single owner of the request state machine.
// Two implementations exist: Postgres (sqlx) and process memory for
// SKIP_DATABASE deployments and tests.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// Store is the request/document persistence boundary. All mutations stamp
// updated_at; readers observing a completed request always observe its
// document (the attach is atomic).
type Store interface {
	CreateRequest(ctx context.Context, req *models.PRDRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.PRDRequest, error)
	ListRequestsByRequester(ctx context.Context, requesterID string) ([]*models.PRDRequest, error)

	// TransitionRequest applies a state-machine transition. Illegal
	// transitions surface as business_rule; unknown IDs as not_found.
	TransitionRequest(ctx context.Context, id uuid.UUID, next models.RequestStatus, reason string) (*models.PRDRequest, error)

	// AttachDocument saves the document and completes its request in one
	// atomic write.
	AttachDocument(ctx context.Context, doc *models.PRDDocument) error

	GetDocument(ctx context.Context, id uuid.UUID) (*models.PRDDocument, error)
	GetDocumentByRequest(ctx context.Context, requestID uuid.UUID) (*models.PRDDocument, error)

	// UpdateDocument uses optimistic concurrency on (id, version); a stale
	// version surfaces as conflict.
	UpdateDocument(ctx context.Context, doc *models.PRDDocument) error

	CreateMockupUpload(ctx context.Context, upload *models.MockupUpload) error
	GetMockupUpload(ctx context.Context, id uuid.UUID) (*models.MockupUpload, error)
	ListMockupUploads(ctx context.Context, requestID uuid.UUID) ([]*models.MockupUpload, error)
	UpdateMockupUpload(ctx context.Context, upload *models.MockupUpload) error
	DeleteMockupUploadsForRequest(ctx context.Context, requestID uuid.UUID) error

	// LinkCodebase associates a codebase project with a request. Re-linking
	// the same pair surfaces as conflict without duplicating rows.
	LinkCodebase(ctx context.Context, requestID, projectID uuid.UUID) (*models.CodebaseLink, error)
	ListCodebaseLinks(ctx context.Context, requestID uuid.UUID) ([]*models.CodebaseLink, error)
}
