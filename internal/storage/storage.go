// Package storage holds mockup image bytes. The S3 implementation is used in
// deployments; the in-memory implementation backs tests and SKIP_DATABASE
// mode. Keys are namespaced per request so bulk deletion on expiry is a
// prefix operation.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// MockupStorage stores and serves mockup images
type MockupStorage interface {
	// Upload stores an image and returns its storage key
	Upload(ctx context.Context, requestID, uploadID uuid.UUID, contentType string, body io.Reader, size int64) (string, error)

	// SignedURL returns a time-limited read URL for a stored object
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Download streams a stored object
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the object is present
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes one object
	Delete(ctx context.Context, key string) error

	// DeleteAllForRequest removes every object under the request's prefix
	DeleteAllForRequest(ctx context.Context, requestID uuid.UUID) error
}

// ObjectKey builds the canonical storage key for an upload
func ObjectKey(requestID, uploadID uuid.UUID) string {
	return "mockups/" + requestID.String() + "/" + uploadID.String()
}

// RequestPrefix is the common prefix of all objects for one request
func RequestPrefix(requestID uuid.UUID) string {
	return "mockups/" + requestID.String() + "/"
}
