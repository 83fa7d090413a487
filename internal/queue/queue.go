// Package queue carries indexing jobs between the API and the worker.
// Delivery is at-least-once: a leased message that is neither acked nor
// failed becomes visible again, so job handlers must be idempotent.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// JobMessage is one queued indexing job. Attempt counts deliveries that
// ended in a retryable failure.
type JobMessage struct {
	JobID      uuid.UUID              `json:"job_id"`
	ProjectID  uuid.UUID              `json:"project_id"`
	JobType    models.IndexingJobType `json:"job_type"`
	Attempt    int                    `json:"attempt"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// Lease is one received message pending ack or fail
type Lease struct {
	Message JobMessage

	// receipt identifies the delivery at the backing queue
	receipt string
}

// JobQueue is the transport for indexing jobs
type JobQueue interface {
	// Enqueue makes the job visible to workers
	Enqueue(ctx context.Context, msg JobMessage) error

	// Lease receives at most one message. A nil lease with a nil error
	// means the queue was empty within the poll window.
	Lease(ctx context.Context, workerID string) (*Lease, error)

	// Ack removes a successfully processed message
	Ack(ctx context.Context, lease *Lease) error

	// Fail finishes a delivery that errored. Retryable failures re-enqueue
	// the message with the attempt counter incremented; fatal ones drop it.
	Fail(ctx context.Context, lease *Lease, reason string, retryable bool) error
}
