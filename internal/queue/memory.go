package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// MemoryQueue is a process-local JobQueue for SKIP_DATABASE deployments and
// tests. Leased messages are hidden until acked or failed.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []JobMessage
	leased  map[string]JobMessage
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{leased: make(map[string]JobMessage)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg JobMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
	return nil
}

func (q *MemoryQueue) Lease(ctx context.Context, workerID string) (*Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	receipt := uuid.NewString()
	q.leased[receipt] = msg
	return &Lease{Message: msg, receipt: receipt}, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, lease *Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.leased[lease.receipt]; !ok {
		return models.NewError(models.ErrNotFound, "lease is not active")
	}
	delete(q.leased, lease.receipt)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, lease *Lease, reason string, retryable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.leased[lease.receipt]; !ok {
		return models.NewError(models.ErrNotFound, "lease is not active")
	}
	delete(q.leased, lease.receipt)
	if retryable {
		retry := lease.Message
		retry.Attempt++
		q.pending = append(q.pending, retry)
	}
	return nil
}

// Depth reports how many messages are waiting; used by tests
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
