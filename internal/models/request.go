// Package models defines the core entities shared across the prd-engine
// components: PRD requests and documents, mockup uploads, and the codebase
// index schema. All IDs are UUIDs and all timestamps are UTC.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority of a PRD request
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is a member of the closed priority enum
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// RequestStatus is the state of a PRD request in its lifecycle
type RequestStatus string

const (
	StatusPending             RequestStatus = "pending"
	StatusProcessing          RequestStatus = "processing"
	StatusClarificationNeeded RequestStatus = "clarification_needed"
	StatusCompleted           RequestStatus = "completed"
	StatusFailed              RequestStatus = "failed"
	StatusCancelled           RequestStatus = "cancelled"
)

// Terminal reports whether the status accepts no further transitions
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is the derived progress view for a status
func (s RequestStatus) Progress() int {
	switch s {
	case StatusPending:
		return 0
	case StatusClarificationNeeded:
		return 25
	case StatusProcessing:
		return 50
	case StatusCompleted:
		return 100
	default:
		return 0
	}
}

// CanTransitionTo implements the request state machine:
//
//	pending -> processing | cancelled
//	processing -> completed | failed | clarification_needed
//	clarification_needed -> processing | cancelled
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed ||
			next == StatusClarificationNeeded || next == StatusCancelled
	case StatusClarificationNeeded:
		return next == StatusProcessing || next == StatusCancelled
	}
	return false
}

// AcceptsWork reports whether new generation work may start in this state
func (s RequestStatus) AcceptsWork() bool {
	return s == StatusPending || s == StatusClarificationNeeded
}

// Requester identifies who asked for the PRD
type Requester struct {
	ID    string `json:"id" db:"requester_id"`
	Email string `json:"email,omitempty" db:"requester_email"`
}

// PRDRequest is the root entity of a generation workflow
type PRDRequest struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	Title               string        `json:"title" db:"title"`
	Description         string        `json:"description" db:"description"`
	Priority            Priority      `json:"priority" db:"priority"`
	Requester           Requester     `json:"requester"`
	MockupSources       []string      `json:"mockup_sources,omitempty" db:"-"`
	PreferredProvider   string        `json:"preferred_provider,omitempty" db:"preferred_provider"`
	Status              RequestStatus `json:"status" db:"status"`
	FailureReason       string        `json:"failure_reason,omitempty" db:"failure_reason"`
	GeneratedDocumentID *uuid.UUID    `json:"generated_document_id,omitempty" db:"generated_document_id"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// MaxMockupSources bounds how many mockups may bind to one request
const MaxMockupSources = 20

// MinCriticalDescription is the minimum description length for critical requests
const MinCriticalDescription = 50

// Validate enforces the request invariants
func (r *PRDRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return NewError(ErrValidation, "title is required")
	}
	if !ValidPriority(r.Priority) {
		return NewErrorf(ErrValidation, "invalid priority %q", r.Priority)
	}
	if r.Priority == PriorityCritical && len(r.Description) < MinCriticalDescription {
		return NewErrorf(ErrValidation,
			"critical requests require a description of at least %d characters", MinCriticalDescription)
	}
	if len(r.MockupSources) > MaxMockupSources {
		return NewErrorf(ErrValidation, "at most %d mockup sources are allowed", MaxMockupSources)
	}
	return nil
}

// ClarificationPriority ranks a clarification question
type ClarificationPriority string

const (
	ClarificationHigh   ClarificationPriority = "high"
	ClarificationMedium ClarificationPriority = "medium"
	ClarificationLow    ClarificationPriority = "low"
)

// Clarification is a question raised before generation proceeds
type Clarification struct {
	ID       uuid.UUID             `json:"id"`
	Question string                `json:"question"`
	Category string                `json:"category"`
	Priority ClarificationPriority `json:"priority"`
	Answer   string                `json:"answer,omitempty"`
}
