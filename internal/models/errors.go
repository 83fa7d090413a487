package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy every component maps its failures into.
// Upstream idioms (HTTP status codes, AWS error types, SQL errors) never
// cross a package boundary untranslated.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "validation"
	ErrNotFound         ErrorKind = "not_found"
	ErrBusinessRule     ErrorKind = "business_rule"
	ErrConflict         ErrorKind = "conflict"
	ErrUnauthorized     ErrorKind = "unauthorized"
	ErrProcessingFailed ErrorKind = "processing_failed"
	ErrTimeout          ErrorKind = "timeout"
)

// AppError carries a taxonomy kind alongside the underlying cause
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewError creates an AppError with the given kind and message
func NewError(kind ErrorKind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// NewErrorf creates an AppError with a formatted message
func NewErrorf(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a taxonomy kind
func WrapError(kind ErrorKind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain. Errors that never
// passed through an adapter boundary default to processing_failed.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ErrProcessingFailed
}

// IsKind reports whether err carries the given taxonomy kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a taxonomy kind to its transport status
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrValidation:
		return 400
	case ErrUnauthorized:
		return 401
	case ErrNotFound:
		return 404
	case ErrConflict:
		return 409
	case ErrBusinessRule:
		return 422
	case ErrProcessingFailed:
		return 502
	case ErrTimeout:
		return 504
	default:
		return 500
	}
}

// Retryable reports whether the caller may meaningfully retry the operation
func (k ErrorKind) Retryable() bool {
	return k == ErrConflict || k == ErrProcessingFailed || k == ErrTimeout
}
