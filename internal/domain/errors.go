package domain

import (
	"errors"
	"fmt"
)

var (
	ErrClaimNotFound    = errors.New("claim not found")
	ErrSessionOwnership = errors.New("session belongs to another user")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrSessionNotFound  = errors.New("session not found")
)

// ValidationError reports malformed input caught before any external call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a failure (or timeout) of an external collaborator.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError reports a session store failure. The turn response is still
// delivered alongside it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// APIError is a non-2xx answer from the claims API other than 404.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("claims api status %d: %s", e.StatusCode, e.Body)
}
