package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrAuth              = errors.New("authentication failed")
	ErrTransient         = errors.New("transient provider failure")
	ErrSchema            = errors.New("invalid structured data")
	ErrPersistence       = errors.New("persistence failure")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDegenerateVector  = errors.New("degenerate embedding")
	ErrNotFound          = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrUnknownTeam      = errors.New("unknown team")
	ErrPriorityRange    = errors.New("priority out of range")
	ErrMissingField     = errors.New("missing field")
	ErrUnknownStatus    = errors.New("unknown status")
	ErrEmptyMessageBody = errors.New("empty message body")
)

// AuthError is a credential failure against an external provider. It is
// fatal for the current ingestion cycle only.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, ErrAuth, e.Err)
}

func (e *AuthError) Unwrap() []error { return []error{ErrAuth, e.Err} }

// TransientProviderError is a network, timeout, rate-limit, or 5xx failure
// that may succeed on retry.
type TransientProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, ErrTransient, e.Err)
}

func (e *TransientProviderError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// SchemaError is structured data that failed to decode or validate.
// It is terminal for the message and must not be retried with the same input.
type SchemaError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: %v", e.Wrapped)
	}
	return fmt.Sprintf("schema: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *SchemaError) Unwrap() []error { return []error{ErrSchema, e.Wrapped} }

// NewSchemaError creates a SchemaError.
func NewSchemaError(field, value string, wrapped error) *SchemaError {
	return &SchemaError{Field: field, Value: value, Wrapped: wrapped}
}

// PersistenceError is a ticket store or index write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// ClassificationError is any failure of the classifier client.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string { return "classify: " + e.Err.Error() }

func (e *ClassificationError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *ClassificationError) Retryable() bool { return IsRetryable(e.Err) }

// EmbeddingError is any failure of the embedding client. No partial vector
// accompanies it.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "embed: " + e.Err.Error() }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *EmbeddingError) Retryable() bool { return IsRetryable(e.Err) }

// IsRetryable reports whether err is worth retrying with identical input.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var tp *TransientProviderError
	return errors.As(err, &tp)
}

// Reason maps an error to a short, stable label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrEmptyMessageBody):
		return "empty_body"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrDegenerateVector):
		return "degenerate_vector"
	default:
		return "unknown"
	}
}
