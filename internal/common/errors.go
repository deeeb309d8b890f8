package common

import (
	"errors"
	"fmt"
	"strings"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline error kinds. Every typed error below matches one of these with errors.Is.
var (
	ErrDuplicate          = errors.New("fingerprint already registered")
	ErrUnparsable         = errors.New("document has no extractable text")
	ErrProvider           = errors.New("ai provider call failed")
	ErrSchemaValidation   = errors.New("ai output does not conform to schema")
	ErrExtractionFailed   = errors.New("structured extraction failed")
	ErrDuplicateInQueue   = errors.New("fingerprint already in review queue")
	ErrMappingConsistency = errors.New("keyword mapping inconsistent")
	ErrStateConflict      = errors.New("queue state conflict")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func InvalidArgumentError(message string) error {
	return NewAppError("INVALID_ARGUMENT", message, ErrInvalidInput)
}

func InvalidArgumentErrorf(format string, args ...any) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func NotFoundError(message string) error {
	return NewAppError("NOT_FOUND", message, ErrNotFound)
}

// DuplicateError means the fingerprint is owned by someone else.
type DuplicateError struct {
	Fingerprint string
	OwnerKind   string
	OwnerID     string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("fingerprint %s already owned by %s %s", short(e.Fingerprint), e.OwnerKind, e.OwnerID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// UnparsableDocumentError is raised by an extraction strategy that found no text layer.
type UnparsableDocumentError struct {
	Strategy string
	Reason   string
	Cause    error
}

func (e *UnparsableDocumentError) Error() string {
	msg := fmt.Sprintf("unparsable document (strategy %s): %s", e.Strategy, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnparsableDocumentError) Is(target error) bool { return target == ErrUnparsable }
func (e *UnparsableDocumentError) Unwrap() error        { return e.Cause }

// ProviderErrorKind classifies provider failures for logging and fallback.
type ProviderErrorKind string

const (
	ProviderErrTimeout   ProviderErrorKind = "timeout"
	ProviderErrRateLimit ProviderErrorKind = "rate_limit"
	ProviderErrHTTP      ProviderErrorKind = "http"
	ProviderErrMalformed ProviderErrorKind = "malformed"
	ProviderErrConfig    ProviderErrorKind = "config"
)

type ProviderError struct {
	Provider string
	Model    string
	Kind     ProviderErrorKind
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s) %s error: %v", e.Provider, e.Model, e.Kind, e.Cause)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }
func (e *ProviderError) Unwrap() error        { return e.Cause }

type SchemaValidationError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("provider %s (%s) returned nonconforming output: %v", e.Provider, e.Model, e.Cause)
}

func (e *SchemaValidationError) Is(target error) bool { return target == ErrSchemaValidation }
func (e *SchemaValidationError) Unwrap() error        { return e.Cause }

// Attempt records one provider call that failed.
type Attempt struct {
	Provider string
	Model    string
	Err      error
}

// ExtractionFailedError is surfaced once the whole fallback chain is exhausted.
type ExtractionFailedError struct {
	Operation string
	Strategy  string
	Attempts  []Attempt
}

func (e *ExtractionFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s: %v", a.Provider, a.Model, a.Err))
	}
	return fmt.Sprintf("%s failed after %d attempt(s) (strategy %q): %s",
		e.Operation, len(e.Attempts), e.Strategy, strings.Join(parts, "; "))
}

func (e *ExtractionFailedError) Is(target error) bool { return target == ErrExtractionFailed }

// Unwrap exposes every attempt error so errors.As finds ProviderError and SchemaValidationError.
func (e *ExtractionFailedError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Err)
	}
	return out
}

type DuplicateInQueueError struct {
	Fingerprint string
	QueueItemID string
	State       string
}

func (e *DuplicateInQueueError) Error() string {
	return fmt.Sprintf("fingerprint %s already queued as %s (state %s)", short(e.Fingerprint), e.QueueItemID, e.State)
}

func (e *DuplicateInQueueError) Is(target error) bool { return target == ErrDuplicateInQueue }

// MappingConsistencyError signals a transactional bug. Never swallow it.
type MappingConsistencyError struct {
	Operation string
	Detail    string
}

func (e *MappingConsistencyError) Error() string {
	return fmt.Sprintf("%s: mapping consistency violated: %s", e.Operation, e.Detail)
}

func (e *MappingConsistencyError) Is(target error) bool { return target == ErrMappingConsistency }

type StateConflictError struct {
	QueueItemID string
	Current     string
	Wanted      string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("queue item %s is %s, cannot move to %s", e.QueueItemID, e.Current, e.Wanted)
}

func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
