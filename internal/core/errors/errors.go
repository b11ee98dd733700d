// Package errors provides centralized error definitions for the application.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import (
	"errors"
	"fmt"
)

// Entity lookup errors.
var (
	// ErrNotFound is the generic missing-entity error; maps to 404.
	ErrNotFound = errors.New("not found")

	// ErrNoteNotFound indicates a note could not be found.
	ErrNoteNotFound = errors.New("note not found")

	// ErrCommunityNotFound indicates a community server could not be found.
	ErrCommunityNotFound = errors.New("community not found")

	// ErrChannelNotFound indicates a monitored channel could not be found.
	ErrChannelNotFound = errors.New("monitored channel not found")

	// ErrScanNotFound indicates a bulk scan could not be found.
	ErrScanNotFound = errors.New("scan not found")

	// ErrJobNotFound indicates a batch job could not be found.
	ErrJobNotFound = errors.New("batch job not found")
)

// Validation and authorization errors.
var (
	// ErrInvalidInput indicates malformed input; maps to 400/422.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden indicates an authorization failure; maps to 403.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized indicates missing or invalid credentials; maps to 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a unique constraint or id mismatch; maps to 409.
	ErrConflict = errors.New("conflict")
)

// Provider errors.
var (
	// ErrProviderUnavailable indicates an embedding/LLM/moderation downstream
	// failure that survived retries.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")

	// ErrCircuitBreakerOpen indicates a provider circuit breaker has tripped.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// Workflow errors.
var (
	// ErrCircuitOpen aborts the current workflow run after consecutive
	// step failures reach the configured threshold.
	ErrCircuitOpen = errors.New("workflow circuit open")

	// ErrTerminalJob indicates an operation on a job in a terminal state.
	ErrTerminalJob = errors.New("job is in a terminal state")

	// ErrModelLoad indicates the chunker model failed to load.
	ErrModelLoad = errors.New("chunking model load failed")
)

// ActiveJobError reports a dispatch attempt while a job of the same type
// is still non-terminal. It surfaces as 429 at the API boundary.
type ActiveJobError struct {
	JobType     string
	ActiveJobID string
}

func (e *ActiveJobError) Error() string {
	return fmt.Sprintf("active job exists for type %s: %s", e.JobType, e.ActiveJobID)
}

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
