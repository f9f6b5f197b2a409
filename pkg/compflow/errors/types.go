package errors

import (
	"fmt"
	"time"
)

// StatusError represents a remote failure carrying a status code.
type StatusError struct {
	StatusCode int
	Message    string
	Target     string

	// RetryAfter is the server's wait hint, if it sent one.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("status %d from %s: %s", e.StatusCode, e.Target, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// RateLimitError indicates the remote throttled the caller without a
// status code, e.g. a quota signal in a response body.
type RateLimitError struct {
	Target     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s, retry after %s", e.Target, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.Target)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// NetworkError indicates the remote could not be reached.
type NetworkError struct {
	Target string
	Err    error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("network error reaching %s", e.Target)
	}
	return fmt.Sprintf("network error reaching %s: %v", e.Target, e.Err)
}

// Unwrap returns the transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError indicates malformed input detected before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// CancelledError indicates an explicit cancellation request.
type CancelledError struct {
	Reason string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return "cancelled: " + e.Reason
}
