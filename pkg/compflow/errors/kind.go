// Package errors provides the failure taxonomy for compflow runs.
//
// Remote failures arrive as loosely-typed signals. The package maps them to
// a closed set of kinds so the orchestrator can decide between retrying,
// falling back to another target, or failing the run:
//   - Classification: map any error to a FlowError with a Kind
//   - Retryability: whether another attempt against the same target may help
//   - Fallback eligibility: whether a different target may help
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a class of failure.
type Kind int

const (
	// KindUnknown is anything the classifier could not recognise.
	// Unknown failures are never recovered.
	KindUnknown Kind = iota

	// KindCancelled indicates the caller cancelled the run.
	KindCancelled

	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout

	// KindRateLimited indicates the remote rejected the call with a
	// rate-limit signal (HTTP 429 or equivalent).
	KindRateLimited

	// KindAPI indicates the remote returned an error status.
	KindAPI

	// KindNetwork indicates the remote could not be reached.
	KindNetwork

	// KindValidation indicates malformed input, raised before any remote call.
	KindValidation
)

// String returns the taxonomy name.
func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "CANCELLED"
	case KindTimeout:
		return "TIMEOUT"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindAPI:
		return "API_ERROR"
	case KindNetwork:
		return "NETWORK_ERROR"
	case KindValidation:
		return "VALIDATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseKind returns the Kind for a taxonomy name.
func ParseKind(s string) (Kind, error) {
	for k := KindUnknown; k <= KindValidation; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown error kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// FlowError is a classified failure.
type FlowError struct {
	// Kind is the taxonomy entry.
	Kind Kind `json:"kind"`

	// Message is a human readable description.
	Message string `json:"message"`

	// Phase is the flow phase the failure originated in.
	Phase string `json:"phase,omitempty"`

	Recoverable      bool `json:"recoverable"`
	Retryable        bool `json:"retryable"`
	FallbackEligible bool `json:"fallback_eligible"`

	// RetryAfter is the server-provided wait hint, if any.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// StatusCode is set for remote status failures.
	StatusCode int `json:"status_code,omitempty"`

	Details map[string]any `json:"details,omitempty"`

	// Attempts is the number of remote attempts made against the primary target.
	Attempts int `json:"attempts,omitempty"`

	// RetryAttempted is true when at least one retry was made.
	RetryAttempted bool `json:"retry_attempted"`

	// FallbackAttempted is true when at least one fallback target was tried.
	FallbackAttempted bool `json:"fallback_attempted"`

	// FallbacksTried is the number of fallback targets attempted.
	FallbacksTried int `json:"fallbacks_tried,omitempty"`

	// Err is the underlying failure.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Phase != "" {
		return fmt.Sprintf("%s in %s: %s", e.Kind, e.Phase, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying failure.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// Exhausted reports whether recovery was tried and ran out, as opposed to
// never having been tried.
func (e *FlowError) Exhausted() bool {
	return e.RetryAttempted || e.FallbackAttempted
}

// Clone returns a copy that can be annotated without affecting e.
func (e *FlowError) Clone() *FlowError {
	if e == nil {
		return nil
	}
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// AsFlowError extracts a *FlowError from err's chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsRetryable reports whether err, once classified with default settings,
// may succeed on another attempt.
func IsRetryable(err error) bool {
	fe := Default.Classify(err, "")
	return fe != nil && fe.Retryable
}

// IsFallbackEligible reports whether err, once classified with default
// settings, may succeed against a different target.
func IsFallbackEligible(err error) bool {
	fe := Default.Classify(err, "")
	return fe != nil && fe.FallbackEligible
}
