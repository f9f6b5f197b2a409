package errors

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// Classifier maps raw failures to FlowErrors.
//
// Classification is total and the priority order is fixed: the first rule
// that matches wins. Typed failures are checked before the message-matching
// branch, which exists only for collaborators that surface free text.
type Classifier struct {
	// RetryOn4xx makes non-rate-limit 4xx statuses retryable.
	RetryOn4xx bool

	// RetryOn5xx makes 5xx statuses retryable.
	RetryOn5xx bool
}

// Default classifies with 5xx retries on and 4xx retries off.
var Default = Classifier{RetryOn5xx: true}

var statusPattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// Classify maps err to a FlowError originating in phase.
// Returns nil for a nil error.
func (c Classifier) Classify(err error, phase string) *FlowError {
	if err == nil {
		return nil
	}

	// Already classified: keep the decision, fill in the phase.
	var existing *FlowError
	if errors.As(err, &existing) {
		fe := existing.Clone()
		if fe.Phase == "" {
			fe.Phase = phase
		}
		return fe
	}

	if fe := c.classifyTyped(err); fe != nil {
		fe.Phase = phase
		fe.Err = err
		if fe.Message == "" {
			fe.Message = err.Error()
		}
		return fe
	}

	fe := c.classifyMessage(err.Error())
	fe.Phase = phase
	fe.Err = err
	fe.Message = err.Error()
	return fe
}

// classifyTyped walks the priority ladder over typed failures.
// Returns nil if nothing matched.
func (c Classifier) classifyTyped(err error) *FlowError {
	// 1. Cancellation
	var cancelErr *CancelledError
	if errors.Is(err, context.Canceled) || errors.As(err, &cancelErr) {
		return cancelled()
	}

	// 2. Timeout
	var timeoutErr *TimeoutError
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &timeoutErr) {
		return timeout()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeout()
	}

	// 3. Rate limit
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		fe := rateLimited()
		fe.RetryAfter = rateErr.RetryAfter
		return fe
	}

	// 4/5. Remote status
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if fe := c.fromStatus(statusErr.StatusCode); fe != nil {
			fe.StatusCode = statusErr.StatusCode
			fe.RetryAfter = statusErr.RetryAfter
			if statusErr.Message != "" {
				fe.Message = statusErr.Error()
			}
			return fe
		}
	}

	// 6. Connectivity
	var nwErr *NetworkError
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &nwErr) || errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return network()
	}

	// Raised before any remote call.
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &FlowError{Kind: KindValidation}
	}

	return nil
}

// fromStatus classifies a status code. Returns nil for codes that are not
// remote failures.
func (c Classifier) fromStatus(code int) *FlowError {
	switch {
	case code == 429:
		return rateLimited()
	case code >= 500 && code <= 599:
		return &FlowError{
			Kind:             KindAPI,
			Recoverable:      true,
			Retryable:        c.RetryOn5xx,
			FallbackEligible: true,
		}
	case code >= 400 && code <= 499:
		return &FlowError{
			Kind:        KindAPI,
			Recoverable: c.RetryOn4xx,
			Retryable:   c.RetryOn4xx,
		}
	}
	return nil
}

// classifyMessage is the degraded branch for untyped failures.
func (c Classifier) classifyMessage(msg string) *FlowError {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "cancel") || strings.Contains(lower, "operation was aborted") ||
		strings.Contains(lower, "aborterror"):
		return cancelled()
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded"):
		return timeout()
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return rateLimited()
	}

	if m := statusPattern.FindStringSubmatch(lower); m != nil {
		code, _ := strconv.Atoi(m[1])
		if fe := c.fromStatus(code); fe != nil {
			fe.StatusCode = code
			return fe
		}
	}

	switch {
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") || strings.Contains(lower, "fetch failed") ||
		strings.Contains(lower, "no such host"):
		return network()
	}

	return &FlowError{Kind: KindUnknown}
}

func cancelled() *FlowError {
	return &FlowError{Kind: KindCancelled}
}

func timeout() *FlowError {
	return &FlowError{Kind: KindTimeout, Recoverable: true, Retryable: true, FallbackEligible: true}
}

func rateLimited() *FlowError {
	return &FlowError{Kind: KindRateLimited, Recoverable: true, Retryable: true, FallbackEligible: true}
}

func network() *FlowError {
	return &FlowError{Kind: KindNetwork, Recoverable: true, Retryable: true, FallbackEligible: true}
}

// Local wraps err as a failure of a deterministic local phase.
// Local failures are never retried or sent to a fallback target, because
// repeating them reproduces the same result.
func (c Classifier) Local(err error, phase string) *FlowError {
	fe := c.Classify(err, phase)
	if fe == nil {
		return nil
	}
	if fe.Kind == KindCancelled {
		return fe
	}
	fe.Recoverable = false
	fe.Retryable = false
	fe.FallbackEligible = false
	return fe
}
