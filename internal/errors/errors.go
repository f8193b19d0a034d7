// Package errors defines the tagged error kinds propagated across
// capability calls, the orchestrator, and the job surface.
package errors

import "fmt"

// Kind tags a CapabilityError with the propagation behavior it should
// receive upstream (retry with backoff, refinement retry, abort, fatal).
type Kind string

const (
	// InvalidArgument marks malformed config, limiter, or request input.
	InvalidArgument Kind = "invalid_argument"
	// CapabilityFailure marks a remote provider error not matching a more
	// specific kind below.
	CapabilityFailure Kind = "capability_failure"
	// ContentPolicy marks a provider refusal due to content policy.
	ContentPolicy Kind = "content_policy"
	// Timeout marks a provider call that exceeded its configured budget.
	Timeout Kind = "timeout"
	// Cancelled marks a call aborted because the job's cancellation token
	// tripped.
	Cancelled Kind = "cancelled"
	// AllLeavesFailed marks a fatal, whole-iteration failure.
	AllLeavesFailed Kind = "all_leaves_failed"
)

// CapabilityError is the typed error value returned by capability
// implementations and by internal components that need to distinguish
// retryable failures from fatal ones.
type CapabilityError struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *CapabilityError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs a CapabilityError of the given kind.
func New(kind Kind, format string, args ...any) *CapabilityError {
	return &CapabilityError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) a *CapabilityError,
// otherwise CapabilityFailure.
func KindOf(err error) Kind {
	var ce *CapabilityError
	if asCapabilityError(err, &ce) {
		return ce.Kind
	}
	return CapabilityFailure
}

func asCapabilityError(err error, target **CapabilityError) bool {
	for err != nil {
		if ce, ok := err.(*CapabilityError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether a failure of this kind should be retried with
// backoff by the caller.
func (k Kind) Retryable() bool {
	switch k {
	case CapabilityFailure, Timeout:
		return true
	default:
		return false
	}
}
