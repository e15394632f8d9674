package keepa

import (
	"errors"
	"fmt"
)

// ErrorKind partitions client failures by how callers should react.
type ErrorKind string

const (
	// KindTransient marks retryable failures: transport timeouts, 5xx.
	KindTransient ErrorKind = "transient"
	// KindMalformed marks API contract violations. Never retried.
	KindMalformed ErrorKind = "malformed"
	// KindBudget marks a token bucket that stayed empty past the
	// caller's deadline.
	KindBudget ErrorKind = "budget"
	// KindFatal marks configuration problems: missing credentials,
	// unreachable endpoint at startup.
	KindFatal ErrorKind = "fatal"
)

// APIError is the client's error type. Use errors.As to recover it and
// Kind to branch on the failure class.
type APIError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keepa %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *APIError {
	return &APIError{Kind: kind, Op: op, Err: err}
}

// KindOf classifies any error; unknown errors count as transient so
// callers err on the side of retrying.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}
