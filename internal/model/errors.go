package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an invocation failure. The invoker's retry policy keys
// off this classification: throttling retries with backoff, a timeout
// retries exactly once, everything else surfaces immediately.
type Kind int

const (
	KindUnknown Kind = iota
	KindThrottled
	KindTimeout
	KindAuth
	KindBadRequest
)

// InvokeError wraps a failed invocation attempt with its classification.
type InvokeError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *InvokeError) Error() string {
	switch e.Kind {
	case KindThrottled:
		return fmt.Sprintf("model throttled (status %d): %v", e.Status, e.Err)
	case KindTimeout:
		return fmt.Sprintf("model timed out: %v", e.Err)
	case KindAuth:
		return fmt.Sprintf("model authentication failed (status %d)", e.Status)
	case KindBadRequest:
		return fmt.Sprintf("model rejected request (status %d): %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("model invocation failed: %v", e.Err)
	}
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindThrottled
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// classifyErr wraps a transport-level error, detecting deadline expiry.
func classifyErr(err error) *InvokeError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &InvokeError{Kind: KindTimeout, Err: err}
	}
	return &InvokeError{Kind: KindUnknown, Err: err}
}

// KindOf extracts the failure classification from any error chain.
func KindOf(err error) Kind {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// IsThrottled reports whether err is a throttling-class failure.
func IsThrottled(err error) bool { return KindOf(err) == KindThrottled }

// IsTimeout reports whether err is a timeout-class failure.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }
