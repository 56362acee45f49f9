package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the analysis pipeline. Messages carried to the caller
// must never contain patient data; identifiers travel in structured fields
// only.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadRequest          = errors.New("bad request")
	ErrInternal            = errors.New("internal error")
	ErrConsentDenied       = errors.New("consent denied")
	ErrConsentUndetermined = errors.New("consent undetermined")
	ErrModelThrottled      = errors.New("model throttled")
	ErrModelTimeout        = errors.New("model timeout")
	ErrMalformedOutput     = errors.New("malformed model output")
	ErrAuditWrite          = errors.New("audit write failure")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// ConsentDenied creates the rejection returned when a patient has opted out.
func ConsentDenied() *AppError {
	return &AppError{
		Err:        ErrConsentDenied,
		Message:    "patient has opted out of AI analysis",
		Code:       "CONSENT_DENIED",
		HTTPStatus: http.StatusForbidden,
	}
}

// ConsentUndetermined creates the fail-safe rejection used when the consent
// store cannot be reached. Undetermined is always treated as not allowed.
func ConsentUndetermined() *AppError {
	return &AppError{
		Err:        ErrConsentUndetermined,
		Message:    "consent status could not be determined",
		Code:       "CONSENT_UNDETERMINED",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// ModelThrottled creates the error surfaced when retry attempts against a
// throttling model endpoint are exhausted.
func ModelThrottled(err error) *AppError {
	return &AppError{
		Err:        ErrModelThrottled,
		Message:    "model endpoint throttled",
		Code:       "MODEL_THROTTLED",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    wrapDetail(err),
	}
}

// ModelTimeout creates the fatal error surfaced when the model call timed
// out and its single retry timed out as well.
func ModelTimeout(err error) *AppError {
	return &AppError{
		Err:        ErrModelTimeout,
		Message:    "model invocation timed out",
		Code:       "MODEL_TIMEOUT",
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    wrapDetail(err),
	}
}

// MalformedOutput creates the fatal error surfaced when model output could
// not be parsed even after the repair re-prompt.
func MalformedOutput(err error) *AppError {
	return &AppError{
		Err:        ErrMalformedOutput,
		Message:    "model produced unparseable output",
		Code:       "MODEL_MALFORMED_OUTPUT",
		HTTPStatus: http.StatusBadGateway,
		Details:    wrapDetail(err),
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

func wrapDetail(err error) map[string]string {
	if err == nil {
		return nil
	}
	return map[string]string{"cause": err.Error()}
}
