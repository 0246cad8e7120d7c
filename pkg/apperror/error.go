package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a structured pipeline error. Code identifies the failure class and
// is what errors.Is compares, so wrapped copies still match their sentinel.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
		Details:    e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   e.Internal,
		Details:    details,
	}
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

var (
	// Configuration: bad mapping or settings, raised before any I/O.
	ErrConfiguration = New(http.StatusUnprocessableEntity, "configuration_error", "Invalid configuration")

	// Resolution: the batch is aborted with nothing written.
	ErrUnknownApplication = New(http.StatusUnprocessableEntity, "unknown_application", "Application name and type combination not found")
	ErrMetricResolution   = New(http.StatusInternalServerError, "metric_resolution_error", "Metric could not be resolved")
	ErrInvalidMetricType  = New(http.StatusUnprocessableEntity, "invalid_metric_type", "Allowed metric types are 'numerical' and 'categorical'")

	// Row-scoped payload decoding failure.
	ErrDecode = New(http.StatusUnprocessableEntity, "decode_error", "Malformed record payload")

	// No evaluation-ready rows for the requested window.
	ErrEmptyResult = New(http.StatusNotFound, "empty_result", "No records to run evaluation")

	ErrNotFound   = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrBadRequest = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrConflict   = New(http.StatusConflict, "conflict", "A run is already in progress")
	ErrInternal   = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase   = New(http.StatusInternalServerError, "database_error", "Database operation failed")
	ErrStorage    = New(http.StatusInternalServerError, "storage_error", "Storage operation failed")
)

// ToHTTPError converts an error into a status code and response body.
func ToHTTPError(err error) (int, map[string]any) {
	var appErr *Error
	if errors.As(err, &appErr) {
		errBody := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if len(appErr.Details) > 0 {
			errBody["details"] = appErr.Details
		}
		return appErr.HTTPStatus, map[string]any{
			"error": errBody,
		}
	}

	return http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"code":    "internal_error",
			"message": "An internal error occurred",
		},
	}
}

// NewConfiguration creates a configuration error with a custom message
func NewConfiguration(format string, args ...any) *Error {
	return ErrConfiguration.WithMessage(fmt.Sprintf(format, args...))
}

// NewBadRequest creates a bad request error with a custom message
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}
