package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/heartline/keyset/pkg/collection"
	"github.com/heartline/keyset/pkg/middleware"
	"github.com/heartline/keyset/pkg/pagination"
)

// AppError is an error that carries its own HTTP mapping.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes the cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ErrorResponse represents the consistent error response format.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// validationErrors are client mistakes in the listing parameters. The
// message of the wrapped error names the offending field.
var validationErrors = []struct {
	target error
	code   string
}{
	{collection.ErrInvalidFilter, "validation.invalid_filter"},
	{pagination.ErrUnknownSortField, "validation.unknown_sort_field"},
	{pagination.ErrInvalidSortSpec, "validation.invalid_sort"},
	{pagination.ErrCursorMismatch, "validation.cursor_mismatch"},
	{pagination.ErrUnsupportedValue, "validation.unsupported_value"},
	{pagination.ErrUntranslatable, "validation.unsupported_query"},
}

// MapError maps an error returned by a listing operation to an HTTP status
// and response body. Store and internal failures never leak their message.
func MapError(ctx context.Context, err error) (int, ErrorResponse) {
	requestID := getRequestID(ctx)

	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = inferStatusFromCode(appErr.Code)
		}
		return status, ErrorResponse{
			Error:     errorCategory(status, appErr.Code),
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
			Details:   appErr.Details,
		}
	}

	for _, v := range validationErrors {
		if errors.Is(err, v.target) {
			return http.StatusBadRequest, ErrorResponse{
				Error:     "validation_error",
				Code:      v.code,
				Message:   err.Error(),
				RequestID: requestID,
			}
		}
	}

	switch {
	// A store call cut short by the request deadline is a timeout, not an outage.
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{
			Error:     "timeout",
			Code:      "request.timeout",
			Message:   "the request timed out",
			RequestID: requestID,
		}
	case errors.Is(err, pagination.ErrStore):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error:     "service_unavailable",
			Code:      "store.unavailable",
			Message:   "the backing store is unavailable, retry later",
			RequestID: requestID,
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error:     "internal_server_error",
		Message:   "an unexpected error occurred",
		RequestID: requestID,
	}
}

func getRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(middleware.RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// NewValidationError creates a 400 error.
func NewValidationError(message string, details map[string]any) *AppError {
	return &AppError{
		Code:       "validation.failed",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:       "resource.not_found",
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewRateLimitError creates a 429 error.
func NewRateLimitError(message string) *AppError {
	return &AppError{
		Code:       "rate_limit.exceeded",
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// NewInternalError creates a 500 error with an optional cause.
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Code:       "internal.error",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func errorCategory(status int, code string) string {
	if strings.HasPrefix(strings.ToLower(code), "validation.") {
		return "validation_error"
	}

	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		if status >= 500 {
			return "internal_server_error"
		}
		return "application_error"
	}
}

func inferStatusFromCode(code string) int {
	lowerCode := strings.ToLower(strings.TrimSpace(code))
	switch {
	case strings.HasPrefix(lowerCode, "validation."):
		return http.StatusBadRequest
	case strings.Contains(lowerCode, "not_found"):
		return http.StatusNotFound
	case strings.HasPrefix(lowerCode, "rate_limit."):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
