package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/heartline/keyset/pkg/collection"
	"github.com/heartline/keyset/pkg/middleware"
	"github.com/heartline/keyset/pkg/pagination"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without cause",
			appError: NewValidationError("validation failed", nil),
			want:     "validation failed",
		},
		{
			name:     "error with cause",
			appError: NewInternalError("database error", errors.New("connection timeout")),
			want:     "database error: connection timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	appErr := NewInternalError("boom", cause)
	if !errors.Is(appErr, cause) {
		t.Errorf("errors.Is(appErr, cause) = false")
	}
}

func TestMapError(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")

	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCategory  string
		wantCode      string
		wantMessage   string
		wantDetails   bool
		wantNoMessage string
	}{
		{
			name:         "validation app error",
			err:          NewValidationError("invalid input", map[string]any{"field": "limit"}),
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation_error",
			wantCode:     "validation.failed",
			wantMessage:  "invalid input",
			wantDetails:  true,
		},
		{
			name:         "not found",
			err:          NewNotFoundError(`collection "orders" is not served`),
			wantStatus:   http.StatusNotFound,
			wantCategory: "not_found",
			wantCode:     "resource.not_found",
			wantMessage:  `collection "orders" is not served`,
		},
		{
			name:         "rate limited",
			err:          NewRateLimitError("rate limit exceeded"),
			wantStatus:   http.StatusTooManyRequests,
			wantCategory: "rate_limited",
			wantCode:     "rate_limit.exceeded",
		},
		{
			name:         "app error without status infers it from the code",
			err:          &AppError{Code: "validation.limit", Message: "bad limit"},
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation_error",
			wantCode:     "validation.limit",
		},
		{
			name:         "invalid filter",
			err:          fmt.Errorf("%w: score: not an int", collection.ErrInvalidFilter),
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation_error",
			wantCode:     "validation.invalid_filter",
			wantMessage:  "invalid filter: score: not an int",
		},
		{
			name:         "unknown sort field",
			err:          fmt.Errorf("%w: %q", pagination.ErrUnknownSortField, "email"),
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation_error",
			wantCode:     "validation.unknown_sort_field",
		},
		{
			name:         "invalid sort",
			err:          fmt.Errorf("resolve: %w", pagination.ErrInvalidSortSpec),
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation_error",
			wantCode:     "validation.invalid_sort",
		},
		{
			name:         "cursor minted for another sort",
			err:          pagination.ErrCursorMismatch,
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation_error",
			wantCode:     "validation.cursor_mismatch",
		},
		{
			name:         "query the store cannot express",
			err:          fmt.Errorf("%w: cannot order %q against NULL", pagination.ErrUntranslatable, "age"),
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation_error",
			wantCode:     "validation.unsupported_query",
		},
		{
			name:          "store failure hides the backend message",
			err:           &pagination.StoreError{Op: "find", Err: errors.New("dial tcp 10.0.0.7:5432: refused")},
			wantStatus:    http.StatusServiceUnavailable,
			wantCategory:  "service_unavailable",
			wantCode:      "store.unavailable",
			wantNoMessage: "10.0.0.7",
		},
		{
			name:         "deadline",
			err:          fmt.Errorf("fetch page: %w", context.DeadlineExceeded),
			wantStatus:   http.StatusGatewayTimeout,
			wantCategory: "timeout",
			wantCode:     "request.timeout",
		},
		{
			name:         "store call cut by the deadline",
			err:          &pagination.StoreError{Op: "count", Err: context.DeadlineExceeded},
			wantStatus:   http.StatusGatewayTimeout,
			wantCategory: "timeout",
			wantCode:     "request.timeout",
		},
		{
			name:          "unknown error",
			err:           errors.New("nil map write in handler"),
			wantStatus:    http.StatusInternalServerError,
			wantCategory:  "internal_server_error",
			wantMessage:   "an unexpected error occurred",
			wantNoMessage: "nil map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := MapError(ctx, tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if resp.Error != tt.wantCategory {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantCategory)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && resp.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMessage)
			}
			if tt.wantNoMessage != "" && strings.Contains(resp.Message, tt.wantNoMessage) {
				t.Errorf("message %q leaks %q", resp.Message, tt.wantNoMessage)
			}
			if (resp.Details != nil) != tt.wantDetails {
				t.Errorf("details = %v, want present=%v", resp.Details, tt.wantDetails)
			}
			if resp.RequestID != "req-123" {
				t.Errorf("request id = %q, want req-123", resp.RequestID)
			}
		})
	}
}

func TestMapError_WithoutRequestID(t *testing.T) {
	if _, resp := MapError(context.Background(), errors.New("x")); resp.RequestID != "" {
		t.Errorf("request id = %q, want empty", resp.RequestID)
	}
	if _, resp := MapError(context.WithValue(context.Background(), middleware.RequestIDKey, 42), errors.New("x")); resp.RequestID != "" {
		t.Errorf("non-string request id should be ignored, got %q", resp.RequestID)
	}
}
