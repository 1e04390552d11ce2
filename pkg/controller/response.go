package controller

import (
	"net/http"

	"github.com/heartline/keyset/pkg/server/router"
)

// SuccessResponse wraps data that has no wire shape of its own.
type SuccessResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id,omitempty"`
}

// Success sends data in a SuccessResponse envelope with HTTP 200.
func Success(c router.Context, data any) error {
	return c.JSON(http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c.Request().Context()),
	})
}

// Page sends a listing page as is; pages carry their own wire shape.
func Page(c router.Context, page any) error {
	return c.JSON(http.StatusOK, page)
}

// Error sends err mapped by MapError.
func Error(c router.Context, err error) error {
	status, body := MapError(c.Request().Context(), err)
	return c.JSON(status, body)
}
