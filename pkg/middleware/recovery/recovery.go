// Package recovery turns handler panics into 500 responses.
package recovery

import (
	"runtime/debug"

	"github.com/heartline/keyset/pkg/controller"
	"github.com/heartline/keyset/pkg/middleware/requestid"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/server/router"
)

// Recovery recovers panics, logs them with the stack and answers 500 in the
// standard error format unless a response was already written.
func Recovery(log logger.Logger) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestID := requestid.GetRequestID(c.Request().Context())
				log.Error("panic recovered",
					"request_id", requestID,
					"path", c.Request().URL.Path,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				if c.Response().Written() {
					return
				}
				if werr := controller.Error(c, controller.NewInternalError("an unexpected error occurred", nil)); werr != nil {
					log.Error("failed to send error response", "request_id", requestID, "error", werr)
				}
				err = nil
			}()

			return next(c)
		}
	}
}
