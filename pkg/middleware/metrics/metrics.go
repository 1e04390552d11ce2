// Package metrics records Prometheus request metrics per route.
package metrics

import (
	"net/http"

	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/server/router"
)

// Metrics records request duration, request count and in-flight requests,
// labelled by method, route pattern and status. An error nobody answered is
// recorded as the 500 the router will send.
func Metrics() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			done := metrics.TrackHTTPRequest(c.Request().Method)
			err := next(c)

			route := router.Route(c)
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status()
			if err != nil && !c.Response().Written() {
				status = http.StatusInternalServerError
			}
			done(route, status)
			return err
		}
	}
}
