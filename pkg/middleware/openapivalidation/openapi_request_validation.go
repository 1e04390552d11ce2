package openapivalidation

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"

	"github.com/heartline/keyset/pkg/controller"
	logpkg "github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/server/router"
)

// Document is the OpenAPI description of the listing API.
//
//go:embed keyset.openapi.yaml
var Document []byte

const (
	ValidationModeStrict   = "strict"
	ValidationModeWarnOnly = "warn-only"
)

// Config configures OpenAPI request validation.
type Config struct {
	// Document overrides the embedded OpenAPI document.
	Document []byte
	Mode     string // strict, warn-only
}

// NewRequestValidationMiddleware validates listing requests against the
// OpenAPI document. Paths the document does not describe pass through.
func NewRequestValidationMiddleware(cfg Config, log logpkg.Logger) (router.MiddlewareFunc, error) {
	data := cfg.Document
	if len(data) == 0 {
		data = Document
	}

	doc, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	specRouter, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ValidationModeStrict
	}
	if mode != ValidationModeStrict && mode != ValidationModeWarnOnly {
		return nil, fmt.Errorf("unsupported openapi validation mode %q", cfg.Mode)
	}
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if req.Method == http.MethodOptions {
				return next(c)
			}
			err := validate(req, specRouter, options)
			switch {
			case err == nil, isRouteError(err, routers.ErrPathNotFound):
				return next(c)
			case mode == ValidationModeWarnOnly:
				if log != nil {
					log.Warn("openapi request validation failed (warn-only)",
						"method", req.Method,
						"path", req.URL.Path,
						"error", err.Error(),
					)
				}
				return next(c)
			default:
				return controller.Error(c, toAppError(err))
			}
		}
	}, nil
}

func validate(req *http.Request, specRouter routers.Router, opts *openapi3filter.Options) error {
	route, pathParams, err := specRouter.FindRoute(req)
	if err != nil {
		return err
	}
	return openapi3filter.ValidateRequest(req.Context(), &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    opts,
	})
}

// isRouteError matches router errors by reason; the router returns fresh
// values rather than the package sentinels.
func isRouteError(err, target error) bool {
	var routeErr *routers.RouteError
	return errors.As(err, &routeErr) && routeErr.Reason == target.Error()
}

func toAppError(err error) *controller.AppError {
	if isRouteError(err, routers.ErrMethodNotAllowed) {
		return &controller.AppError{
			Code:       "request.method_not_allowed",
			Message:    "method not allowed",
			HTTPStatus: http.StatusMethodNotAllowed,
			Cause:      err,
		}
	}

	details := map[string]any{}
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			details["parameter"] = reqErr.Parameter.Name
			details["in"] = reqErr.Parameter.In
		}
		if reqErr.Reason != "" {
			details["reason"] = reqErr.Reason
		}
	}
	appErr := controller.NewValidationError("request validation failed", details)
	appErr.Cause = err
	return appErr
}
