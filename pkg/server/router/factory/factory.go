// Package factory creates the router named by http.router.
package factory

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/heartline/keyset/pkg/server/router"
	ginadapter "github.com/heartline/keyset/pkg/server/router/gin"
	gorillaadapter "github.com/heartline/keyset/pkg/server/router/gorilla"
	nethttpadapter "github.com/heartline/keyset/pkg/server/router/nethttp"
)

// DefaultType is used when http.router is empty.
const DefaultType = "gin"

// constructors maps http.router values to the adapter they build. Every
// adapter serves the same ":name" route syntax, so routes registered by the
// servers work on any of them.
var constructors = map[string]func() router.Router{
	"gin":     func() router.Router { return ginadapter.NewRouter() },
	"gorilla": func() router.Router { return gorillaadapter.NewRouter() },
	"nethttp": func() router.Router { return nethttpadapter.NewRouter() },
}

// NewRouter builds the router named kind, case-insensitively.
func NewRouter(kind string) (router.Router, error) {
	name := strings.ToLower(strings.TrimSpace(kind))
	if name == "" {
		name = DefaultType
	}
	build, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported router type %q (supported: %s)", kind, strings.Join(SupportedTypes(), ", "))
	}
	return build(), nil
}

func SupportedTypes() []string {
	return slices.Sorted(maps.Keys(constructors))
}
