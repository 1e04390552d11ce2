package nethttp

import (
	"reflect"
	"testing"

	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/contract"
)

func TestRouterContract(t *testing.T) {
	contract.TestRouterContract(t, func() router.Router {
		return NewRouter()
	})
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		params  map[string]string
		ok      bool
	}{
		{"/v1/:collection", "/v1/profiles", map[string]string{"collection": "profiles"}, true},
		{"/v1/:collection", "/v1/profiles/", map[string]string{"collection": "profiles"}, true},
		{"/v1/:collection", "/v1", nil, false},
		{"/v1/:collection/pages", "/v1/feed/pages", map[string]string{"collection": "feed"}, true},
		{"/v1/:collection/pages", "/v1/feed/items", nil, false},
		{"/healthz", "/healthz", nil, true},
		{"/", "/", nil, true},
	}
	for _, tt := range tests {
		params, ok := match(split(tt.pattern), split(tt.path))
		if ok != tt.ok {
			t.Errorf("match(%q, %q) ok = %v, want %v", tt.pattern, tt.path, ok, tt.ok)
			continue
		}
		if ok && !reflect.DeepEqual(params, tt.params) {
			t.Errorf("match(%q, %q) params = %v, want %v", tt.pattern, tt.path, params, tt.params)
		}
	}
}
