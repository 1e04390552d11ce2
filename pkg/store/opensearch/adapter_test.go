package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heartline/keyset/pkg/observability/logger"
)

type mockLogger struct{}

func (m *mockLogger) Debug(string, ...any)                      {}
func (m *mockLogger) Info(string, ...any)                       {}
func (m *mockLogger) Warn(string, ...any)                       {}
func (m *mockLogger) Error(string, ...any)                      {}
func (m *mockLogger) With(...any) logger.Logger                 { return m }
func (m *mockLogger) WithContext(context.Context) logger.Logger { return m }

func TestNewAdapter_EmptyURL(t *testing.T) {
	_, err := NewAdapter(Config{}, &mockLogger{})
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
	if !strings.Contains(err.Error(), "opensearch URL is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewAdapter_PingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewAdapter(Config{
		URL:              srv.URL,
		MaxConns:         2,
		OperationTimeout: time.Second,
	}, &mockLogger{})
	if err == nil {
		t.Fatal("expected error when ping fails")
	}
}

func TestIndexDocument_UsesAPIKeyAuth(t *testing.T) {
	var gotAuth string
	var gotPath string
	var gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method

		if gotPath == "/" && gotMethod == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}

		if gotPath == "/products/_doc/42" && gotMethod == http.MethodPut {
			w.WriteHeader(http.StatusCreated)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{
		URL:              srv.URL,
		APIKey:           "api-key",
		MaxConns:         2,
		OperationTimeout: time.Second,
	}, &mockLogger{})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	defer adapter.Close()

	if err := adapter.IndexDocument(context.Background(), "products", "42", map[string]any{"name": "book"}); err != nil {
		t.Fatalf("IndexDocument failed: %v", err)
	}
	if gotAuth != "ApiKey api-key" {
		t.Fatalf("expected ApiKey auth header, got %q", gotAuth)
	}
}

func TestSearch_ReturnsRawJSON(t *testing.T) {
	const body = `{"hits":{"total":{"value":1}}}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path == "/products/_search" && r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{
		URL:              srv.URL,
		MaxConns:         2,
		OperationTimeout: time.Second,
	}, &mockLogger{})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	defer adapter.Close()

	out, err := adapter.Search(context.Background(), "products", map[string]any{
		"query": map[string]any{
			"match_all": map[string]any{},
		},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("Search output is not valid JSON: %v", err)
	}
}

func TestAdapter_FailsOverUnavailableNodes(t *testing.T) {
	var downHits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
	}))
	defer up.Close()

	adapter, err := NewAdapter(Config{URLs: []string{down.URL, up.URL}, OperationTimeout: time.Second}, &mockLogger{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	defer adapter.Close()

	for i := 0; i < 4; i++ {
		if _, err := adapter.Search(context.Background(), "profiles", map[string]any{}); err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
	}
	if downHits.Load() == 0 {
		t.Error("expected the rotation to reach the unavailable node")
	}
}

func TestAdapter_ErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			return
		}
		http.Error(w, `{"error":"index_not_found_exception"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{URL: srv.URL}, &mockLogger{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = adapter.Search(context.Background(), "missing", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "opensearch search failed with status 404") || !strings.Contains(err.Error(), "index_not_found_exception") {
		t.Fatalf("error = %v", err)
	}
	if err := adapter.IndexDocument(context.Background(), "profiles", " ", nil); err == nil {
		t.Error("expected an error for an empty document id")
	}
}

func TestAdapter_SignsWithSigV4(t *testing.T) {
	var auth, date, basic string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		date = r.Header.Get("X-Amz-Date")
		_, _, ok := r.BasicAuth()
		if ok {
			basic = "set"
		}
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{
		URL:            srv.URL,
		Username:       "ignored",
		Password:       "ignored",
		AWSAuthEnabled: true,
		AWSRegion:      "eu-west-1",
		AWSAccessKeyID: "AKIDEXAMPLE",
		AWSSecretKey:   "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
	}, &mockLogger{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	defer adapter.Close()

	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/") || !strings.Contains(auth, "/eu-west-1/es/aws4_request") {
		t.Errorf("Authorization = %q", auth)
	}
	if date == "" {
		t.Error("expected X-Amz-Date on signed requests")
	}
	if basic != "" {
		t.Error("basic auth must not be sent with SigV4")
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg, err := Config{AWSAuthEnabled: true, AWSRegion: "eu-west-1"}.withDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConns != defaultMaxConns || cfg.OperationTimeout != defaultOperationTimeout || cfg.AWSService != "es" {
		t.Errorf("defaults = %+v", cfg)
	}
	if _, err := (Config{AWSAuthEnabled: true}).withDefaults(); err == nil {
		t.Error("expected an error without an AWS region")
	}
	if _, err := awsConfig(Config{AWSAccessKeyID: "only-the-id"}); err == nil {
		t.Error("expected an error for half of a static key pair")
	}
}

func TestNodeAddresses(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		wantErr string
	}{
		{
			name: "url and urls deduplicated",
			cfg:  Config{URL: "http://node-1:9200", URLs: []string{"http://node-2:9200", " http://node-1:9200 ", ""}},
			want: []string{"http://node-1:9200", "http://node-2:9200"},
		},
		{name: "empty", cfg: Config{}, wantErr: "opensearch URL is required"},
		{name: "missing scheme", cfg: Config{URL: "node-1:9200"}, wantErr: "invalid search URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nodeAddresses(tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("addresses = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNodePool_SkipsDeadNodes(t *testing.T) {
	bases, err := parseBaseURLs(Config{URLs: []string{"http://a:9200", "http://b:9200", "http://c:9200"}})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)
	p := newNodePool(bases, time.Minute)
	p.now = func() time.Time { return now }

	p.fail(p.nodes[0])
	for i := 0; i < 3; i++ {
		order := p.order()
		if len(order) != 3 {
			t.Fatalf("order has %d nodes", len(order))
		}
		if order[2].base.Host != "a:9200" {
			t.Errorf("round %d: dead node at %s, want last", i, order[2].base.Host)
		}
	}

	now = now.Add(2 * time.Minute)
	seenFirst := map[string]bool{}
	for i := 0; i < 3; i++ {
		seenFirst[p.order()[0].base.Host] = true
	}
	if !seenFirst["a:9200"] {
		t.Errorf("revived node never led the rotation: %v", seenFirst)
	}
}
