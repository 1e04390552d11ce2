package mongodb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/heartline/keyset/pkg/middleware/testutil"
)

func TestNewAdapter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing url", Config{Database: "app"}, "mongodb URL is required"},
		{"missing database", Config{URL: "mongodb://localhost:27017"}, "mongodb database is required"},
		{"bad read preference", Config{URL: "mongodb://localhost:27017", Database: "app", ReadPreference: "closest"}, "invalid mongodb read preference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(tt.cfg, &testutil.MockLogger{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("NewAdapter() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseReadPreference(t *testing.T) {
	tests := map[string]string{
		"":                   "primary",
		"primary":            "primary",
		"secondaryPreferred": "secondaryPreferred",
		"nearest":            "nearest",
	}
	for in, want := range tests {
		rp, err := parseReadPreference(in)
		if err != nil {
			t.Fatalf("parseReadPreference(%q) error = %v", in, err)
		}
		if got := rp.Mode().String(); got != want {
			t.Errorf("parseReadPreference(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestAdapter_Closed(t *testing.T) {
	log := &testutil.MockLogger{}
	a := &Adapter{logger: log}
	a.closed.Store(true)

	if err := a.HealthCheck(context.Background()); !errors.Is(err, errClosed) {
		t.Fatalf("HealthCheck() error = %v, want errClosed", err)
	}
	if _, ok := log.Find("MongoDB health check failed"); !ok {
		t.Error("expected the failed health check to be logged")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() on a closed adapter = %v", err)
	}
}

func TestWithOperationTimeout(t *testing.T) {
	a := &Adapter{timeout: 2 * time.Second}

	ctx, cancel := a.withOperationTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected the operation timeout to set a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("remaining = %v", remaining)
	}

	parent, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()
	ctx, cancel = a.withOperationTimeout(parent)
	defer cancel()
	want, _ := parent.Deadline()
	if got, _ := ctx.Deadline(); !got.Equal(want) {
		t.Fatalf("deadline = %v, want the caller's %v", got, want)
	}
}
