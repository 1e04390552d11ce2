package config

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/pflag"
)

// clearEnv unsets every KEYSET_ variable for the duration of a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, DefaultEnvPrefix+"_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.Name != "keyset" {
		t.Errorf("expected service name keyset, got %s", cfg.Service.Name)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Pagination.DefaultLimit != 20 || cfg.Pagination.MaxLimit != 100 {
		t.Errorf("expected limits 20/100, got %d/%d", cfg.Pagination.DefaultLimit, cfg.Pagination.MaxLimit)
	}
	if cfg.Pagination.CountMode != "exact" {
		t.Errorf("expected exact count mode, got %s", cfg.Pagination.CountMode)
	}
	if cfg.Database.Type != DatabaseTypeMemory {
		t.Errorf("expected memory database, got %s", cfg.Database.Type)
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.LogFormat != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Observability)
	}
}

func TestViperLoader_LoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewViperLoader("", "").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout 30s, got %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.Export.ChunkSize != 500 {
		t.Errorf("expected chunk size 500, got %d", cfg.Export.ChunkSize)
	}
}

func TestViperLoader_LoadWithEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("KEYSET_HTTP_PORT", "9000")
	t.Setenv("KEYSET_PAGINATION_MAX_LIMIT", "50")
	t.Setenv("KEYSET_PAGINATION_COUNT_CACHE_TTL", "30s")
	t.Setenv("KEYSET_DB_TYPE", "postgres")
	t.Setenv("KEYSET_DATABASE_URL", "postgres://localhost/app")
	t.Setenv("KEYSET_EVENTBUS_TYPE", "kafka")
	t.Setenv("KEYSET_EVENTBUS_BROKERS", "k1:9092,k2:9092")

	cfg, err := NewViperLoader("", "KEYSET").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Pagination.MaxLimit != 50 {
		t.Errorf("expected max limit 50, got %d", cfg.Pagination.MaxLimit)
	}
	if cfg.Pagination.CountCacheTTL != 30*time.Second {
		t.Errorf("expected count cache ttl 30s, got %v", cfg.Pagination.CountCacheTTL)
	}
	if cfg.Database.Type != DatabaseTypePostgres || cfg.Database.URL != "postgres://localhost/app" {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if !slices.Equal(cfg.EventBus.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected brokers: %v", cfg.EventBus.Brokers)
	}
}

func TestViperLoader_FilePrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "keyset.yaml")
	content := `
http:
  port: 7000
pagination:
  default_limit: 10
  prefetch_count: 2
export:
  chunk_size: 50
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEYSET_HTTP_PORT", "7100")

	cfg, err := NewViperLoader(path, "KEYSET").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 7100 {
		t.Errorf("env should override file, got port %d", cfg.HTTP.Port)
	}
	if cfg.Pagination.DefaultLimit != 10 || cfg.Pagination.PrefetchCount != 2 {
		t.Errorf("file values not applied: %+v", cfg.Pagination)
	}
	if cfg.Pagination.MaxLimit != 100 {
		t.Errorf("defaults should fill unset keys, got max limit %d", cfg.Pagination.MaxLimit)
	}
}

func TestViperLoader_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := NewViperLoader(filepath.Join(t.TempDir(), "absent.yaml"), "").Load(); err == nil {
		t.Fatal("expected error for an explicit missing file")
	}
}

func TestViperLoader_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KEYSET_HTTP_PORT", "9000")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"--port=9100"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewViperLoader("", "").WithFlags(flags).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("expected flag port 9100, got %d", cfg.HTTP.Port)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("unset flag should not change log level, got %s", cfg.Observability.LogLevel)
	}
}

func TestViperLoader_ValidationError(t *testing.T) {
	clearEnv(t)
	t.Setenv("KEYSET_PAGINATION_COUNT_MODE", "guess")

	_, err := NewViperLoader("", "").Load()
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestKeys_CoverNestedSections(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"http.port", "pagination.cursor_signing_key", "object_storage.s3.bucket", "eventbus.brokers"} {
		if !slices.Contains(keys, want) {
			t.Errorf("Keys() missing %s", want)
		}
	}
}

// Property 1: Environment overrides for limits round-trip
//
// For any valid default/max limit pair set through the environment, the
// loaded configuration carries exactly those values.
func TestProperty_EnvLimitOverrides(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("limits from env are loaded verbatim", prop.ForAll(
		func(def, extra int) bool {
			os.Setenv("KEYSET_PAGINATION_DEFAULT_LIMIT", strconv.Itoa(def))
			os.Setenv("KEYSET_PAGINATION_MAX_LIMIT", strconv.Itoa(def+extra))
			defer os.Unsetenv("KEYSET_PAGINATION_DEFAULT_LIMIT")
			defer os.Unsetenv("KEYSET_PAGINATION_MAX_LIMIT")

			cfg, err := NewViperLoader("", "").Load()
			if err != nil {
				t.Logf("Load() error = %v", err)
				return false
			}
			return cfg.Pagination.DefaultLimit == def && cfg.Pagination.MaxLimit == def+extra
		},
		gen.IntRange(1, 500),
		gen.IntRange(0, 500),
	))

	clearEnv(t)
	properties.TestingRun(t)
}
