package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
)

const redactedValue = "******"

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

var (
	validDatabaseTypes     = []string{DatabaseTypeMemory, DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeMongoDB, DatabaseTypeDynamoDB}
	validCountModes        = []string{"exact", "cached", "none"}
	validExportSinks       = []string{ExportSinkObject, ExportSinkTopic, ExportSinkIndex, ExportSinkStdout}
	validEventBusTypes     = []string{EventBusTypeKafka, EventBusTypeRabbitMQ, EventBusTypeSQS}
	validKafkaCompressions = []string{"", "none", "gzip", "snappy", "lz4", "zstd"}
	validSearchDrivers     = []string{"http", "opensearch-sdk", "elasticsearch-sdk"}
	validRouters           = []string{"gin", "gorilla", "nethttp"}
	validFieldTypes        = []string{"string", "int", "float", "bool", "time", "objectid"}
	validLogLevels         = []string{"debug", "info", "warn", "error"}
	validLogFormats        = []string{"json", "text"}
)

// AllowedValues lists the accepted values of enumerated keys, in dotted
// form. Collection keys are relative to one collection or field. An empty
// string is listed where the key may be left unset.
func AllowedValues() map[string][]string {
	optional := func(values []string) []string {
		return append([]string{""}, values...)
	}
	return map[string][]string{
		"database.type":            validDatabaseTypes,
		"cache.type":               optional([]string{"none", "redis"}),
		"pagination.count_mode":    validCountModes,
		"export.sink":              validExportSinks,
		"eventbus.type":            optional(validEventBusTypes),
		"eventbus.serializer":      optional([]string{"json", "protobuf"}),
		"eventbus.compression":     validKafkaCompressions,
		"search.driver":            validSearchDrivers,
		"http.router":              validRouters,
		"rate_limit.store":         optional([]string{"memory", "redis"}),
		"observability.log_level":  validLogLevels,
		"observability.log_format": validLogFormats,
		"collections.backend":      optional([]string{"database", "search"}),
		"collections.fields.type":  optional(validFieldTypes),
		"collections.fields.sort":  optional([]string{"asc", "desc"}),
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		fail("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	p := c.Pagination
	if p.DefaultLimit < 1 {
		fail("pagination.default_limit must be at least 1")
	}
	if p.MaxLimit < p.DefaultLimit {
		fail("pagination.max_limit (%d) must be >= pagination.default_limit (%d)", p.MaxLimit, p.DefaultLimit)
	}
	if p.PrefetchCount < 0 {
		fail("pagination.prefetch_count cannot be negative")
	}
	if p.BatchSize < 1 {
		fail("pagination.batch_size must be at least 1")
	}
	if !slices.Contains(validCountModes, strings.ToLower(p.CountMode)) {
		fail("pagination.count_mode must be one of %v", validCountModes)
	}
	if strings.EqualFold(p.CountMode, "cached") && c.Cache.Type != "redis" {
		fail("pagination.count_mode=cached requires cache.type=redis")
	}

	switch db := c.Database; {
	case !slices.Contains(validDatabaseTypes, db.Type):
		fail("database.type must be one of %v", validDatabaseTypes)
	case db.Type == DatabaseTypeDynamoDB:
		if db.Region == "" {
			fail("database.region is required for DynamoDB")
		}
	case db.Type != DatabaseTypeMemory:
		if db.URL == "" {
			fail("database.url is required for %s", db.Type)
		}
		if db.Type == DatabaseTypeMongoDB && db.DatabaseName == "" {
			fail("database.database_name is required for MongoDB")
		}
	}

	if c.Cache.Type == "redis" && c.Cache.URL == "" {
		fail("cache.url is required when cache.type is redis")
	}

	if c.Search.Enabled {
		if !slices.Contains(validSearchDrivers, c.Search.Driver) {
			fail("search.driver must be one of %v", validSearchDrivers)
		}
		if c.Search.URL == "" && len(c.Search.URLs) == 0 {
			fail("search.url or search.urls is required when search is enabled")
		}
	}

	if c.ObjectStorage.Enabled && c.ObjectStorage.S3.Bucket == "" {
		fail("object_storage.s3.bucket is required when object storage is enabled")
	}

	if eb := c.EventBus; eb.Type != "" {
		switch eb.Type {
		case EventBusTypeKafka:
			if len(eb.Brokers) == 0 {
				fail("eventbus.brokers is required for Kafka")
			}
			if !slices.Contains(validKafkaCompressions, strings.ToLower(eb.Compression)) {
				fail("eventbus.compression must be one of %v", validKafkaCompressions)
			}
		case EventBusTypeRabbitMQ:
			if eb.URL == "" {
				fail("eventbus.url is required for RabbitMQ")
			}
		case EventBusTypeSQS:
			if eb.Region == "" {
				fail("eventbus.region is required for SQS")
			}
			if eb.QueueURL == "" {
				fail("eventbus.queue_url is required for SQS")
			}
		default:
			fail("eventbus.type must be one of %v", validEventBusTypes)
		}
	}

	switch c.Export.Sink {
	case ExportSinkObject:
		if !c.ObjectStorage.Enabled {
			fail("export.sink=object requires object_storage.enabled")
		}
	case ExportSinkTopic:
		if c.EventBus.Type == "" {
			fail("export.sink=topic requires eventbus.type")
		}
	case ExportSinkIndex:
		if !c.Search.Enabled {
			fail("export.sink=index requires search.enabled")
		}
	case ExportSinkStdout:
	default:
		fail("export.sink must be one of %v", validExportSinks)
	}
	if c.Export.ChunkSize < 1 {
		fail("export.chunk_size must be at least 1")
	}
	if c.Export.RecordsPerSecond < 0 {
		fail("export.records_per_second cannot be negative")
	}

	if !slices.Contains(validRouters, c.HTTP.Router) {
		fail("http.router must be one of %v", validRouters)
	}
	if m := c.Management; m.Enabled {
		if m.Port <= 0 || m.Port > 65535 {
			fail("management.port must be between 1 and 65535, got %d", m.Port)
		}
		if m.Port == c.HTTP.Port {
			fail("management.port must differ from http.port")
		}
	}

	seen := make(map[string]bool, len(c.Collections))
	for i, coll := range c.Collections {
		if seen[coll.Name] {
			fail("collections[%d]: duplicate name %q", i, coll.Name)
		}
		seen[coll.Name] = true
		for _, err := range coll.validate(c) {
			fail("collections[%d] (%s): %w", i, coll.Name, err)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		fail("rate_limit.requests_per_second and rate_limit.burst must be positive when rate limiting is enabled")
	}
	switch strings.ToLower(c.RateLimit.Store) {
	case "", "memory":
	case "redis":
		if c.RateLimit.Enabled && !strings.EqualFold(c.Cache.Type, "redis") {
			fail("rate_limit.store redis requires cache.type redis")
		}
	default:
		fail("rate_limit.store must be memory or redis")
	}
	if cb := c.CircuitBreaker; cb.Enabled && (cb.MaxFailures < 1 || cb.Cooldown <= 0) {
		fail("circuit_breaker.max_failures and circuit_breaker.cooldown must be positive when the breaker is enabled")
	}
	if c.HTTP.HSTSMaxAge < 0 {
		fail("http.hsts_max_age cannot be negative")
	}
	if c.HTTP.RequestTimeout < 0 {
		fail("http.request_timeout cannot be negative")
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Observability.LogLevel)) {
		fail("observability.log_level must be one of %v", validLogLevels)
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Observability.LogFormat)) {
		fail("observability.log_format must be one of %v", validLogFormats)
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		fail("observability.tracing_sample_rate must be between 0 and 1")
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with every non-empty secret field masked.
func (c *Config) Redacted() *Config {
	out := *c
	walk(reflect.ValueOf(&out).Elem(), "", func(_ string, value reflect.Value, field reflect.StructField) {
		if field.Tag.Get("secret") == "true" && value.Kind() == reflect.String && value.String() != "" {
			value.SetString(redactedValue)
		}
	})
	return &out
}

// validate checks one collection against the backend it will be served from.
func (cc CollectionConfig) validate(c *Config) []error {
	var errs []error
	if !collectionNamePattern.MatchString(cc.Name) {
		errs = append(errs, fmt.Errorf("name must match %s", collectionNamePattern))
	}
	backend := cc.Backend
	if backend == "" {
		backend = "database"
	}
	switch backend {
	case "database":
	case "search":
		if !c.Search.Enabled {
			errs = append(errs, errors.New("backend search requires search.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend must be database or search, got %q", cc.Backend))
	}

	renames := backend == "database" && (c.Database.Type == DatabaseTypePostgres ||
		c.Database.Type == DatabaseTypeMySQL || c.Database.Type == DatabaseTypeDynamoDB)
	names := make(map[string]bool, len(cc.Fields))
	for _, f := range cc.Fields {
		if f.Name == "" {
			errs = append(errs, errors.New("every field needs a name"))
			continue
		}
		names[f.Name] = true
		if f.Type != "" && !slices.Contains(validFieldTypes, f.Type) {
			errs = append(errs, fmt.Errorf("field %q: type must be one of %v", f.Name, validFieldTypes))
		}
		if f.Sort != "" && f.Sort != "asc" && f.Sort != "desc" {
			errs = append(errs, fmt.Errorf("field %q: sort must be asc or desc", f.Name))
		}
		if f.Column != "" && f.Column != f.Name && !renames {
			errs = append(errs, fmt.Errorf("field %q: column mapping is only supported for SQL and DynamoDB", f.Name))
		}
	}
	id := cc.IDField
	if id == "" {
		id = "id"
	}
	if !names[id] {
		errs = append(errs, fmt.Errorf("id field %q must be declared in fields", id))
	}
	for _, s := range cc.DefaultSort {
		if !names[s] {
			errs = append(errs, fmt.Errorf("default sort field %q is not declared", s))
		}
	}
	if backend == "database" && c.Database.Type == DatabaseTypeDynamoDB {
		if cc.PartitionKey == "" {
			errs = append(errs, errors.New("partition_key is required for DynamoDB"))
		}
		for _, f := range cc.Fields {
			if f.Sort != "" && f.Name != id {
				errs = append(errs, fmt.Errorf("field %q: DynamoDB collections sort only on the id field", f.Name))
			}
		}
	}
	if len(cc.Lookups) > 0 && (backend != "database" || c.Database.Type != DatabaseTypeMongoDB) {
		errs = append(errs, errors.New("lookups are only supported for MongoDB"))
	}
	if cc.Seed != "" && (backend != "database" || c.Database.Type != DatabaseTypeMemory) {
		errs = append(errs, errors.New("seed is only supported for the memory database"))
	}
	return errs
}
