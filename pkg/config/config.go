// Package config loads service configuration from defaults, an optional
// file and KEYSET_ environment variables.
package config

import "time"

// Database type constants
const (
	// DatabaseTypeMemory serves the built-in demo collections from memory.
	DatabaseTypeMemory = "memory"
	// DatabaseTypePostgres represents PostgreSQL database
	DatabaseTypePostgres = "postgres"
	// DatabaseTypeMySQL represents MySQL database
	DatabaseTypeMySQL = "mysql"
	// DatabaseTypeMongoDB represents MongoDB database
	DatabaseTypeMongoDB = "mongodb"
	// DatabaseTypeDynamoDB represents AWS DynamoDB
	DatabaseTypeDynamoDB = "dynamodb"
)

// Event bus type constants
const (
	// EventBusTypeKafka represents Apache Kafka event bus
	EventBusTypeKafka = "kafka"
	// EventBusTypeRabbitMQ represents RabbitMQ event bus
	EventBusTypeRabbitMQ = "rabbitmq"
	// EventBusTypeSQS represents AWS SQS event bus
	EventBusTypeSQS = "sqs"
)

// Export sink constants
const (
	ExportSinkObject = "object"
	ExportSinkTopic  = "topic"
	ExportSinkIndex  = "index"
	ExportSinkStdout = "stdout"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "KEYSET"

// Config is the root configuration structure.
type Config struct {
	Service        ServiceConfig        `mapstructure:"service" yaml:"service"`
	HTTP           HTTPConfig           `mapstructure:"http" yaml:"http"`
	Pagination     PaginationConfig     `mapstructure:"pagination" yaml:"pagination"`
	Database       DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Cache          CacheConfig          `mapstructure:"cache" yaml:"cache"`
	Search         SearchConfig         `mapstructure:"search" yaml:"search"`
	ObjectStorage  ObjectStorageConfig  `mapstructure:"object_storage" yaml:"object_storage"`
	EventBus       EventBusConfig       `mapstructure:"eventbus" yaml:"eventbus"`
	Export         ExportConfig         `mapstructure:"export" yaml:"export"`
	Management     ManagementConfig     `mapstructure:"management" yaml:"management"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit" yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Observability  ObservabilityConfig  `mapstructure:"observability" yaml:"observability"`
	Collections    []CollectionConfig   `mapstructure:"collections" yaml:"collections"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// HTTPConfig configures the public API server
type HTTPConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// Compression enables gzip/brotli response encoding.
	Compression bool `mapstructure:"compression" yaml:"compression"`
	// Router selects the router implementation: gin, gorilla or nethttp.
	Router string `mapstructure:"router" yaml:"router"`
	// ValidateRequests checks list requests against the embedded OpenAPI document.
	ValidateRequests bool `mapstructure:"validate_requests" yaml:"validate_requests"`
	// RequestTimeout bounds each list request, store calls included. Zero disables it.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// CORSAllowedOrigins enables CORS for browser clients; "*" allows any origin.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	// SecurityHeaders sets nosniff, framing, CSP and HSTS headers.
	SecurityHeaders bool `mapstructure:"security_headers" yaml:"security_headers"`
	// AllowedHosts restricts the Host header when set.
	AllowedHosts []string      `mapstructure:"allowed_hosts" yaml:"allowed_hosts"`
	HSTSMaxAge   time.Duration `mapstructure:"hsts_max_age" yaml:"hsts_max_age"`
}

// PaginationConfig configures page sizes, prefetching, batch scans, offset
// totals and cursor signing.
type PaginationConfig struct {
	DefaultLimit  int           `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit      int           `mapstructure:"max_limit" yaml:"max_limit"`
	PrefetchCount int           `mapstructure:"prefetch_count" yaml:"prefetch_count"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	CountMode     string        `mapstructure:"count_mode" yaml:"count_mode"` // exact, cached, none
	CountCacheTTL time.Duration `mapstructure:"count_cache_ttl" yaml:"count_cache_ttl"`
	// CursorSigningKey enables HMAC signed cursors when set.
	CursorSigningKey string `mapstructure:"cursor_signing_key" yaml:"cursor_signing_key" secret:"true"`
}

// DatabaseConfig configures the backing store.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type" yaml:"type"` // memory, postgres, mysql, mongodb, dynamodb
	URL             string        `mapstructure:"url" yaml:"url" secret:"true"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	DatabaseName    string        `mapstructure:"database_name" yaml:"database_name"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadPreference  string        `mapstructure:"read_preference" yaml:"read_preference"` // mongodb only, e.g. secondaryPreferred
	Region          string        `mapstructure:"region" yaml:"region"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" yaml:"secret_access_key" secret:"true"`
	SessionToken    string        `mapstructure:"session_token" yaml:"session_token" secret:"true"`
}

// CacheConfig configures the count cache and export checkpoints.
type CacheConfig struct {
	Type             string        `mapstructure:"type" yaml:"type"` // redis, none
	URL              string        `mapstructure:"url" yaml:"url" secret:"true"`
	MaxConns         int           `mapstructure:"max_conns" yaml:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	KeyPrefix        string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// ObjectStorageConfig configures object storage backends.
type ObjectStorageConfig struct {
	Enabled bool                  `mapstructure:"enabled" yaml:"enabled"`
	Type    string                `mapstructure:"type" yaml:"type"` // s3
	S3      ObjectStorageS3Config `mapstructure:"s3" yaml:"s3"`
}

// ObjectStorageS3Config configures S3-compatible object storage.
type ObjectStorageS3Config struct {
	Bucket           string        `mapstructure:"bucket" yaml:"bucket"`
	Region           string        `mapstructure:"region" yaml:"region"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" yaml:"secret_access_key" secret:"true"`
	SessionToken     string        `mapstructure:"session_token" yaml:"session_token" secret:"true"`
	UsePathStyle     bool          `mapstructure:"use_path_style" yaml:"use_path_style"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	StorageClass     string        `mapstructure:"storage_class" yaml:"storage_class"` // e.g. STANDARD_IA for cold exports
}

// SearchConfig configures OpenSearch/Elasticsearch connections.
type SearchConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Driver           string        `mapstructure:"driver" yaml:"driver"` // http, opensearch-sdk, elasticsearch-sdk
	URL              string        `mapstructure:"url" yaml:"url"`
	URLs             []string      `mapstructure:"urls" yaml:"urls"`
	Username         string        `mapstructure:"username" yaml:"username"`
	Password         string        `mapstructure:"password" yaml:"password" secret:"true"`
	APIKey           string        `mapstructure:"api_key" yaml:"api_key" secret:"true"`
	AWSAuthEnabled   bool          `mapstructure:"aws_auth_enabled" yaml:"aws_auth_enabled"`
	AWSRegion        string        `mapstructure:"aws_region" yaml:"aws_region"`
	AWSService       string        `mapstructure:"aws_service" yaml:"aws_service"`
	AWSAccessKeyID   string        `mapstructure:"aws_access_key_id" yaml:"aws_access_key_id"`
	AWSSecretKey     string        `mapstructure:"aws_secret_access_key" yaml:"aws_secret_access_key" secret:"true"`
	AWSSessionToken  string        `mapstructure:"aws_session_token" yaml:"aws_session_token" secret:"true"`
	MaxConns         int           `mapstructure:"max_conns" yaml:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// EventBusConfig configures the broker that receives reindex exports.
type EventBusConfig struct {
	Type             string        `mapstructure:"type" yaml:"type"` // kafka, rabbitmq, sqs
	Brokers          []string      `mapstructure:"brokers" yaml:"brokers"`
	Serializer       string        `mapstructure:"serializer" yaml:"serializer"` // json, protobuf
	Compression      string        `mapstructure:"compression" yaml:"compression"` // kafka only: none, gzip, snappy, lz4, zstd
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	URL              string        `mapstructure:"url" yaml:"url" secret:"true"`
	Exchange         string        `mapstructure:"exchange" yaml:"exchange"`
	ExchangeType     string        `mapstructure:"exchange_type" yaml:"exchange_type"`
	RoutingKey       string        `mapstructure:"routing_key" yaml:"routing_key"`
	Region           string        `mapstructure:"region" yaml:"region"`
	QueueURL         string        `mapstructure:"queue_url" yaml:"queue_url"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" yaml:"secret_access_key" secret:"true"`
	SessionToken     string        `mapstructure:"session_token" yaml:"session_token" secret:"true"`
}

// ExportConfig configures export runs.
type ExportConfig struct {
	Sink             string  `mapstructure:"sink" yaml:"sink"` // object, topic, index, stdout
	ChunkSize        int     `mapstructure:"chunk_size" yaml:"chunk_size"`
	RecordsPerSecond float64 `mapstructure:"records_per_second" yaml:"records_per_second"`
	// Prefix is the object key prefix for the object sink.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// Topic is the destination for the topic sink; "{collection}" expands.
	Topic string `mapstructure:"topic" yaml:"topic"`
	// Index is the destination for the index sink; "{collection}" expands.
	Index string `mapstructure:"index" yaml:"index"`
}

// ManagementConfig configures the management server that exposes health
// and metrics on its own port.
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// CollectionConfig declares one collection served over HTTP and available
// to exports. Records are plain documents keyed by field name.
type CollectionConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Source is the table, collection or index name. Defaults to Name.
	Source string `mapstructure:"source" yaml:"source"`
	// Backend is "database" (the configured database) or "search".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// IDField names the unique field used as tiebreaker, prefetch id and
	// export key.
	IDField     string        `mapstructure:"id_field" yaml:"id_field"`
	Fields      []FieldConfig `mapstructure:"fields" yaml:"fields"`
	DefaultSort []string      `mapstructure:"default_sort" yaml:"default_sort"`
	// PartitionKey is the DynamoDB hash key; requests must filter on it.
	PartitionKey string `mapstructure:"partition_key" yaml:"partition_key"`
	// SecondaryIndex optionally names a DynamoDB index to query.
	SecondaryIndex string         `mapstructure:"secondary_index" yaml:"secondary_index"`
	Lookups        []LookupConfig `mapstructure:"lookups" yaml:"lookups"`
	// Seed is a JSON array of documents loaded into a memory collection.
	Seed string `mapstructure:"seed" yaml:"seed"`
}

// FieldConfig declares a document field.
type FieldConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Column is the physical column or attribute, for SQL and DynamoDB.
	Column string `mapstructure:"column" yaml:"column"`
	// Type is string, int, float, bool, time or objectid.
	Type string `mapstructure:"type" yaml:"type"`
	// Sort makes the field sortable with this default direction (asc, desc).
	Sort string `mapstructure:"sort" yaml:"sort"`
	// Filter allows equality filters on the field as a query parameter.
	Filter bool `mapstructure:"filter" yaml:"filter"`
}

// LookupConfig declares a MongoDB reference that populate may expand.
type LookupConfig struct {
	As           string `mapstructure:"as" yaml:"as"`
	From         string `mapstructure:"from" yaml:"from"`
	LocalField   string `mapstructure:"local_field" yaml:"local_field"`
	ForeignField string `mapstructure:"foreign_field" yaml:"foreign_field"`
}

// RateLimitConfig configures the per-client rate limit middleware.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int  `mapstructure:"burst" yaml:"burst"`
	// Store keeps limiter state in process (memory) or in the redis cache,
	// shared by every replica.
	Store string `mapstructure:"store" yaml:"store"`
}

// CircuitBreakerConfig guards each collection backend. After MaxFailures
// consecutive store errors the backend is skipped for Cooldown and requests
// fail fast with 503.
type CircuitBreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"` // json, text
	MetricsEnabled    bool    `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingInsecure   bool    `mapstructure:"tracing_insecure" yaml:"tracing_insecure"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "keyset",
			Environment: "production",
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Compression:     true,
			Router:          "gin",
			RequestTimeout:  10 * time.Second,
			SecurityHeaders: true,
			HSTSMaxAge:      365 * 24 * time.Hour,
		},
		Pagination: PaginationConfig{
			DefaultLimit:  20,
			MaxLimit:      100,
			PrefetchCount: 0,
			BatchSize:     100,
			CountMode:     "exact",
			CountCacheTTL: time.Minute,
		},
		Database: DatabaseConfig{
			Type:            DatabaseTypeMemory,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
			ConnectTimeout:  10 * time.Second,
		},
		Cache: CacheConfig{
			Type:             "none",
			MaxConns:         10,
			OperationTimeout: 5 * time.Second,
			KeyPrefix:        "keyset:",
		},
		ObjectStorage: ObjectStorageConfig{
			Type: "s3",
			S3: ObjectStorageS3Config{
				OperationTimeout: 30 * time.Second,
			},
		},
		Search: SearchConfig{
			Driver:           "http",
			MaxConns:         10,
			OperationTimeout: 10 * time.Second,
			AWSService:       "es",
		},
		EventBus: EventBusConfig{
			Serializer:       "json",
			OperationTimeout: 30 * time.Second,
			Exchange:         "keyset",
			ExchangeType:     "topic",
		},
		Export: ExportConfig{
			Sink:      ExportSinkStdout,
			ChunkSize: 500,
			Prefix:    "exports",
			Topic:     "{collection}.reindex",
			Index:     "{collection}",
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Store:             "memory",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			MetricsEnabled:    true,
			TracingSampleRate: 0.1,
			TracingEndpoint:   "localhost:4317",
			TracingInsecure:   true,
		},
	}
}
