package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/store/dynamodb"
	"github.com/heartline/keyset/pkg/store/mongodb"
	"github.com/heartline/keyset/pkg/store/mysql"
	"github.com/heartline/keyset/pkg/store/opensearch"
	"github.com/heartline/keyset/pkg/store/postgres"
	"github.com/heartline/keyset/pkg/store/redis"
	"github.com/heartline/keyset/pkg/store/s3"
)

// SearchAdapter is a connected search cluster: it serves index-backed
// collections and receives index exports.
type SearchAdapter interface {
	Adapter
	opensearch.Searcher
	opensearch.Indexer
}

// connected keeps the typed nil a failed constructor returns out of the
// interface so callers can compare it against nil.
func connected[A Adapter](a A, err error) (Adapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func searchConnected[A SearchAdapter](a A, err error) (SearchAdapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewStorageAdapter opens the configured database. The memory database has
// no adapter and returns nil.
func NewStorageAdapter(cfg config.DatabaseConfig, log logger.Logger) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.DatabaseTypeMemory:
		return nil, nil
	case config.DatabaseTypePostgres:
		return connected(postgres.NewAdapter(postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnectTimeout:  cfg.ConnectTimeout,
			QueryTimeout:    cfg.QueryTimeout,
		}, log))
	case config.DatabaseTypeMySQL:
		return connected(mysql.NewAdapter(mysql.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnectTimeout:  cfg.ConnectTimeout,
			QueryTimeout:    cfg.QueryTimeout,
		}, log))
	case config.DatabaseTypeMongoDB:
		return connected(mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.QueryTimeout,
			MaxPoolSize:      cfg.MaxOpenConns,
			ReadPreference:   cfg.ReadPreference,
		}, log))
	case config.DatabaseTypeDynamoDB:
		return connected(dynamodb.NewAdapter(dynamodb.Config{
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			OperationTimeout: cfg.QueryTimeout,
		}, log))
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: memory, postgres, mysql, mongodb, dynamodb)", cfg.Type)
	}
}

// NewSearchAdapter opens the search cluster with the configured driver.
func NewSearchAdapter(cfg config.SearchConfig, log logger.Logger) (SearchAdapter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	oc := opensearch.Config{
		URL:              cfg.URL,
		URLs:             cfg.URLs,
		Username:         cfg.Username,
		Password:         cfg.Password,
		APIKey:           cfg.APIKey,
		AWSAuthEnabled:   cfg.AWSAuthEnabled,
		AWSRegion:        cfg.AWSRegion,
		AWSService:       cfg.AWSService,
		AWSAccessKeyID:   cfg.AWSAccessKeyID,
		AWSSecretKey:     cfg.AWSSecretKey,
		AWSSessionToken:  cfg.AWSSessionToken,
		MaxConns:         cfg.MaxConns,
		OperationTimeout: cfg.OperationTimeout,
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "http":
		return searchConnected(opensearch.NewAdapter(oc, log))
	case "opensearch-sdk":
		return searchConnected(opensearch.NewOpenSearchSDKAdapter(oc, log))
	case "elasticsearch-sdk":
		return searchConnected(opensearch.NewElasticsearchSDKAdapter(oc, log))
	default:
		return nil, fmt.Errorf("unsupported search.driver %q (supported: http, opensearch-sdk, elasticsearch-sdk)", cfg.Driver)
	}
}

// NewCacheAdapter opens the redis cache behind cached counts and export
// checkpoints. Type none returns nil.
func NewCacheAdapter(cfg config.CacheConfig, log logger.Logger) (*redis.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return nil, nil
	case "redis":
		return redis.NewAdapter(redis.Config{
			URL:              cfg.URL,
			MaxConns:         cfg.MaxConns,
			OperationTimeout: cfg.OperationTimeout,
			KeyPrefix:        cfg.KeyPrefix,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported cache.type %q (supported: redis, none)", cfg.Type)
	}
}

// NewObjectStorageAdapter opens the object store used by object exports.
func NewObjectStorageAdapter(cfg config.ObjectStorageConfig, log logger.Logger) (*s3.Adapter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	storageType := strings.ToLower(strings.TrimSpace(cfg.Type))
	if storageType == "" {
		storageType = "s3"
	}

	switch storageType {
	case "s3":
		return s3.NewAdapter(s3.Config{
			Bucket:           cfg.S3.Bucket,
			Region:           cfg.S3.Region,
			Endpoint:         cfg.S3.Endpoint,
			AccessKeyID:      cfg.S3.AccessKeyID,
			SecretAccessKey:  cfg.S3.SecretAccessKey,
			SessionToken:     cfg.S3.SessionToken,
			UsePathStyle:     cfg.S3.UsePathStyle,
			OperationTimeout: cfg.S3.OperationTimeout,
			StorageClass:     cfg.S3.StorageClass,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported object_storage.type %q (supported: s3)", cfg.Type)
	}
}

// Connections holds every adapter a process opened from its config. Unset
// fields were not configured.
type Connections struct {
	DatabaseType string
	Database     Adapter
	Search       SearchAdapter
	Cache        *redis.Adapter
	Objects      *s3.Adapter
}

// Open connects the database, search cluster, cache and object store named
// by cfg. Adapters opened before a failure are closed again.
func Open(cfg *config.Config, log logger.Logger) (*Connections, error) {
	c := &Connections{DatabaseType: strings.ToLower(strings.TrimSpace(cfg.Database.Type))}
	fail := func(what string, err error) (*Connections, error) {
		if cerr := c.Close(); cerr != nil {
			log.Warn("failed to close adapters after open error", "error", cerr)
		}
		return nil, fmt.Errorf("failed to open %s: %w", what, err)
	}

	db, err := NewStorageAdapter(cfg.Database, log)
	if err != nil {
		return fail("database", err)
	}
	c.Database = db

	search, err := NewSearchAdapter(cfg.Search, log)
	if err != nil {
		return fail("search", err)
	}
	c.Search = search

	cache, err := NewCacheAdapter(cfg.Cache, log)
	if err != nil {
		return fail("cache", err)
	}
	c.Cache = cache

	objects, err := NewObjectStorageAdapter(cfg.ObjectStorage, log)
	if err != nil {
		return fail("object storage", err)
	}
	c.Objects = objects
	return c, nil
}

// Checks returns the opened adapters keyed by health check name.
func (c *Connections) Checks() map[string]Adapter {
	out := map[string]Adapter{}
	if c.Database != nil {
		out["database:"+c.DatabaseType] = c.Database
	}
	if c.Search != nil {
		out["search"] = c.Search
	}
	if c.Cache != nil {
		out["cache:redis"] = c.Cache
	}
	if c.Objects != nil {
		out["object_storage:s3"] = c.Objects
	}
	return out
}

// HealthCheck checks every opened adapter.
func (c *Connections) HealthCheck(ctx context.Context) error {
	var errs []error
	for name, a := range c.Checks() {
		if err := a.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every opened adapter.
func (c *Connections) Close() error {
	var errs []error
	for name, a := range c.Checks() {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
