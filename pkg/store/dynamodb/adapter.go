package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/heartline/keyset/pkg/observability/logger"
)

const (
	defaultOperationTimeout = 5 * time.Second
	healthCheckTimeout      = 2 * time.Second
)

var errClosed = errors.New("dynamodb adapter is closed")

// API is the part of the DynamoDB client used by the adapter and its
// collections.
type API interface {
	QueryAPI
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

// Config holds DynamoDB adapter configuration. Endpoint points the client
// at a local emulator.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
}

// Adapter owns the DynamoDB client shared by every table collection. It
// never creates tables or indexes.
type Adapter struct {
	api     API
	logger  logger.Logger
	timeout time.Duration
	closed  atomic.Bool
}

// NewAdapter builds the client and proves the endpoint and credentials with
// a one-table ListTables.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	a := newAdapter(client, cfg.OperationTimeout, log)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.ping(ctx); err != nil {
		return nil, err
	}

	a.logger.Info("DynamoDB connection established", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return a, nil
}

func newClient(cfg Config) (*dynamodb.Client, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	case cfg.AccessKeyID != "" || cfg.SecretAccessKey != "":
		return nil, errors.New("both access key id and secret access key are required for static credentials")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func newAdapter(api API, timeout time.Duration, log logger.Logger) *Adapter {
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{api: api, logger: log, timeout: timeout}
}

// Client returns the client collections query through.
func (a *Adapter) Client() API {
	return a.api
}

func (a *Adapter) ping(ctx context.Context) error {
	if a.closed.Load() {
		return errClosed
	}
	ctx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	if _, err := a.api.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)}); err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

// CheckKeys verifies that table, or its secondary index when index is set,
// is active and keyed by exactly (partitionKey, sortKey). Keyset queries
// depend on that key pair, so a mismatch is a configuration error.
func (a *Adapter) CheckKeys(ctx context.Context, table, index, partitionKey, sortKey string) error {
	if a.closed.Load() {
		return errClosed
	}
	ctx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	out, err := a.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	desc := out.Table
	if desc == nil {
		return fmt.Errorf("table %s returned no description", table)
	}
	if desc.TableStatus != types.TableStatusActive && desc.TableStatus != types.TableStatusUpdating {
		return fmt.Errorf("table %s is %s", table, desc.TableStatus)
	}

	name, schema := table, desc.KeySchema
	if index != "" {
		name = table + "/" + index
		schema = indexKeySchema(desc, index)
		if schema == nil {
			return fmt.Errorf("table %s has no index %s", table, index)
		}
	}
	hash, rng := keyNames(schema)
	if hash != partitionKey || rng != sortKey {
		return fmt.Errorf("%s is keyed by (%s, %s), collection expects (%s, %s)", name, hash, rng, partitionKey, sortKey)
	}
	return nil
}

func indexKeySchema(desc *types.TableDescription, index string) []types.KeySchemaElement {
	for _, gsi := range desc.GlobalSecondaryIndexes {
		if aws.ToString(gsi.IndexName) == index {
			return gsi.KeySchema
		}
	}
	for _, lsi := range desc.LocalSecondaryIndexes {
		if aws.ToString(lsi.IndexName) == index {
			return lsi.KeySchema
		}
	}
	return nil
}

func keyNames(schema []types.KeySchemaElement) (hash, rng string) {
	for _, k := range schema {
		switch k.KeyType {
		case types.KeyTypeHash:
			hash = aws.ToString(k.AttributeName)
		case types.KeyTypeRange:
			rng = aws.ToString(k.AttributeName)
		}
	}
	return hash, rng
}

// HealthCheck pings the endpoint within healthCheckTimeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.ping(ctx); err != nil {
		a.logger.Error("DynamoDB health check failed", "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter closed. The SDK client holds no connections that
// need releasing.
func (a *Adapter) Close() error {
	a.closed.Store(true)
	return nil
}

// withOperationTimeout bounds ctx by the operation timeout unless the caller
// already set a deadline.
func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// IsThrottlingError reports whether DynamoDB rejected a request for
// exceeding provisioned or account-level throughput.
func IsThrottlingError(err error) bool {
	var pte *types.ProvisionedThroughputExceededException
	var rle *types.RequestLimitExceeded
	return errors.As(err, &pte) || errors.As(err, &rle)
}
