// Package s3 stores export output in an S3 (or S3-compatible) bucket.
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/tracing"
)

const (
	defaultOperationTimeout = 30 * time.Second
	healthCheckTimeout      = 2 * time.Second
)

var errClosed = errors.New("s3 adapter is closed")

// Config defines S3 adapter configuration. Endpoint and UsePathStyle target
// S3-compatible stores such as MinIO.
type Config struct {
	Bucket           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	UsePathStyle     bool
	OperationTimeout time.Duration
	// StorageClass applies to every uploaded object; empty keeps the
	// bucket default.
	StorageClass string
}

type objectAPI interface {
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// Adapter writes export parts and manifests to one bucket.
type Adapter struct {
	api     objectAPI
	logger  logger.Logger
	bucket  string
	class   types.StorageClass
	timeout time.Duration
	closed  atomic.Bool
}

// NewAdapter builds the client and checks the bucket with HeadBucket.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	a := newAdapter(client, cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.ping(ctx); err != nil {
		return nil, err
	}

	a.logger.Info("S3 bucket reachable", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return a, nil
}

func newClient(cfg Config) (*awss3.Client, error) {
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
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func newAdapter(api objectAPI, cfg Config, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return &Adapter{
		api:     api,
		logger:  log,
		bucket:  cfg.Bucket,
		class:   types.StorageClass(strings.ToUpper(strings.TrimSpace(cfg.StorageClass))),
		timeout: timeout,
	}
}

// Bucket returns the configured bucket name.
func (a *Adapter) Bucket() string {
	return a.bucket
}

func (a *Adapter) ping(ctx context.Context) error {
	if a.closed.Load() {
		return errClosed
	}
	if _, err := a.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s unreachable: %w", a.bucket, err)
	}
	return nil
}

// UploadBytes stores payload under key with a Content-MD5 so a truncated
// upload is rejected by the server. It returns the ETag without quotes.
func (a *Adapter) UploadBytes(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]string) (string, error) {
	if a.closed.Load() {
		return "", errClosed
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("object key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationObjectPut,
		tracing.WithSystem("s3"), tracing.WithDestination(a.bucket+"/"+key))
	defer span.End()

	sum := md5.Sum(payload)
	input := &awss3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		Metadata:      metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if a.class != "" {
		input.StorageClass = a.class
	}

	out, err := a.api.PutObject(ctx, input)
	if err != nil {
		tracing.RecordError(span, err)
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", a.bucket, key, err)
	}
	tracing.RecordSuccess(span)
	a.logger.Debug("object uploaded", "key", key, "bytes", len(payload))
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

// HealthCheck checks the bucket within healthCheckTimeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.ping(ctx); err != nil {
		a.logger.Error("S3 health check failed", "error", err)
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter closed; later uploads fail.
func (a *Adapter) Close() error {
	a.closed.Store(true)
	return nil
}
