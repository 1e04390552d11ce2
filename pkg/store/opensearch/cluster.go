package opensearch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/heartline/keyset/pkg/observability/logger"
)

const (
	defaultMaxConns         = 10
	defaultOperationTimeout = 5 * time.Second
	healthCheckTimeout      = 2 * time.Second
	connectTimeout          = 5 * time.Second
)

// Config holds OpenSearch/Elasticsearch adapter configuration.
type Config struct {
	URL              string
	URLs             []string
	Username         string
	Password         string
	APIKey           string
	AWSAuthEnabled   bool
	AWSRegion        string
	AWSService       string
	AWSAccessKeyID   string
	AWSSecretKey     string
	AWSSessionToken  string
	MaxConns         int
	OperationTimeout time.Duration
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.AWSAuthEnabled {
		if strings.TrimSpace(cfg.AWSRegion) == "" {
			return cfg, errors.New("aws region is required when AWS auth is enabled")
		}
		if strings.TrimSpace(cfg.AWSService) == "" {
			cfg.AWSService = "es"
		}
	}
	return cfg, nil
}

// performFunc sends one request to a node; path is relative to the node.
type performFunc func(ctx context.Context, method, path string, body []byte) (*http.Response, error)

// cluster implements the search operations once. The adapters differ only
// in how a request reaches a node.
type cluster struct {
	product   string
	perform   performFunc
	transport *http.Transport
	logger    logger.Logger
}

func (c *cluster) call(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	resp, err := c.perform(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s response: %w", c.product, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s failed with status %d: %s", c.product, op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// connect pings the cluster once, bounded by connectTimeout.
func (c *cluster) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := c.call(ctx, "ping", http.MethodGet, "/", nil); err != nil {
		c.Close()
		return fmt.Errorf("failed to ping %s: %w", c.product, err)
	}
	return nil
}

// HealthCheck asks the contacted node for the local cluster health.
func (c *cluster) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if _, err := c.call(ctx, "health check", http.MethodGet, "/_cluster/health?local=true", nil); err != nil {
		c.logger.Error("Search health check failed", "error", err)
		return err
	}
	return nil
}

// IndexDocument upserts a JSON document in the target index by ID.
func (c *cluster) IndexDocument(ctx context.Context, index, id string, document any) error {
	if strings.TrimSpace(index) == "" {
		return errors.New("index is required")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("document id is required")
	}
	payload, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	_, err = c.call(ctx, "index", http.MethodPut, "/"+url.PathEscape(index)+"/_doc/"+url.PathEscape(id), payload)
	return err
}

// Search executes a JSON query and returns the raw JSON response.
func (c *cluster) Search(ctx context.Context, index string, query any) (json.RawMessage, error) {
	if strings.TrimSpace(index) == "" {
		return nil, errors.New("index is required")
	}
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	data, err := c.call(ctx, "search", http.MethodPost, "/"+url.PathEscape(index)+"/_search", payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Close drops idle connections.
func (c *cluster) Close() error {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

func newTransport(maxConns int) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
	}
}

func newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// clientPerform adapts an SDK client, which picks the node itself.
func clientPerform(product string, do func(*http.Request) (*http.Response, error)) performFunc {
	return func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
		req, err := newRequest(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		resp, err := do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", product, err)
		}
		return resp, nil
	}
}

// awsConfig resolves static credentials when both keys are set, and the
// default provider chain otherwise.
func awsConfig(cfg Config) (aws.Config, error) {
	hasID := strings.TrimSpace(cfg.AWSAccessKeyID) != ""
	hasSecret := strings.TrimSpace(cfg.AWSSecretKey) != ""
	if hasID != hasSecret {
		return aws.Config{}, errors.New("both AWS access key id and secret access key are required when using static AWS credentials")
	}
	if hasID {
		return aws.Config{
			Region:      cfg.AWSRegion,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, cfg.AWSSessionToken),
		}, nil
	}
	loaded, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if loaded.Credentials == nil {
		return aws.Config{}, errors.New("failed to resolve AWS credentials provider")
	}
	return loaded, nil
}

// sigV4 signs every request for Amazon OpenSearch Service.
type sigV4 struct {
	base    http.RoundTripper
	signer  *v4.Signer
	creds   aws.CredentialsProvider
	region  string
	service string
}

func newSigV4(base http.RoundTripper, cfg Config) (*sigV4, error) {
	awsCfg, err := awsConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &sigV4{base: base, signer: v4.NewSigner(), creds: awsCfg.Credentials, region: cfg.AWSRegion, service: cfg.AWSService}, nil
}

// RoundTrip signs a clone of req.
func (rt *sigV4) RoundTrip(req *http.Request) (*http.Response, error) {
	signed := req.Clone(req.Context())
	var payload []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
		payload = data
		signed.Body = io.NopCloser(bytes.NewReader(data))
	}

	creds, err := rt.creds.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	hash := sha256.Sum256(payload)
	if err := rt.signer.SignHTTP(req.Context(), creds, signed, hex.EncodeToString(hash[:]), rt.service, rt.region, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to sign request with AWS SigV4: %w", err)
	}
	return rt.base.RoundTrip(signed)
}
