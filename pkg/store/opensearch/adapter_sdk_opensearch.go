//go:build opensearch_sdk

package opensearch

import (
	"fmt"
	"net/http"

	opensearchsdk "github.com/opensearch-project/opensearch-go/v4"
	awssigner "github.com/opensearch-project/opensearch-go/v4/signer/awsv2"

	"github.com/heartline/keyset/pkg/observability/logger"
)

// OpenSearchSDKAdapter sends requests through the official OpenSearch
// client, which handles node selection and AWS request signing itself.
type OpenSearchSDKAdapter struct {
	*cluster
	client *opensearchsdk.Client
}

// NewOpenSearchSDKAdapter connects with the OpenSearch client and pings the
// cluster.
func NewOpenSearchSDKAdapter(cfg Config, log logger.Logger) (*OpenSearchSDKAdapter, error) {
	addresses, err := nodeAddresses(cfg)
	if err != nil {
		return nil, err
	}
	if cfg, err = cfg.withDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	transport := newTransport(cfg.MaxConns)
	clientCfg := opensearchsdk.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	}
	if cfg.APIKey != "" {
		clientCfg.Header = http.Header{"Authorization": []string{"ApiKey " + cfg.APIKey}}
	}
	if cfg.AWSAuthEnabled {
		awsCfg, err := awsConfig(cfg)
		if err != nil {
			return nil, err
		}
		if clientCfg.Signer, err = awssigner.NewSignerWithService(awsCfg, cfg.AWSService); err != nil {
			return nil, fmt.Errorf("failed to create opensearch request signer: %w", err)
		}
	}

	client, err := opensearchsdk.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch sdk client: %w", err)
	}

	a := &OpenSearchSDKAdapter{client: client}
	a.cluster = &cluster{product: "opensearch sdk", perform: clientPerform("opensearch sdk", client.Perform), transport: transport, logger: log}
	if err := a.connect(); err != nil {
		return nil, err
	}
	log.Info("Search connection established", "driver", "opensearch-sdk", "nodes", len(addresses))
	return a, nil
}
