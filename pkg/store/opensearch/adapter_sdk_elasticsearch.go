//go:build elasticsearch_sdk

package opensearch

import (
	"fmt"
	"net/http"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"

	"github.com/heartline/keyset/pkg/observability/logger"
)

// ElasticsearchSDKAdapter sends requests through the official Elasticsearch
// client. AWS signing wraps its transport.
type ElasticsearchSDKAdapter struct {
	*cluster
	client *elasticsearch.Client
}

// NewElasticsearchSDKAdapter connects with the Elasticsearch client and
// pings the cluster.
func NewElasticsearchSDKAdapter(cfg Config, log logger.Logger) (*ElasticsearchSDKAdapter, error) {
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
	var rt http.RoundTripper = transport
	if cfg.AWSAuthEnabled {
		if rt, err = newSigV4(transport, cfg); err != nil {
			return nil, err
		}
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch sdk client: %w", err)
	}

	a := &ElasticsearchSDKAdapter{client: client}
	a.cluster = &cluster{product: "elasticsearch sdk", perform: clientPerform("elasticsearch sdk", client.Perform), transport: transport, logger: log}
	if err := a.connect(); err != nil {
		return nil, err
	}
	log.Info("Search connection established", "driver", "elasticsearch-sdk", "nodes", len(addresses))
	return a, nil
}
