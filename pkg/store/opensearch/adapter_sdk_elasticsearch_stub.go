//go:build !elasticsearch_sdk

package opensearch

import (
	"errors"

	"github.com/heartline/keyset/pkg/observability/logger"
)

// ElasticsearchSDKAdapter needs the elasticsearch_sdk build tag.
type ElasticsearchSDKAdapter struct {
	*cluster
}

// NewElasticsearchSDKAdapter reports that the driver was not compiled in.
func NewElasticsearchSDKAdapter(Config, logger.Logger) (*ElasticsearchSDKAdapter, error) {
	return nil, errors.New("search.driver elasticsearch-sdk is not compiled in; rebuild with -tags elasticsearch_sdk")
}
