//go:build !opensearch_sdk

package opensearch

import (
	"errors"

	"github.com/heartline/keyset/pkg/observability/logger"
)

// OpenSearchSDKAdapter needs the opensearch_sdk build tag.
type OpenSearchSDKAdapter struct {
	*cluster
}

// NewOpenSearchSDKAdapter reports that the driver was not compiled in.
func NewOpenSearchSDKAdapter(Config, logger.Logger) (*OpenSearchSDKAdapter, error) {
	return nil, errors.New("search.driver opensearch-sdk is not compiled in; rebuild with -tags opensearch_sdk")
}
