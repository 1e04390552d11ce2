package export

import (
	"github.com/heartline/keyset/pkg/store/opensearch"
	"github.com/heartline/keyset/pkg/store/redis"
	"github.com/heartline/keyset/pkg/store/s3"
)

var (
	_ Checkpointer    = (*redis.Adapter)(nil)
	_ ObjectUploader  = (*s3.Adapter)(nil)
	_ DocumentIndexer = (*opensearch.Adapter)(nil)
)
