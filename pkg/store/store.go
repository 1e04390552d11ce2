package store

import "context"

// Adapter is implemented by every backend Open connects: the database, the
// redis cache, the search cluster and object storage.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}
