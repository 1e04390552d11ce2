package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/heartline/keyset/pkg/observability/logger"
)

const (
	defaultConnectTimeout   = 5 * time.Second
	defaultOperationTimeout = 5 * time.Second
	healthCheckTimeout      = 2 * time.Second
	disconnectTimeout       = 5 * time.Second
)

var errClosed = errors.New("mongodb adapter is closed")

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	// MaxPoolSize caps connections per server; zero keeps the driver default.
	MaxPoolSize int
	// ReadPreference is a driver mode name such as "secondaryPreferred".
	// Empty means primary.
	ReadPreference string
}

// Adapter owns the client and database handle shared by the collections.
// It never creates collections or indexes; keyset queries expect an index
// covering every sort field.
type Adapter struct {
	client   *mongo.Client
	db       *mongo.Database
	readPref *readpref.ReadPref
	logger   logger.Logger
	timeout  time.Duration
	closed   atomic.Bool
}

// NewAdapter connects and pings the deployment with the configured read
// preference.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongodb database is required")
	}
	rp, err := parseReadPreference(cfg.ReadPreference)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	opts := options.Client().ApplyURI(cfg.URL).SetReadPreference(rp)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, rp); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database, "read_preference", rp.Mode().String())
	return &Adapter{
		client:   client,
		db:       client.Database(cfg.Database),
		readPref: rp,
		logger:   log,
		timeout:  cfg.OperationTimeout,
	}, nil
}

func parseReadPreference(mode string) (*readpref.ReadPref, error) {
	if mode == "" {
		return readpref.Primary(), nil
	}
	m, err := readpref.ModeFromString(mode)
	if err != nil {
		return nil, fmt.Errorf("invalid mongodb read preference %q: %w", mode, err)
	}
	return readpref.New(m)
}

// Collection returns the driver collection name in the configured database.
func (a *Adapter) Collection(name string) *mongo.Collection {
	return a.db.Collection(name)
}

func (a *Adapter) ping(ctx context.Context) error {
	if a.closed.Load() {
		return errClosed
	}
	return a.client.Ping(ctx, a.readPref)
}

// HealthCheck pings the deployment within healthCheckTimeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.ping(ctx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// Close disconnects once; later calls return nil.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
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
