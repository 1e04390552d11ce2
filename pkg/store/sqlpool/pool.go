// Package sqlpool holds the database/sql plumbing shared by the PostgreSQL
// and MySQL adapters: pool sizing, the startup ping, health checks and an
// idempotent close.
package sqlpool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/heartline/keyset/pkg/observability/logger"
)

const (
	defaultConnectTimeout = 5 * time.Second
	healthCheckTimeout    = 2 * time.Second
)

// ErrClosed is returned by HealthCheck after Close.
var ErrClosed = errors.New("database pool is closed")

// Options sizes the pool. Zero values keep the database/sql defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectTimeout bounds the startup ping.
	ConnectTimeout time.Duration
}

// Pool wraps a *sql.DB for one named engine ("PostgreSQL", "MySQL").
type Pool struct {
	db     *sql.DB
	engine string
	logger logger.Logger
	closed atomic.Bool
}

// Open builds a pool on connector and pings it. On failure the pool is
// closed before returning.
func Open(connector driver.Connector, engine string, opts Options, log logger.Logger) (*Pool, error) {
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", engine, err)
	}
	return Wrap(db, engine, log), nil
}

// Wrap adopts an open *sql.DB without pinging it.
func Wrap(db *sql.DB, engine string, log logger.Logger) *Pool {
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{db: db, engine: engine, logger: log}
}

// DB exposes the handle for schema setup in tests and tooling.
func (p *Pool) DB() *sql.DB { return p.db }

func (p *Pool) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// HealthCheck pings within a short timeout. A failure is logged with the
// pool usage, which tells exhaustion apart from an unreachable server.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		st := p.db.Stats()
		p.logger.Error(p.engine+" health check failed",
			"error", err,
			"open_connections", st.OpenConnections,
			"in_use", st.InUse,
			"wait_count", st.WaitCount,
		)
		return fmt.Errorf("%s health check failed: %w", p.engine, err)
	}
	return nil
}

// Close closes the pool once; later calls return nil.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", p.engine, err)
	}
	p.logger.Info(p.engine + " connection closed")
	return nil
}

func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Pool) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}
