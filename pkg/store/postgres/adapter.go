// Package postgres serves keyset collections from PostgreSQL tables through
// lib/pq.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/repository"
	"github.com/heartline/keyset/pkg/store/sqlpool"
)

const engine = "PostgreSQL"

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	// QueryTimeout bounds every page query unless the caller's context
	// already has a deadline.
	QueryTimeout time.Duration
}

// Adapter is the pooled connection keyset tables query through.
type Adapter struct {
	*sqlpool.Pool
	queryTimeout time.Duration
}

// NewAdapter opens a pool and verifies it with a ping.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	connector, err := pq.NewConnector(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres URL: %w", err)
	}
	pool, err := sqlpool.Open(connector, engine, sqlpool.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	log.Info("PostgreSQL connection established", "max_open_conns", cfg.MaxOpenConns)
	return &Adapter{Pool: pool, queryTimeout: cfg.QueryTimeout}, nil
}

func newAdapter(db *sql.DB, cfg Config, log logger.Logger) *Adapter {
	return &Adapter{Pool: sqlpool.Wrap(db, engine, log), queryTimeout: cfg.QueryTimeout}
}

// NewTable exposes a PostgreSQL table as a keyset collection.
func NewTable[T any](a *Adapter, name string, fieldColumns map[string]string, mapper repository.RowMapper[T]) (*repository.Table[T], error) {
	return repository.NewTable[T](a, repository.TableConfig{
		Name:         name,
		Dialect:      repository.Postgres,
		FieldColumns: fieldColumns,
		QueryTimeout: a.queryTimeout,
	}, mapper)
}
