// Package mysql serves keyset collections from MySQL tables.
package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/repository"
	"github.com/heartline/keyset/pkg/store/sqlpool"
)

const engine = "MySQL"

// Config holds MySQL configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
}

// Adapter is the pooled connection keyset tables query through.
type Adapter struct {
	*sqlpool.Pool
	queryTimeout time.Duration
}

// ParseDSN validates a MySQL DSN and enables parseTime so DATETIME and
// TIMESTAMP sort keys scan into time.Time and round-trip through cursors.
func ParseDSN(dsn string) (*driver.Config, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg, nil
}

// NewAdapter opens a pool and verifies it with a ping. It does not run
// migrations or provision databases.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	dsn, err := ParseDSN(cfg.URL)
	if err != nil {
		return nil, err
	}
	connector, err := driver.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
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

	log.Info("MySQL connection established", "database", dsn.DBName, "max_open_conns", cfg.MaxOpenConns)
	return &Adapter{Pool: pool, queryTimeout: cfg.QueryTimeout}, nil
}

func newAdapter(db *sql.DB, cfg Config, log logger.Logger) *Adapter {
	return &Adapter{Pool: sqlpool.Wrap(db, engine, log), queryTimeout: cfg.QueryTimeout}
}

// NewTable exposes a MySQL table as a keyset collection.
func NewTable[T any](a *Adapter, name string, fieldColumns map[string]string, mapper repository.RowMapper[T]) (*repository.Table[T], error) {
	return repository.NewTable[T](a, repository.TableConfig{
		Name:         name,
		Dialect:      repository.MySQL,
		FieldColumns: fieldColumns,
		QueryTimeout: a.queryTimeout,
	}, mapper)
}
