package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/heartline/keyset/pkg/observability/logger"
)

func TestNewAdapter_Validation(t *testing.T) {
	if _, err := NewAdapter(Config{}, logger.Nop()); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := NewAdapter(Config{URL: "postgres://%zz"}, logger.Nop()); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestAdapter_HealthCheckAndClose(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	a := newAdapter(db, Config{}, logger.Nop())

	mock.ExpectPing()
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	mock.ExpectClose()
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := a.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after close")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewTable_UsesPostgresDialect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	a := newAdapter(db, Config{}, logger.Nop())

	table, err := NewTable[row](a, "leaderboard", map[string]string{"_id": "id"}, rowMapper{})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	mock.ExpectQuery(`SELECT COUNT(*) FROM "leaderboard"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	n, err := table.Count(context.Background(), nil)
	if err != nil || n != 3 {
		t.Errorf("Count() = %d, %v", n, err)
	}
}
