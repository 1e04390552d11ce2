package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/heartline/keyset/pkg/pagination"
)

func TestNewDocumentMapper(t *testing.T) {
	m, err := NewDocumentMapper([]string{"id", "score", "city"}, map[string]string{"id": "profile_id"})
	if err != nil {
		t.Fatalf("NewDocumentMapper() error = %v", err)
	}
	want := []string{"profile_id", "score", "city"}
	for i, c := range m.Columns() {
		if c != want[i] {
			t.Fatalf("Columns() = %v, want %v", m.Columns(), want)
		}
	}

	if _, err := NewDocumentMapper(nil, nil); err == nil {
		t.Error("empty field list should fail")
	}
	if _, err := NewDocumentMapper([]string{"id"}, map[string]string{"id": "id; drop"}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("bad column error = %v, want ErrInvalidIdentifier", err)
	}
}

func TestDocumentMapper_PagesThroughTable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	columns := map[string]string{"id": "profile_id"}
	mapper, err := NewDocumentMapper([]string{"id", "score", "city"}, columns)
	if err != nil {
		t.Fatal(err)
	}
	table, err := NewTable[map[string]any](db, TableConfig{Name: "profiles", Dialect: Postgres, FieldColumns: columns}, mapper)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	mock.ExpectQuery(`SELECT "profile_id", "score", "city" FROM "profiles" ORDER BY "profile_id" ASC LIMIT 3`).
		WillReturnRows(sqlmock.NewRows([]string{"profile_id", "score", "city"}).
			AddRow(int64(1), int64(10), []byte("Rome")).
			AddRow(int64(2), int64(20), []byte("Oslo")).
			AddRow(int64(3), int64(30), []byte("Lima")))

	exec := pagination.NewExecutor[map[string]any](pagination.Options{Name: "profiles"})
	spec := pagination.MustSortSpec(
		pagination.Field("id", pagination.Asc, pagination.Path[map[string]any]("id")).Unique().NotNull(),
	)
	page, err := exec.FetchPage(context.Background(), table, spec, pagination.PageRequest{Limit: 2})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}
	first := page.Items[0]
	if first["id"] != int64(1) || first["score"] != int64(10) {
		t.Errorf("first document = %v", first)
	}
	if city, ok := first["city"].(string); !ok || city != "Rome" {
		t.Errorf("city = %#v, want string Rome", first["city"])
	}
	if _, ok := first["profile_id"]; ok {
		t.Error("documents must be keyed by field name, not column")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
