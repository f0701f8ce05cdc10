package db

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func TestOpen_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		dbURL string
	}{
		{name: "unsupported scheme", dbURL: "mysql://localhost/db"},
		{name: "malformed url", dbURL: "://bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.dbURL); err == nil {
				t.Error("Open() error = nil, want error")
			}
		})
	}
}

func TestStaticSnapshot(t *testing.T) {
	snapshot := StaticSnapshot(map[string][]string{
		"Orders": {"ID", "Tenant_ID", "status"},
	})

	cols, ok := snapshot.ColumnsFor("orders")
	if !ok {
		t.Fatal("ColumnsFor(orders) ok = false, want true")
	}
	if _, has := cols["tenant_id"]; !has {
		t.Error("tenant_id missing from lowercased column set")
	}

	// Lookup is case-insensitive on the table side too.
	if _, ok := snapshot.ColumnsFor("ORDERS"); !ok {
		t.Error("ColumnsFor(ORDERS) ok = false, want true")
	}
	if _, ok := snapshot.ColumnsFor("customers"); ok {
		t.Error("ColumnsFor(customers) ok = true, want false")
	}
	if snapshot.Tables() != 1 {
		t.Errorf("Tables() = %d, want 1", snapshot.Tables())
	}
}

func TestLoadSnapshot_SQLite(t *testing.T) {
	database, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer database.Close()

	schema := `
		CREATE TABLE orders (id INTEGER PRIMARY KEY, tenant_id INTEGER, status TEXT);
		CREATE TABLE countries (code TEXT PRIMARY KEY, name TEXT);
	`
	if _, err := database.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	snapshot, err := LoadSnapshot(database)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v, want nil", err)
	}

	if snapshot.Tables() != 2 {
		t.Errorf("Tables() = %d, want 2", snapshot.Tables())
	}

	cols, ok := snapshot.ColumnsFor("orders")
	if !ok {
		t.Fatal("ColumnsFor(orders) ok = false, want true")
	}
	for _, col := range []string{"id", "tenant_id", "status"} {
		if _, has := cols[col]; !has {
			t.Errorf("orders missing column %q", col)
		}
	}

	cols, ok = snapshot.ColumnsFor("countries")
	if !ok {
		t.Fatal("ColumnsFor(countries) ok = false, want true")
	}
	if _, has := cols["tenant_id"]; has {
		t.Error("countries has tenant_id, want absent")
	}
}

func TestLoadSnapshot_ExcludesInternalTables(t *testing.T) {
	database, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer database.Close()

	// AUTOINCREMENT forces the sqlite_sequence internal table to exist.
	if _, err := database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT)"); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := database.Exec("INSERT INTO t DEFAULT VALUES"); err != nil {
		t.Fatalf("insert row: %v", err)
	}

	snapshot, err := LoadSnapshot(database)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v, want nil", err)
	}
	if _, ok := snapshot.ColumnsFor("sqlite_sequence"); ok {
		t.Error("snapshot contains sqlite_sequence, want excluded")
	}
}
