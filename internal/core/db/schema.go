package db

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Named introspection queries per driver. dotsql keys are declared in the
// embedded .sql files.
const (
	querySQLiteColumns   = "list-sqlite-table-columns"
	queryPostgresColumns = "list-postgres-table-columns"
)

// Snapshot is an immutable table-to-columns map loaded from a live
// database. It implements the policy SchemaLoader interface and is safe
// for concurrent use after LoadSnapshot returns.
type Snapshot struct {
	columns map[string]map[string]struct{}
}

// ColumnsFor returns the column set of a table, or ok=false when the
// table is not in the snapshot.
func (s *Snapshot) ColumnsFor(table string) (map[string]struct{}, bool) {
	cols, ok := s.columns[strings.ToLower(table)]
	return cols, ok
}

// Tables returns the number of tables in the snapshot.
func (s *Snapshot) Tables() int {
	return len(s.columns)
}

// LoadSnapshot reads every user table's columns through the driver's
// catalog and returns the in-memory snapshot. Table and column names are
// lowercased: the rewriter compares identifiers case-insensitively.
func LoadSnapshot(database *sqlx.DB) (*Snapshot, error) {
	queries, err := loadQueries()
	if err != nil {
		return nil, err
	}

	var queryName string
	switch database.DriverName() {
	case "sqlite3":
		queryName = querySQLiteColumns
	case "postgres":
		queryName = queryPostgresColumns
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", database.DriverName())
	}

	raw, err := queries.Raw(queryName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve query %s: %w", queryName, err)
	}

	rows, err := database.Queryx(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect schema: %w", err)
	}
	defer rows.Close()

	snapshot := &Snapshot{columns: make(map[string]map[string]struct{})}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		table = strings.ToLower(table)
		if _, ok := snapshot.columns[table]; !ok {
			snapshot.columns[table] = make(map[string]struct{})
		}
		snapshot.columns[table][strings.ToLower(column)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schema rows: %w", err)
	}

	return snapshot, nil
}

// StaticSnapshot builds a snapshot from a literal table-to-columns map.
// Used by tests and CLI callers that have no live database.
func StaticSnapshot(tables map[string][]string) *Snapshot {
	columns := make(map[string]map[string]struct{}, len(tables))
	for table, cols := range tables {
		set := make(map[string]struct{}, len(cols))
		for _, col := range cols {
			set[strings.ToLower(col)] = struct{}{}
		}
		columns[strings.ToLower(table)] = set
	}
	return &Snapshot{columns: columns}
}

// loadQueries loads all .sql files from the embedded filesystem.
func loadQueries() (*dotsql.DotSql, error) {
	var combinedSQL string

	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		combinedSQL += string(content) + "\n"
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}

	dot, err := dotsql.LoadFromString(combinedSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}

	return dot, nil
}
