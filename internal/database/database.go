package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"dbmcp/pkg/logging"
	pkgstrings "dbmcp/pkg/strings"
)

// readOnlyKeywords are the leading statement keywords the read path accepts.
var readOnlyKeywords = []string{"SELECT", "WITH", "EXPLAIN", "PRAGMA"}

// identifierPattern matches bare SQL identifiers. Table names are validated
// against it before interpolation because PRAGMA does not accept bound
// parameters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB is a single-connection SQLite handle. One open connection serializes
// writers and keeps the empty-path in-memory database alive for the process
// lifetime; in-memory SQLite evaporates when its last connection closes.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens the SQLite database at path, creating parent directories as
// needed. An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == "" {
		logging.Info("Database", "Opened in-memory SQLite database")
	} else {
		logging.Info("Database", "Opened SQLite database at %s", path)
	}
	return &DB{db: db, path: path}, nil
}

// Path returns the configured database file path, empty for in-memory.
func (d *DB) Path() string {
	return d.path
}

// Close releases the underlying handle. For the in-memory database this
// discards all data.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// firstKeyword extracts the leading keyword of a statement, uppercased.
func firstKeyword(query string) string {
	s := strings.TrimSpace(query)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			end++
			continue
		}
		break
	}
	return strings.ToUpper(s[:end])
}

// IsReadOnly reports whether the statement starts with one of the read-only
// keywords. This is a routing guard, not a SQL parser; SQLite remains the
// authority on what a statement actually does.
func IsReadOnly(query string) bool {
	keyword := firstKeyword(query)
	for _, k := range readOnlyKeywords {
		if keyword == k {
			return true
		}
	}
	return false
}

// QueryResult holds the output of a read statement: the column order as
// reported by the driver plus one map per row.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

// ReadQuery runs a read-only statement and collects its rows. Statements
// that do not start with a read-only keyword are rejected.
func (d *DB) ReadQuery(ctx context.Context, query string) (*QueryResult, error) {
	if !IsReadOnly(query) {
		return nil, fmt.Errorf("only read-only statements are allowed (SELECT, WITH, EXPLAIN, PRAGMA)")
	}
	return d.collectRows(ctx, query)
}

func (d *DB) collectRows(ctx context.Context, query string, args ...any) (*QueryResult, error) {
	logging.Debug("Database", "Query: %s",
		pkgstrings.TruncateDescription(query, pkgstrings.DefaultDescriptionMaxLen))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	scan := make([]any, len(columns))
	for i := range values {
		scan[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	result.Count = len(result.Rows)
	return result, nil
}

// normalizeValue rewrites driver byte slices as strings so text columns
// render as text rather than base64 in JSON output.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Execute runs a mutating statement and returns the affected row count.
func (d *DB) Execute(ctx context.Context, query string) (int64, error) {
	logging.Debug("Database", "Exec: %s",
		pkgstrings.TruncateDescription(query, pkgstrings.DefaultDescriptionMaxLen))

	res, err := d.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("executing statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return affected, nil
}

// ListTables returns the names of all user tables, sorted.
func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return tables, nil
}

// Column describes one column of a table, from PRAGMA table_info.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"notNull"`
	Default    any    `json:"default,omitempty"`
	PrimaryKey bool   `json:"primaryKey"`
}

// DescribeTable returns the column layout of a table. The table name must
// be a bare identifier; it is interpolated into a PRAGMA statement, which
// cannot carry bound parameters.
func (d *DB) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("describing table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid        int
			name       string
			columnType string
			notNull    int
			defaultVal sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultVal, &primaryKey); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		col := Column{
			Name:       name,
			Type:       columnType,
			NotNull:    notNull != 0,
			PrimaryKey: primaryKey != 0,
		}
		if defaultVal.Valid {
			col.Default = defaultVal.String
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describing table %s: %w", table, err)
	}
	// PRAGMA table_info returns an empty set for unknown tables instead of
	// an error.
	if len(columns) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	return columns, nil
}

// SchemaObject is one DDL entry from sqlite_master.
type SchemaObject struct {
	Type string `json:"type"`
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

// Schema returns the CREATE statements of all user objects (tables,
// indexes, views, triggers), sorted by type then name.
func (d *DB) Schema(ctx context.Context) ([]SchemaObject, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT type, name, sql FROM sqlite_master WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	defer rows.Close()

	objects := []SchemaObject{}
	for rows.Next() {
		var obj SchemaObject
		if err := rows.Scan(&obj.Type, &obj.Name, &obj.SQL); err != nil {
			return nil, fmt.Errorf("scanning schema row: %w", err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	return objects, nil
}
