// Package warehouse wraps the embedded DuckDB store that holds raw, clean and
// transformed trip tables.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// ErrTableNotFound is returned when a stage depends on a table that has not
// been built yet.
var ErrTableNotFound = errors.New("table not found")

// DB is a single scoped connection to the store. Open it once per command and
// Close it on every exit path.
type DB struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open opens the store at path. An empty path opens an in-memory store.
func Open(path string, readOnly bool) (*DB, error) {
	dsn := path
	if readOnly && path != "" {
		dsn = path + "?access_mode=READ_ONLY"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", displayPath(path), err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", displayPath(path), err)
	}
	return &DB{db: db, path: path, readOnly: readOnly}, nil
}

func (w *DB) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *DB) Path() string   { return w.path }
func (w *DB) ReadOnly() bool { return w.readOnly }

func (w *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return w.db.ExecContext(ctx, query, args...)
}

func (w *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return w.db.QueryContext(ctx, query, args...)
}

func (w *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return w.db.QueryRowContext(ctx, query, args...)
}

// TableExists reports whether table exists in the main schema.
func (w *DB) TableExists(ctx context.Context, table Ident) (bool, error) {
	var n int
	err := w.db.QueryRowContext(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'main' AND table_name = ?
	`, table.Name()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// Columns returns the column names of table in declaration order.
func (w *DB) Columns(ctx context.Context, table Ident) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position
	`, table.Name())
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return cols, nil
}

// Count returns the number of rows in table.
func (w *DB) Count(ctx context.Context, table Ident) (int64, error) {
	var n int64
	if err := w.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table.Quoted()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// DropTable removes table if present.
func (w *DB) DropTable(ctx context.Context, table Ident) error {
	if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table.Quoted()); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	return nil
}

// RequireTable returns ErrTableNotFound when table is missing.
func (w *DB) RequireTable(ctx context.Context, table Ident) error {
	ok, err := w.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return nil
}

func displayPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return ":memory:"
	}
	return path
}
