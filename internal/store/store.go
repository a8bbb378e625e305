// Package store provides the SQLite row store behind the index: schema
// management, configured connections, and execution of expr-built
// statements. All cross-writer coordination is delegated to the store's
// uniqueness constraints; the store takes no in-memory locks of its own.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"realmindex/internal/expr"
)

//go:embed schema.sql
var schemaSQL string

// Store is a handle to one index database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the index database at the given path and applies
// required pragmas and the schema. Idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY between the writer and readers in-process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for tests and direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ExecExpr renders and executes a statement expression.
func (s *Store) ExecExpr(ctx context.Context, expression expr.Expression) (sql.Result, error) {
	rendered := expr.RenderSQL(expression)
	return s.db.ExecContext(ctx, rendered.Text, rendered.Values...)
}

// QueryExpr renders and executes a query expression and returns each row as
// a column→value map. Result sets here are bounded (the writer pages its
// traversals; the engine paginates), so materializing is fine.
func (s *Store) QueryExpr(ctx context.Context, expression expr.Expression) ([]map[string]any, error) {
	rendered := expr.RenderSQL(expression)
	rows, err := s.db.QueryContext(ctx, rendered.Text, rendered.Values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[column] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// IsUniqueViolation reports whether err is a uniqueness constraint failure.
// The writer's invalidation conflict detection branches on this.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}
