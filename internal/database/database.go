package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the sqlite handle shared by the task record store and the
// webhook log store. All mutation goes through single atomic statements;
// no multi-statement transactions are assumed available.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            type TEXT NOT NULL,
            type_group TEXT NOT NULL DEFAULT '',
            storekeeper_id INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'new',
            times_ran INTEGER NOT NULL DEFAULT 0,
            meta_data TEXT NOT NULL DEFAULT '',
            execution_duration_ms INTEGER NOT NULL DEFAULT 0,
            lease_expires_at DATETIME,
            date_created DATETIME NOT NULL,
            date_updated DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS webhook_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            route TEXT NOT NULL,
            method TEXT NOT NULL,
            body TEXT NOT NULL DEFAULT '',
            headers TEXT NOT NULL DEFAULT '',
            action TEXT NOT NULL DEFAULT '',
            response_code INTEGER NOT NULL DEFAULT 0,
            date_created DATETIME NOT NULL,
            date_updated DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_name_status ON tasks(name, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_type_group ON tasks(type_group)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_date_created ON tasks(date_created)`,

		`CREATE INDEX IF NOT EXISTS idx_webhook_logs_action ON webhook_logs(action)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_logs_date_created ON webhook_logs(date_created)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ExecContext exposes the raw handle for maintenance statements and tests.
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) PingContext(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Filter is one equality or LIKE predicate; filters are AND-joined.
type Filter struct {
	Field string
	Op    string
	Value interface{}
}

// Eq builds an equality filter.
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: "=", Value: value}
}

// Like builds a LIKE filter.
func Like(field, pattern string) Filter {
	return Filter{Field: field, Op: "LIKE", Value: pattern}
}

// buildWhere renders filters against a column whitelist. Unknown columns
// and operators are validation errors, not SQL.
func buildWhere(filters []Filter, allowed map[string]bool) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []interface{}
	for _, f := range filters {
		if !allowed[f.Field] {
			return "", nil, newValidationError(f.Field, "is not a filterable column")
		}
		switch f.Op {
		case "=", "LIKE":
		default:
			return "", nil, newValidationError(f.Field, fmt.Sprintf("unsupported operator %q", f.Op))
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", f.Field, f.Op))
		args = append(args, f.Value)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}
