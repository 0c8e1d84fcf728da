// Package store provides the SQLite-backed task store.
//
// The database runs embedded through ncruces/go-sqlite3 with WAL enabled so
// readers (list, get, the dashboard) never wait on a writer. The store itself
// does not serialize writers across processes; callers that mutate must hold
// the advisory lock from internal/lock (see internal/tracker).
//
// Schema:
//   - tasks: id, title, desc, priority, state (the stored state)
//   - dependencies: (parent_id, child_id) pairs, composite primary key
//
// Effective states are derived on every read by internal/graph and are never
// written back.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pearls-dev/pearls/internal/types"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates a new database connection at the specified path.
//
// The parent directory is created if needed. The schema is not created;
// call InitSchema (or use OpenAndInit).
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("create database directory", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, storageErr("ping database", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn:   conn,
		path:   path,
		logger: log.New(os.Stderr, "[store] ", log.LstdFlags),
	}, nil
}

// OpenAndInit opens the database and makes sure the schema exists.
func OpenAndInit(ctx context.Context, path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SetLogger replaces the logger used for warnings.
func (db *DB) SetLogger(logger *log.Logger) {
	if logger != nil {
		db.logger = logger
	}
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return storageErr("close database", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT,
		"desc" TEXT,
		priority INTEGER NOT NULL DEFAULT 1,
		state TEXT NOT NULL DEFAULT 'ready'
	);

	-- No foreign keys: edges may outlive or precede their tasks.
	CREATE TABLE IF NOT EXISTS dependencies (
		parent_id INTEGER NOT NULL,
		child_id INTEGER NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);

	CREATE INDEX IF NOT EXISTS idx_dependencies_child ON dependencies(child_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(state, priority, id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return storageErr("initialize schema", err)
	}
	return nil
}

// TaskCount returns the total number of tasks.
func (db *DB) TaskCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		return 0, storageErr("count tasks", err)
	}
	return count, nil
}

// DependencyCount returns the total number of dependency edges.
func (db *DB) DependencyCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dependencies").Scan(&count); err != nil {
		return 0, storageErr("count dependencies", err)
	}
	return count, nil
}

func storageErr(op string, err error) error {
	return &types.StorageError{Op: op, Err: err}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
