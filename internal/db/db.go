package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFile = "plate.db"

// DB wraps the local SQLite database holding the key-value records
// (clipboard history, settings, shortcut bindings).
type DB struct {
	conn *sql.DB
	dir  string
}

// Open opens (creating if needed) the database in dir and runs any pending
// migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(500)&_pragma=synchronous(NORMAL)",
		filepath.Join(dir, dbFile),
	)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Writes are serialized by the file lock; one connection keeps pragmas stable.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{conn: conn, dir: dir}, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dir returns the data directory holding the database and lock files
func (db *DB) Dir() string {
	return db.dir
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from the daemon and CLI invocations.
func (db *DB) withWriteLock(fn func() error) error {
	locker := newWriteLocker(db.dir, writeLockFile)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}
