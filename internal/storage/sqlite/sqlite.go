// Package sqlite persists visitor storage scopes in a SQLite database.
//
// Every visitor (browser session) owns one scope: a namespace of string keys
// in the client_storage table. DB.Scope returns a storage.Storage bound to
// one scope, so the identity store and cart resolver never see another
// visitor's keys.
//
// modernc.org/sqlite is a pure Go SQLite, so the binary needs no C toolchain.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// connPragmas run on every pooled connection as the driver opens it. WAL
// lets reads proceed while a session write is in progress.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

// dsn adds connPragmas to dbPath.
func dsn(dbPath string) string {
	q := make([]string, 0, len(connPragmas))
	for _, p := range connPragmas {
		q = append(q, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(q, "&")
}

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/storefront.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each pooled connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS client_storage (
			scope      TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (scope, key)
		);
		CREATE INDEX IF NOT EXISTS idx_client_storage_updated_at ON client_storage(updated_at);
	`)
	if err != nil {
		return fmt.Errorf("creating client_storage table: %w", err)
	}
	return nil
}
