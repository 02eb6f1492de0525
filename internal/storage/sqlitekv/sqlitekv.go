// Package sqlitekv implements the storage adapter on a local SQLite file.
//
// WHY A SQLITE BACKEND AT ALL?
// The hosted backends (GitHub issues, Workers KV) need tokens, network and
// patience. SQLite needs a file path — or ":memory:" — which makes it the
// backend for local development, CI, and as a migration source or target
// when moving data on or off the hosted stores.
//
// We use modernc.org/sqlite (pure Go, no CGo) so the binary cross-compiles
// without a C toolchain.
package sqlitekv

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Blank import registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed storage adapter. It wraps a sql.DB pool and a
// logger; all adapter methods live in store.go.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New opens (or creates) the database at dbPath and runs migrations.
// ":memory:" gives an ephemeral database, handy in tests.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitekv: pinging database: %w", err)
	}

	// WAL mode lets reads proceed while a write is in flight — the normal
	// setting for a web server sharing one database file.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitekv: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitekv: enabling foreign keys: %w", err)
	}

	// SQLite allows one writer at a time; a second pooled connection buys
	// nothing and under ":memory:" it would even open a separate database.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitekv: running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it idempotent,
// so it is safe to run on every startup.
//
// One row per ITEM, not per user array: that keeps Save and Delete as row
// operations inside a transaction instead of a JSON read-modify-write. The
// position column preserves array order so Load returns items in the same
// order every backend does — insertion order.
func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS content (
			content_type TEXT    NOT NULL,
			user_id      TEXT    NOT NULL,
			item_id      TEXT    NOT NULL,
			username     TEXT    NOT NULL DEFAULT '',
			version      INTEGER NOT NULL DEFAULT 1,
			position     INTEGER NOT NULL,
			body         TEXT    NOT NULL,
			PRIMARY KEY (content_type, user_id, item_id)
		);
		CREATE INDEX IF NOT EXISTS idx_content_type ON content(content_type);
	`)
	if err != nil {
		return fmt.Errorf("creating content table: %w", err)
	}

	_, err = s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS submissions (
			entity_id  TEXT     NOT NULL,
			user_id    TEXT     NOT NULL,
			item_id    TEXT     NOT NULL,
			username   TEXT     NOT NULL DEFAULT '',
			body       TEXT     NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (entity_id, user_id, item_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating submissions table: %w", err)
	}

	_, err = s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS verification_codes (
			email_hash TEXT     PRIMARY KEY,
			code       TEXT     NOT NULL,
			expires_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating verification_codes table: %w", err)
	}

	_, err = s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS versions (
			content_type TEXT    PRIMARY KEY,
			version      INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating versions table: %w", err)
	}

	return nil
}
