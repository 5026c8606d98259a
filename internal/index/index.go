// Package index provides a SQLite-backed embedding cache, an alternative to the
// JSON envelope for larger corpora.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/zettelink/internal/apperr"
)

// FileName is the default name of the SQLite cache inside the cache directory.
const FileName = "embeddings.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	rel          TEXT PRIMARY KEY,
	path         TEXT NOT NULL DEFAULT '',
	stem         TEXT NOT NULL DEFAULT '',
	mtime        REAL NOT NULL DEFAULT 0,
	embedding    BLOB NOT NULL,
	text_preview TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps a sql.DB holding one cache envelope.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens the SQLite cache at path, creating it and its parent directories
// when absent. A file that is not a usable database fails with apperr.ErrCorruptCache.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("index: mkdir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: %w: ping %s: %v", apperr.ErrCorruptCache, path, err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: %w: apply schema to %s: %v", apperr.ErrCorruptCache, path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Location implements cache.Backend.
func (db *DB) Location() string {
	return db.path
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
