// Package store persists the catalog: one row per path, one row per distinct
// byte-sequence, and a small xattr K/V table. All writes go through the
// create-or-load protocol or single-row updates, so multiple workers can share
// one store with the unique constraints as the only arbiter.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup by unique key matches no row.
var ErrNotFound = errors.New("store: record not found")

// ErrConsistency marks a fatal per-record violation: an update touched a row
// count other than one. Processing of that record must stop; the scan goes on.
var ErrConsistency = errors.New("store: update affected unexpected row count")

// Store is a process-scoped handle to the catalog database. Open it once,
// pass it around, close it once.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS fileinfo (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	path          TEXT UNIQUE NOT NULL,
	mode          INTEGER NOT NULL DEFAULT 0,
	ctime         INTEGER NOT NULL DEFAULT 0,
	mtime         INTEGER NOT NULL DEFAULT 0,
	size          INTEGER NOT NULL DEFAULT 0,
	isdir         INTEGER NOT NULL DEFAULT 0,
	islink        INTEGER NOT NULL DEFAULT 0,
	ismount       INTEGER NOT NULL DEFAULT 0,
	isregular     INTEGER NOT NULL DEFAULT 0,
	symlink       TEXT NOT NULL DEFAULT '',
	content_id    INTEGER,
	content_error TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_fileinfo_path ON fileinfo(path);

CREATE TABLE IF NOT EXISTS contents (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	size           INTEGER NOT NULL,
	mime           TEXT NOT NULL DEFAULT '',
	sha1           TEXT NOT NULL DEFAULT '',
	sha224         TEXT NOT NULL DEFAULT '',
	sha256         TEXT NOT NULL,
	sha384         TEXT NOT NULL DEFAULT '',
	sha512         TEXT NOT NULL DEFAULT '',
	md5            TEXT NOT NULL DEFAULT '',
	crc32          TEXT NOT NULL DEFAULT '',
	header         BLOB,
	footer         BLOB,
	thumbnail_mime TEXT NOT NULL DEFAULT '',
	thumbnail      BLOB,
	UNIQUE(size, sha256)
);

CREATE INDEX IF NOT EXISTS idx_contents_sha256 ON contents(sha256);

CREATE TABLE IF NOT EXISTS xattrs (
	file_id INTEGER NOT NULL,
	name    TEXT NOT NULL,
	value   BLOB,
	UNIQUE(file_id, name)
);
`

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One pooled connection: SQLite has a single writer anyway, and the
	// pragmas below are connection-scoped. Workers still hash in parallel;
	// only the record writes serialize here.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// execOne runs a statement that must affect exactly one row. Any other row
// count wraps ErrConsistency: the unique-key invariant was violated outside
// the create-or-load protocol.
func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("%w: got %d", ErrConsistency, affected)
	}
	return nil
}
