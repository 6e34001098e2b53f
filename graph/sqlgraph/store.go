// Package sqlgraph is a property graph backend on an embedded SQLite database.
//
// Every Graph handle runs inside one SQL transaction, begun lazily on first use
// and ended by Commit, Rollback or Shutdown. Properties are stored as JSON text;
// key indices are SQLite expression indexes over json_extract, recorded in the
// key_indices table so they survive restarts.
package sqlgraph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
)

const driverName = "sqlite"

// Config configures a Store
type Config struct {
	// Path is the database file. ":memory:" keeps everything in memory for the
	// lifetime of the Store.
	Path string `json:"path" yaml:"path" toml:"path"`

	// BusyTimeout bounds how long a write waits for the database lock.
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout" toml:"busy_timeout"`

	// IgnoreSuppliedIDs makes the store assign every id itself.
	IgnoreSuppliedIDs bool `json:"ignore_supplied_ids" yaml:"ignore_supplied_ids" toml:"ignore_supplied_ids"`
}

// DefaultConfig returns a config for graph.db in the working directory.
func DefaultConfig() Config {
	return Config{
		Path:        "graph.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Validate checks the config
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sqlgraph", "Validate", "path check")
	}
	if c.BusyTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative busy_timeout", errors.ErrInvalidConfig),
			"sqlgraph", "Validate", "busy_timeout check")
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS vertices (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  key        TEXT NOT NULL UNIQUE,
  id         TEXT NOT NULL,
  properties TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  key        TEXT NOT NULL UNIQUE,
  id         TEXT NOT NULL,
  label      TEXT NOT NULL,
  out_key    TEXT NOT NULL,
  in_key     TEXT NOT NULL,
  properties TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS edges_out ON edges(out_key);
CREATE INDEX IF NOT EXISTS edges_in ON edges(in_key);
CREATE TABLE IF NOT EXISTS key_indices (
  class TEXT NOT NULL,
  key   TEXT NOT NULL,
  PRIMARY KEY (class, key)
);
CREATE TABLE IF NOT EXISTS counters (
  name  TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);
INSERT OR IGNORE INTO counters (name, value) VALUES ('next_id', 0);
`

// Store owns the database. Open hands out per-request Graph handles.
type Store struct {
	db       *sql.DB
	path     string
	features graph.Features
}

// New opens (creating if needed) the database at cfg.Path and ensures the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	path := strings.TrimSpace(cfg.Path)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, cfg.BusyTimeout.Milliseconds())
	if path == ":memory:" {
		dsn = "file::memory:"
	} else {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %q is a directory", errors.ErrInvalidConfig, path),
				"sqlgraph", "New", "path check")
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.WrapFatal(err, "sqlgraph", "New", "create directory")
			}
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlgraph", "New", "open database")
	}
	// SQLite has a single writer; one connection turns concurrent sessions into a queue
	// instead of SQLITE_BUSY failures, and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "sqlgraph", "New", "ping database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "sqlgraph", "New", "initialize schema")
	}

	return &Store{
		db:   db,
		path: path,
		features: graph.Features{
			SupportsTransactions: true,
			IgnoresSuppliedIDs:   cfg.IgnoreSuppliedIDs,
			SupportsKeyIndices:   true,
		},
	}, nil
}

// Open implements graph.Opener. The transaction starts on the handle's first call.
func (s *Store) Open(_ context.Context) (graph.Graph, error) {
	return &Graph{store: s}, nil
}

// Features returns what handles of this store support
func (s *Store) Features() graph.Features {
	return s.features
}

// Close closes the database. Handles still open fail afterwards.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
