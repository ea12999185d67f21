// Package store is the SQLite document store behind the contact service
// and the account service.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string
	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int
	Logger   *slog.Logger
}

// Store owns the connection pool. ContactStore and UserStore share it.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open opens the database, applying pragmas and the schema on every
// connection.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}
	logger.Info("store opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

// Close closes every connection. It blocks until borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("store close error", "path", s.path, "error", err)
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	s.logger.Info("store closed", "path", s.path)
	return nil
}

// Ping borrows a connection and runs a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// Contacts returns the contact repository.
func (s *Store) Contacts() *ContactStore { return &ContactStore{s: s} }

// Users returns the account repository.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take: %w", err)
	}
	return conn, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	uid           TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	uid        TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_uid ON sessions(uid);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	number     TEXT NOT NULL DEFAULT '',
	image_uri  TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS contacts_owner ON contacts(owner_id, created_at DESC);
`
