// Package store provides the SQLite system-of-record for Humpback.
//
// It owns two tables: chunks (the content rows the indexes are synced
// against) and api_keys (hashed search credentials). The search indexes
// themselves live in external services; only the sync worker may write
// them, and it always re-reads current truth from this store first.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/humpbacklabs/humpback/internal/chunk"
)

// Store defines the system-of-record interface consumed by the sync
// worker, the HTTP layer, and the auth middleware.
type Store interface {
	// Chunks
	CreateChunk(ctx context.Context, c *chunk.Chunk) (string, error)
	UpdateChunk(ctx context.Context, c *chunk.Chunk) error
	DeleteChunk(ctx context.Context, id string) error
	GetChunk(ctx context.Context, id string) (*chunk.Chunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]*chunk.Chunk, error)
	ListChunks(ctx context.Context, ownerID string, limit, offset int) ([]*chunk.Chunk, error)

	// API keys
	CreateAPIKey(ctx context.Context, ownerID, label string) (plaintext string, err error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)

	// Observability
	Ping(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the SQLite database at dbPath and
// runs migrations. Pass ":memory:" for tests.
func NewStore(dbPath string) (Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ddl := `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_owner ON chunks(owner_id);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	key_hash TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
