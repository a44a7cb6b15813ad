package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/humpbacklabs/humpback/internal/chunk"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateChunk inserts a new chunk and returns its id. A missing id is
// assigned a fresh UUID.
func (s *SQLiteStore) CreateChunk(ctx context.Context, c *chunk.Chunk) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("validating chunk: %w", err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, owner_id, title, content, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Title, c.Content, c.SourceURL, c.CreatedAt.UTC(), nullTime(c.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("inserting chunk: %w", err)
	}
	return c.ID, nil
}

// UpdateChunk rewrites the mutable fields of an existing chunk and stamps
// updated_at.
func (s *SQLiteStore) UpdateChunk(ctx context.Context, c *chunk.Chunk) error {
	if c.ID == "" {
		return fmt.Errorf("chunk id is required")
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating chunk: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET title = ?, content = ?, source_url = ?, updated_at = ?
		WHERE id = ?`,
		c.Title, c.Content, c.SourceURL, now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating chunk %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of chunk %s: %w", c.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("chunk %s: %w", c.ID, ErrNotFound)
	}
	c.UpdatedAt = &now
	return nil
}

// DeleteChunk removes a chunk row. Deleting a missing id is not an error;
// the subsequent sync job treats the id as a deletion either way.
func (s *SQLiteStore) DeleteChunk(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("chunk id is required")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting chunk %s: %w", id, err)
	}
	return nil
}

// GetChunk fetches a single chunk by id.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, content, source_url, created_at, updated_at
		FROM chunks WHERE id = ?`, id)

	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting chunk %s: %w", id, err)
	}
	return c, nil
}

// GetChunksByIDs fetches the chunks that currently exist for the given
// ids. Ids with no row are simply absent from the result; the caller
// interprets them as deletions.
func (s *SQLiteStore) GetChunksByIDs(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, owner_id, title, content, source_url, created_at, updated_at
		FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// ListChunks returns a page of an owner's chunks, newest first.
func (s *SQLiteStore) ListChunks(ctx context.Context, ownerID string, limit, offset int) ([]*chunk.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, content, source_url, created_at, updated_at
		FROM chunks WHERE owner_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*chunk.Chunk, error) {
	var c chunk.Chunk
	var updated sql.NullTime
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Content, &c.SourceURL, &c.CreatedAt, &updated); err != nil {
		return nil, err
	}
	if updated.Valid {
		t := updated.Time
		c.UpdatedAt = &t
	}
	return &c, nil
}
