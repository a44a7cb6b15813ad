package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIKey is a stored search credential. Only the SHA-256 hash of the
// secret is persisted; the plaintext is returned once at creation.
type APIKey struct {
	ID        string
	OwnerID   string
	Label     string
	KeyHash   string
	CreatedAt time.Time
}

// HashKey returns the hex SHA-256 digest used for credential lookup.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey mints a new key for an owner and returns the plaintext
// secret. The caller must show it to the user now; it cannot be recovered.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, ownerID, label string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("owner_id is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	plaintext := "hb_" + hex.EncodeToString(raw)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, owner_id, label, key_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), ownerID, label, HashKey(plaintext), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting api key: %w", err)
	}
	return plaintext, nil
}

// GetAPIKeyByHash looks up a key record by the hash of a presented
// credential. Returns ErrNotFound on a miss; the caller collapses every
// failure into the same unauthorized response.
func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, label, key_hash, created_at
		FROM api_keys WHERE key_hash = ?`, hash)

	var k APIKey
	if err := row.Scan(&k.ID, &k.OwnerID, &k.Label, &k.KeyHash, &k.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	return &k, nil
}
