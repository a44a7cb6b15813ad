// Package index defines the uniform contract over the two retrieval
// backends (vector and keyword) and the adapters implementing it.
//
// Both adapters store the same IndexedDocument payload keyed by chunk id.
// Only the sync worker writes; the orchestrator only searches.
package index

import (
	"context"
	"fmt"

	"github.com/humpbacklabs/humpback/internal/chunk"
)

// Index is the uniform upsert/delete/search contract over a backend.
// Upsert by id is idempotent; deleting a missing id is not an error. The
// vector adapter requires vectors aligned 1:1 with documents, the keyword
// adapter ignores them.
type Index interface {
	Upsert(ctx context.Context, docs []chunk.IndexedDocument, vectors [][]float32) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, q Query) ([]Hit, error)
}

// Hit is one scored document returned by a backend search. Both backends
// return the stored payload so the orchestrator can dedup and assemble
// results without a second fetch.
type Hit struct {
	Document chunk.IndexedDocument
	Score    float64
}

// Query is a backend search. The vector adapter reads Vector, the keyword
// adapter reads Text; both honor Limit and the OwnerID filter.
type Query struct {
	Vector  []float32
	Text    string
	Limit   int
	OwnerID string
}

// Error wraps any backend failure with the backend's name. Adapters never
// swallow errors; callers decide whether a failure is fatal.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s index: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Err: err}
}
