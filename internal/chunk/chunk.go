// Package chunk defines the content domain types shared by the sync
// pipeline and the search pipeline: the system-of-record Chunk row, the
// denormalized IndexedDocument written to both indexes, and the
// per-request search types.
package chunk

import (
	"fmt"
	"strings"
	"time"
)

// MaxTitleLen is the maximum accepted chunk title length.
const MaxTitleLen = 256

// Chunk is the unit of content owned by a workspace.
type Chunk struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	SourceURL string     `json:"source_url"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// Validate checks the invariants the store enforces on write.
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.OwnerID) == "" {
		return fmt.Errorf("owner_id is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(c.Title) > MaxTitleLen {
		return fmt.Errorf("title exceeds %d characters", MaxTitleLen)
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

// EmbeddingInput renders the text embedded for a chunk. The same template
// is used at index time and at rerank time so both score against the same
// representation. Query embeddings use the raw query, not this template.
func (c *Chunk) EmbeddingInput() string {
	return EmbeddingInput(c.Title, c.Content)
}

// EmbeddingInput formats a title/content pair for the embedding provider.
func EmbeddingInput(title, content string) string {
	return fmt.Sprintf("Title: %s\n\nContent: %s", title, content)
}

// IndexedDocument is the payload stored in both the vector and keyword
// indexes. The epoch fields duplicate the timestamps as Unix milliseconds
// because the keyword index sorts and filters on numeric fields; they must
// always be derived, never set independently.
type IndexedDocument struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	SourceURL      string     `json:"source_url"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
	CreatedAtEpoch int64      `json:"created_at_epoch"`
	UpdatedAtEpoch *int64     `json:"updated_at_epoch"`
}

// Document builds the IndexedDocument for a chunk, deriving the epoch
// fields from the timestamps.
func (c *Chunk) Document() IndexedDocument {
	doc := IndexedDocument{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		Title:          c.Title,
		Content:        c.Content,
		SourceURL:      c.SourceURL,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		CreatedAtEpoch: c.CreatedAt.UnixMilli(),
	}
	if c.UpdatedAt != nil {
		epoch := c.UpdatedAt.UnixMilli()
		doc.UpdatedAtEpoch = &epoch
	}
	return doc
}

// Validate checks an IndexedDocument at the adapter boundary. Adapters
// reject malformed documents instead of trusting upstream shape.
func (d *IndexedDocument) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.OwnerID == "" {
		return fmt.Errorf("document owner_id is required")
	}
	if d.Title == "" || d.Content == "" {
		return fmt.Errorf("document %s: title and content are required", d.ID)
	}
	if d.CreatedAtEpoch != d.CreatedAt.UnixMilli() {
		return fmt.Errorf("document %s: created_at_epoch does not match created_at", d.ID)
	}
	if d.UpdatedAt == nil != (d.UpdatedAtEpoch == nil) {
		return fmt.Errorf("document %s: updated_at and updated_at_epoch must be set together", d.ID)
	}
	if d.UpdatedAt != nil && *d.UpdatedAtEpoch != d.UpdatedAt.UnixMilli() {
		return fmt.Errorf("document %s: updated_at_epoch does not match updated_at", d.ID)
	}
	return nil
}

// EmbeddingInput renders the rerank/embedding text for an indexed document.
func (d *IndexedDocument) EmbeddingInput() string {
	return EmbeddingInput(d.Title, d.Content)
}

// Origin identifies which retrieval path produced a search result.
type Origin string

const (
	OriginVector   Origin = "vector"
	OriginKeyword  Origin = "keyword"
	OriginBackfill Origin = "backfill"
)

// SearchResult is one entry in a search response. It exists only for the
// duration of a request.
type SearchResult struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	SourceURL string     `json:"source_url"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	Score     float64    `json:"score"`
	Origin    Origin     `json:"origin"`
}

// SearchRequest is a validated, authenticated search. OwnerID comes from
// the auth context, never from the request body.
type SearchRequest struct {
	Query            string
	MaxResults       int
	AllowBackfill    bool
	SkipQueryRewrite bool
	OwnerID          string
}

// SearchResponse is the assembled result of one hybrid search.
type SearchResponse struct {
	Query            string         `json:"query"`
	TransformedQuery string         `json:"transformed_query"`
	Results          []SearchResult `json:"results"`
	TotalResults     int            `json:"total_results"`
	TimeTaken        float64        `json:"time_taken"`
}
