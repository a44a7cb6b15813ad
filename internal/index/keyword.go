package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meilisearch/meilisearch-go"

	"github.com/humpbacklabs/humpback/internal/chunk"
)

const keywordBackend = "keyword"

// KeywordIndex adapts a Meilisearch index to the Index contract. Lexical
// ranking scores come from Meilisearch's normalized ranking score in
// [0,1].
type KeywordIndex struct {
	manager meilisearch.ServiceManager
	index   meilisearch.IndexManager
}

// NewKeywordIndex wraps a Meilisearch service client.
func NewKeywordIndex(manager meilisearch.ServiceManager, indexName string) *KeywordIndex {
	return &KeywordIndex{
		manager: manager,
		index:   manager.Index(indexName),
	}
}

// EnsureIndex applies the index settings the search pipeline relies on:
// searchable title/content, filterable owner_id, sortable epoch fields.
// Called once at startup; safe to repeat.
func (k *KeywordIndex) EnsureIndex(ctx context.Context) error {
	_, err := k.index.UpdateSettingsWithContext(ctx, &meilisearch.Settings{
		SearchableAttributes: []string{"title", "content"},
		FilterableAttributes: []string{"owner_id"},
		SortableAttributes:   []string{"created_at_epoch", "updated_at_epoch"},
	})
	if err != nil {
		return wrapErr(keywordBackend, fmt.Errorf("updating settings: %w", err))
	}
	return nil
}

// Upsert adds or replaces documents keyed by id. The vectors argument is
// ignored; lexical indexing needs only the payload.
func (k *KeywordIndex) Upsert(ctx context.Context, docs []chunk.IndexedDocument, _ [][]float32) error {
	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if err := docs[i].Validate(); err != nil {
			return wrapErr(keywordBackend, err)
		}
	}

	if _, err := k.index.AddDocumentsWithContext(ctx, docs, "id"); err != nil {
		return wrapErr(keywordBackend, fmt.Errorf("adding %d documents: %w", len(docs), err))
	}
	return nil
}

// Delete removes documents by id. Missing ids are ignored by the backend.
func (k *KeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := k.index.DeleteDocumentsWithContext(ctx, ids); err != nil {
		return wrapErr(keywordBackend, fmt.Errorf("deleting %d documents: %w", len(ids), err))
	}
	return nil
}

// keywordHit is the wire shape of one Meilisearch hit: the stored
// document plus the ranking score requested via ShowRankingScore.
type keywordHit struct {
	chunk.IndexedDocument
	RankingScore float64 `json:"_rankingScore"`
}

// Search runs full-text retrieval filtered to the query's owner.
func (k *KeywordIndex) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.Text == "" {
		return nil, wrapErr(keywordBackend, fmt.Errorf("query text is required"))
	}
	if q.Limit <= 0 {
		return nil, wrapErr(keywordBackend, fmt.Errorf("limit must be positive"))
	}

	resp, err := k.index.SearchWithContext(ctx, q.Text, &meilisearch.SearchRequest{
		Limit:            int64(q.Limit),
		Filter:           fmt.Sprintf("owner_id = %q", q.OwnerID),
		ShowRankingScore: true,
	})
	if err != nil {
		return nil, wrapErr(keywordBackend, fmt.Errorf("searching: %w", err))
	}

	hits := make([]Hit, 0, len(resp.Hits))
	for _, raw := range resp.Hits {
		hit, err := decodeKeywordHit(raw)
		if err != nil {
			return nil, wrapErr(keywordBackend, err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// decodeKeywordHit converts one loosely-typed hit back into the shared
// document struct. Malformed hits are errors, not silently dropped.
func decodeKeywordHit(raw any) (Hit, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return Hit{}, fmt.Errorf("re-encoding hit: %w", err)
	}
	var kh keywordHit
	if err := json.Unmarshal(b, &kh); err != nil {
		return Hit{}, fmt.Errorf("decoding hit: %w", err)
	}
	if kh.ID == "" {
		return Hit{}, fmt.Errorf("hit missing id: %s", string(b))
	}
	return Hit{Document: kh.IndexedDocument, Score: kh.RankingScore}, nil
}
