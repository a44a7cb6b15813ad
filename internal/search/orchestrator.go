// Package search runs the hybrid retrieval pipeline: query rewrite,
// parallel vector and keyword retrieval, dedup, rerank, threshold,
// and optional web backfill.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/humpbacklabs/humpback/internal/analytics"
	"github.com/humpbacklabs/humpback/internal/chunk"
	"github.com/humpbacklabs/humpback/internal/index"
	"github.com/humpbacklabs/humpback/internal/provider"
)

// MinScore is the relevance cutoff applied after rerank. Results below it
// are dropped rather than padding the response with weak matches.
const MinScore = 0.2

// Request bounds enforced at the HTTP layer and re-checked here.
const (
	MinResults     = 1
	MaxResults     = 10
	DefaultResults = 5
)

// Orchestrator wires the pipeline's collaborators. Rewriter, reranker,
// and backfill are optional; a nil collaborator skips its stage the same
// way a failing one does.
type Orchestrator struct {
	embedder provider.Embedder
	rewriter provider.Rewriter
	reranker provider.Reranker
	backfill provider.BackfillSearcher
	vector   index.Index
	keyword  index.Index
	sink     analytics.Sink
	log      *slog.Logger
	now      func() time.Time
}

// NewOrchestrator builds the search pipeline.
func NewOrchestrator(
	embedder provider.Embedder,
	rewriter provider.Rewriter,
	reranker provider.Reranker,
	backfill provider.BackfillSearcher,
	vector, keyword index.Index,
	sink analytics.Sink,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		embedder: embedder,
		rewriter: rewriter,
		reranker: reranker,
		backfill: backfill,
		vector:   vector,
		keyword:  keyword,
		sink:     sink,
		log:      log.With("component", "search"),
		now:      time.Now,
	}
}

// candidate is a deduplicated hit plus the path that produced it.
// Insertion order is preserved so equal post-rerank scores keep the
// vector-before-keyword encounter order.
type candidate struct {
	doc    chunk.IndexedDocument
	score  float64
	origin chunk.Origin
}

// Search runs the full pipeline for one authenticated request.
func (o *Orchestrator) Search(ctx context.Context, req chunk.SearchRequest) (*chunk.SearchResponse, error) {
	start := o.now()

	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if req.MaxResults < MinResults || req.MaxResults > MaxResults {
		return nil, fmt.Errorf("max_results must be between %d and %d", MinResults, MaxResults)
	}

	queryText := o.rewriteQuery(ctx, req)

	cands, err := o.retrieve(ctx, queryText, req)
	if err != nil {
		return nil, err
	}

	cands = o.rerank(ctx, queryText, cands)

	results := make([]chunk.SearchResult, 0, req.MaxResults)
	for _, c := range cands {
		if c.score < MinScore {
			continue
		}
		results = append(results, resultFromCandidate(c))
		if len(results) == req.MaxResults {
			break
		}
	}

	if req.AllowBackfill && len(results) < req.MaxResults {
		results = append(results, o.backfillResults(ctx, req.Query, req.MaxResults-len(results))...)
	}

	resp := &chunk.SearchResponse{
		Query:            req.Query,
		TransformedQuery: queryText,
		Results:          results,
		TotalResults:     len(results),
		TimeTaken:        time.Since(start).Seconds(),
	}
	o.publishAnalytics(req, resp)
	return resp, nil
}

// rewriteQuery transforms the raw query into a keyword-dense phrase.
// Any failure falls back to the raw query.
func (o *Orchestrator) rewriteQuery(ctx context.Context, req chunk.SearchRequest) string {
	if req.SkipQueryRewrite || o.rewriter == nil {
		return req.Query
	}
	rewritten, err := o.rewriter.Rewrite(ctx, req.Query)
	if err != nil {
		o.log.Warn("query rewrite failed, using raw query", "error", err)
		return req.Query
	}
	return rewritten
}

// retrieve embeds the query and fans out to both indexes concurrently.
// One backend failing degrades to the other's hits; both failing fails
// the request. Results are joined vector-first and deduplicated by id,
// preferring the vector copy.
func (o *Orchestrator) retrieve(ctx context.Context, queryText string, req chunk.SearchRequest) ([]candidate, error) {
	var (
		vecHits, keyHits []index.Hit
		vecErr, keyErr   error
	)

	var g errgroup.Group
	g.Go(func() error {
		vectors, err := o.embedder.EmbedBatch(ctx, []string{queryText})
		if err != nil {
			vecErr = fmt.Errorf("embedding query: %w", err)
			return nil
		}
		if len(vectors) != 1 {
			vecErr = fmt.Errorf("embedding query: got %d vectors", len(vectors))
			return nil
		}
		vecHits, vecErr = o.vector.Search(ctx, index.Query{
			Vector:  vectors[0],
			Limit:   req.MaxResults,
			OwnerID: req.OwnerID,
		})
		return nil
	})
	g.Go(func() error {
		keyHits, keyErr = o.keyword.Search(ctx, index.Query{
			Text:    queryText,
			Limit:   req.MaxResults,
			OwnerID: req.OwnerID,
		})
		return nil
	})
	g.Wait()

	if vecErr != nil && keyErr != nil {
		return nil, fmt.Errorf("both retrieval backends failed: %w", errors.Join(vecErr, keyErr))
	}
	if vecErr != nil {
		o.log.Warn("vector retrieval failed, keyword results only", "error", vecErr)
	}
	if keyErr != nil {
		o.log.Warn("keyword retrieval failed, vector results only", "error", keyErr)
	}

	seen := make(map[string]struct{}, len(vecHits)+len(keyHits))
	cands := make([]candidate, 0, len(vecHits)+len(keyHits))
	appendHits := func(hits []index.Hit, origin chunk.Origin) {
		for _, h := range hits {
			if _, ok := seen[h.Document.ID]; ok {
				continue
			}
			seen[h.Document.ID] = struct{}{}
			cands = append(cands, candidate{doc: h.Document, score: h.Score, origin: origin})
		}
	}
	appendHits(vecHits, chunk.OriginVector)
	appendHits(keyHits, chunk.OriginKeyword)
	return cands, nil
}

// rerank rescores candidates against the query with the same
// title/content template used at index time, then sorts descending.
// On failure the pre-rerank order and backend scores are kept.
func (o *Orchestrator) rerank(ctx context.Context, queryText string, cands []candidate) []candidate {
	if len(cands) == 0 {
		return cands
	}
	if o.reranker == nil {
		sortByScore(cands)
		return cands
	}

	docs := make([]string, len(cands))
	for i := range cands {
		docs[i] = cands[i].doc.EmbeddingInput()
	}
	scores, err := o.reranker.Rerank(ctx, queryText, docs)
	if err != nil {
		o.log.Warn("rerank failed, keeping retrieval order", "error", err)
		return cands
	}
	if len(scores) != len(cands) {
		o.log.Warn("rerank returned wrong score count, keeping retrieval order",
			"got", len(scores), "want", len(cands))
		return cands
	}

	for i := range cands {
		cands[i].score = scores[i]
	}
	sortByScore(cands)
	return cands
}

// sortByScore orders candidates descending; ties keep the vector-first
// dedup encounter order.
func sortByScore(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
}

// backfillResults fetches up to need web results. Failures are swallowed;
// the caller just gets fewer results.
func (o *Orchestrator) backfillResults(ctx context.Context, query string, need int) []chunk.SearchResult {
	if o.backfill == nil || need <= 0 {
		return nil
	}
	web, err := o.backfill.Search(ctx, query, need)
	if err != nil {
		o.log.Warn("web backfill failed", "error", err)
		return nil
	}

	results := make([]chunk.SearchResult, 0, len(web))
	for _, r := range web {
		results = append(results, chunk.SearchResult{
			ID:        uuid.NewString(),
			Title:     r.Title,
			Content:   r.Content,
			SourceURL: r.URL,
			CreatedAt: o.now().UTC(),
			Score:     r.Score,
			Origin:    chunk.OriginBackfill,
		})
	}
	return results
}

// publishAnalytics queues one summary event plus one event per result.
// The sink is non-blocking; the response never waits on delivery.
func (o *Orchestrator) publishAnalytics(req chunk.SearchRequest, resp *chunk.SearchResponse) {
	if o.sink == nil {
		return
	}
	ts := o.now().UTC().Format(time.RFC3339)

	backfilled := false
	resultEvents := make([]map[string]any, 0, len(resp.Results))
	for i, r := range resp.Results {
		if r.Origin == chunk.OriginBackfill {
			backfilled = true
		}
		resultEvents = append(resultEvents, analytics.SearchResultEvent{
			OwnerID:   req.OwnerID,
			Query:     req.Query,
			ChunkID:   r.ID,
			Score:     r.Score,
			Position:  i + 1,
			Origin:    string(r.Origin),
			Timestamp: ts,
		}.Event())
	}

	o.sink.Publish(analytics.DataSourceSearchSummary, []map[string]any{
		analytics.SearchSummaryEvent{
			OwnerID:          req.OwnerID,
			Query:            req.Query,
			TransformedQuery: resp.TransformedQuery,
			TotalResults:     resp.TotalResults,
			TimeTaken:        resp.TimeTaken,
			Backfilled:       backfilled,
			Timestamp:        ts,
		}.Event(),
	})
	if len(resultEvents) > 0 {
		o.sink.Publish(analytics.DataSourceSearchResult, resultEvents)
	}
}

func resultFromCandidate(c candidate) chunk.SearchResult {
	return chunk.SearchResult{
		ID:        c.doc.ID,
		Title:     c.doc.Title,
		Content:   c.doc.Content,
		SourceURL: c.doc.SourceURL,
		CreatedAt: c.doc.CreatedAt,
		UpdatedAt: c.doc.UpdatedAt,
		Score:     c.score,
		Origin:    c.origin,
	}
}
