package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/humpbacklabs/humpback/internal/chunk"
	"github.com/humpbacklabs/humpback/internal/store"
)

type fakeSearcher struct {
	req  chunk.SearchRequest
	resp *chunk.SearchResponse
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req chunk.SearchRequest) (*chunk.SearchResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &chunk.SearchResponse{Query: req.Query, TransformedQuery: req.Query}, nil
}

type fakeDispatcher struct {
	ids []string
	err error
}

func (f *fakeDispatcher) Enqueue(_ context.Context, chunkIDs []string) (string, error) {
	f.ids = chunkIDs
	if f.err != nil {
		return "", f.err
	}
	return "job-1", nil
}

const internalSecret = "internal-test-secret"

func newTestServer(t *testing.T) (*Server, store.Store, *fakeSearcher, *fakeDispatcher) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	searcher := &fakeSearcher{}
	dispatcher := &fakeDispatcher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, searcher, dispatcher, internalSecret, log), st, searcher, dispatcher
}

// mintKey creates an owner's api key directly against the store.
func mintKey(t *testing.T, st store.Store, owner string) string {
	t.Helper()
	key, err := st.CreateAPIKey(context.Background(), owner, "test")
	if err != nil {
		t.Fatalf("creating api key: %v", err)
	}
	return key
}

func doJSON(t *testing.T, s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSearchRequiresValidKey(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		bearer string
	}{
		{"missing header", ""},
		{"unknown key", "hb_deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/search", tt.bearer, map[string]any{"query": "cats"})
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestSearchResolvesOwnerFromKey(t *testing.T) {
	s, st, searcher, _ := newTestServer(t)
	key := mintKey(t, st, "owner-a")

	rec := doJSON(t, s, http.MethodPost, "/search", key, map[string]any{"query": "cats"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if searcher.req.OwnerID != "owner-a" {
		t.Errorf("owner = %q, want owner-a", searcher.req.OwnerID)
	}
	if searcher.req.MaxResults != 5 {
		t.Errorf("max results = %d, want default 5", searcher.req.MaxResults)
	}
}

func TestSearchRequestMapping(t *testing.T) {
	s, st, searcher, _ := newTestServer(t)
	key := mintKey(t, st, "owner-a")

	rec := doJSON(t, s, http.MethodPost, "/search", key, map[string]any{
		"query":           "cats",
		"max_results":     3,
		"should_backfill": true,
		"skip_transform":  true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if searcher.req.MaxResults != 3 || !searcher.req.AllowBackfill || !searcher.req.SkipQueryRewrite {
		t.Errorf("request = %+v", searcher.req)
	}
}

func TestSearchValidation(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	key := mintKey(t, st, "owner-a")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty query", map[string]any{"query": ""}},
		{"max_results zero", map[string]any{"query": "q", "max_results": 0}},
		{"max_results too high", map[string]any{"query": "q", "max_results": 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/search", key, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSearchPipelineFailureIs500(t *testing.T) {
	s, st, searcher, _ := newTestServer(t)
	searcher.err = errors.New("both retrieval backends failed")
	key := mintKey(t, st, "owner-a")

	rec := doJSON(t, s, http.MethodPost, "/search", key, map[string]any{"query": "cats"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestChunkLifecycleDispatchesSync(t *testing.T) {
	s, st, _, dispatcher := newTestServer(t)
	key := mintKey(t, st, "owner-a")

	rec := doJSON(t, s, http.MethodPost, "/chunks", key, map[string]any{
		"title":   "Cats",
		"content": "Cats are mammals",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[chunkResponse](t, rec)
	if created.Chunk.ID == "" || created.JobID != "job-1" {
		t.Fatalf("created = %+v", created)
	}
	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != created.Chunk.ID {
		t.Errorf("dispatched ids = %v", dispatcher.ids)
	}

	rec = doJSON(t, s, http.MethodPut, "/chunks/"+created.Chunk.ID, key, map[string]any{
		"title":   "Cats updated",
		"content": "Cats are still mammals",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decode[chunkResponse](t, rec)
	if updated.Chunk.Title != "Cats updated" || updated.Chunk.UpdatedAt == nil {
		t.Fatalf("updated = %+v", updated.Chunk)
	}

	rec = doJSON(t, s, http.MethodDelete, "/chunks/"+created.Chunk.ID, key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if dispatcher.ids[0] != created.Chunk.ID {
		t.Errorf("delete dispatched ids = %v", dispatcher.ids)
	}

	rec = doJSON(t, s, http.MethodGet, "/chunks/"+created.Chunk.ID, key, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
}

func TestChunkOwnershipIsEnforced(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	keyA := mintKey(t, st, "owner-a")
	keyB := mintKey(t, st, "owner-b")

	rec := doJSON(t, s, http.MethodPost, "/chunks", keyA, map[string]any{
		"title":   "Secret",
		"content": "owner-a only",
	})
	created := decode[chunkResponse](t, rec)

	// Another owner's chunk is indistinguishable from a missing one.
	rec = doJSON(t, s, http.MethodGet, "/chunks/"+created.Chunk.ID, keyB, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-owner get = %d, want 404", rec.Code)
	}
	rec = doJSON(t, s, http.MethodDelete, "/chunks/"+created.Chunk.ID, keyB, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-owner delete = %d, want 404", rec.Code)
	}
}

func TestChunkValidation(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	key := mintKey(t, st, "owner-a")

	rec := doJSON(t, s, http.MethodPost, "/chunks", key, map[string]any{"title": "", "content": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListChunksScopedToOwner(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	keyA := mintKey(t, st, "owner-a")
	keyB := mintKey(t, st, "owner-b")

	doJSON(t, s, http.MethodPost, "/chunks", keyA, map[string]any{"title": "A1", "content": "x"})
	doJSON(t, s, http.MethodPost, "/chunks", keyA, map[string]any{"title": "A2", "content": "x"})
	doJSON(t, s, http.MethodPost, "/chunks", keyB, map[string]any{"title": "B1", "content": "x"})

	rec := doJSON(t, s, http.MethodGet, "/chunks", keyA, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decode[map[string]any](t, rec)
	if int(list["count"].(float64)) != 2 {
		t.Fatalf("count = %v, want 2", list["count"])
	}
}

func TestContentSyncWebhook(t *testing.T) {
	s, _, _, dispatcher := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/webhooks/content-sync", internalSecret, map[string]any{
		"chunk_ids": []string{"c1", "c2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]string](t, rec)
	if resp["jobId"] != "job-1" || resp["status"] != "queued" {
		t.Fatalf("response = %v", resp)
	}
	if len(dispatcher.ids) != 2 {
		t.Errorf("dispatched ids = %v", dispatcher.ids)
	}
}

func TestContentSyncWebhookAuth(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		bearer string
	}{
		{"missing", ""},
		{"wrong secret", "not-the-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/webhooks/content-sync", tt.bearer, map[string]any{
				"chunk_ids": []string{"c1"},
			})
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestContentSyncWebhookValidation(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/webhooks/content-sync", internalSecret, map[string]any{
		"chunk_ids": []string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestContentSyncWebhookEnqueueFailure(t *testing.T) {
	s, _, _, dispatcher := newTestServer(t)
	dispatcher.err = errors.New("redis refused")

	rec := doJSON(t, s, http.MethodPost, "/webhooks/content-sync", internalSecret, map[string]any{
		"chunk_ids": []string{"c1"},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestChunkWriteEnqueueFailureIsSurfaced(t *testing.T) {
	s, st, _, dispatcher := newTestServer(t)
	key := mintKey(t, st, "owner-a")

	// Seed a chunk while the dispatcher is still healthy.
	rec := doJSON(t, s, http.MethodPost, "/chunks", key, map[string]any{
		"title":   "Cats",
		"content": "Cats are mammals",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed create status = %d", rec.Code)
	}
	seeded := decode[chunkResponse](t, rec)

	dispatcher.err = errors.New("redis refused")

	rec = doJSON(t, s, http.MethodPost, "/chunks", key, map[string]any{
		"title":   "Dogs",
		"content": "Dogs are mammals",
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("create status = %d, want 502", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPut, "/chunks/"+seeded.Chunk.ID, key, map[string]any{
		"title":   "Cats updated",
		"content": "still mammals",
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("update status = %d, want 502", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/chunks/"+seeded.Chunk.ID, key, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("delete status = %d, want 502", rec.Code)
	}
}

func TestCreateAPIKeyEndpoint(t *testing.T) {
	s, st, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/keys", internalSecret, map[string]any{
		"owner_id": "owner-a",
		"label":    "ci",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]string](t, rec)
	key := resp["key"]
	if len(key) < 4 || key[:3] != "hb_" {
		t.Fatalf("key = %q, want hb_ prefix", key)
	}

	// The minted key authenticates.
	stored, err := st.GetAPIKeyByHash(context.Background(), store.HashKey(key))
	if err != nil {
		t.Fatalf("looking up minted key: %v", err)
	}
	if stored.OwnerID != "owner-a" {
		t.Errorf("owner = %q", stored.OwnerID)
	}

	rec = doJSON(t, s, http.MethodPost, "/keys", "wrong", map[string]any{"owner_id": "owner-a"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
