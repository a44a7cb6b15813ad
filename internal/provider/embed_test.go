package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func embedHandler(t *testing.T, fn func(req embedRequest) any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(fn(req))
	}
}

func newTestEmbedClient(t *testing.T, srv *httptest.Server) *EmbedClient {
	t.Helper()
	c, err := NewEmbedClient(EmbedConfig{
		BaseURL:    srv.URL,
		APIKey:     "sk-test",
		Model:      "text-embedding-3-small",
		MaxRetries: 3,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewEmbedClient: %v", err)
	}
	return c
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, func(req embedRequest) any {
		// Answer out of order on purpose; the client must realign by index.
		return map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		}
	}))
	defer srv.Close()

	c := newTestEmbedClient(t, srv)
	got, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got[0][0] != 0.1 || got[1][0] != 0.2 {
		t.Errorf("order not preserved: %v", got)
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, func(req embedRequest) any {
		return map[string]any{"data": []map[string]any{{"index": 0, "embedding": []float32{0.1}}}}
	}))
	defer srv.Close()

	c := newTestEmbedClient(t, srv)
	if _, err := c.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for count mismatch")
	}
}

func TestEmbedBatchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.5}}},
		})
	}))
	defer srv.Close()

	c := newTestEmbedClient(t, srv)
	got, err := c.EmbedBatch(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 1 || got[0][0] != 0.5 {
		t.Errorf("unexpected result %v", got)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestEmbedBatchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewEmbedClient(EmbedConfig{
		BaseURL:    srv.URL,
		Model:      "m",
		MaxRetries: 2,
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("NewEmbedClient: %v", err)
	}

	_, err = c.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected failure")
	}
	var provErr *Error
	if !errors.As(err, &provErr) || provErr.Provider != "embedding" {
		t.Errorf("expected embedding provider error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestEmbedBatchRejectsEmptyInput(t *testing.T) {
	c, err := NewEmbedClient(EmbedConfig{BaseURL: "http://127.0.0.1:1", Model: "m"})
	if err != nil {
		t.Fatalf("NewEmbedClient: %v", err)
	}
	if _, err := c.EmbedBatch(context.Background(), []string{"ok", ""}); err == nil {
		t.Fatal("expected error for empty text")
	}
	got, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("empty batch should be a no-op, got %v / %v", got, err)
	}
}
