package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reranker scores (query, document) pairs. Scores are in [0,1], one per
// document, order-preserving.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}

// RerankConfig configures the Cohere rerank client.
type RerankConfig struct {
	BaseURL string // e.g. https://api.cohere.com
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RerankClient implements Reranker against the Cohere v2 rerank API.
type RerankClient struct {
	config RerankConfig
	http   *http.Client
}

// NewRerankClient validates the config and builds a client.
func NewRerankClient(cfg RerankConfig) (*RerankClient, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("rerank base url and model are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &RerankClient{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns one relevance score per document, aligned with the input
// order regardless of the order the API ranks them in.
func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if query == "" {
		return nil, wrapErr("rerank", fmt.Errorf("query is required"))
	}
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.config.Model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, wrapErr("rerank", fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v2/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, wrapErr("rerank", fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, wrapErr("rerank", fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr("rerank", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapErr("rerank", &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)})
	}

	var rerankResp rerankResponse
	if err := json.Unmarshal(respBody, &rerankResp); err != nil {
		return nil, wrapErr("rerank", fmt.Errorf("parsing response: %w", err))
	}
	if len(rerankResp.Results) != len(documents) {
		return nil, wrapErr("rerank", fmt.Errorf("expected %d scores, got %d", len(documents), len(rerankResp.Results)))
	}

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	for _, r := range rerankResp.Results {
		if r.Index < 0 || r.Index >= len(scores) || seen[r.Index] {
			return nil, wrapErr("rerank", fmt.Errorf("invalid result index %d", r.Index))
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	return scores, nil
}
