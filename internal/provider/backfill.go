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

// BackfillResult is one external web hit used to pad out a thin local
// result set.
type BackfillResult struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// BackfillSearcher fetches external web results. Best-effort: callers
// swallow failures and return fewer results instead.
type BackfillSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]BackfillResult, error)
}

// BackfillConfig configures the Tavily web-search client.
type BackfillConfig struct {
	BaseURL string // e.g. https://api.tavily.com
	APIKey  string
	Timeout time.Duration
}

// BackfillClient implements BackfillSearcher against the Tavily search
// API.
type BackfillClient struct {
	config BackfillConfig
	http   *http.Client
}

// NewBackfillClient validates the config and builds a client.
func NewBackfillClient(cfg BackfillConfig) (*BackfillClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backfill base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &BackfillClient{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type backfillRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type backfillResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search fetches up to maxResults external results for a query.
func (c *BackfillClient) Search(ctx context.Context, query string, maxResults int) ([]BackfillResult, error) {
	if query == "" {
		return nil, wrapErr("backfill", fmt.Errorf("query is required"))
	}
	if maxResults <= 0 {
		return nil, nil
	}

	body, err := json.Marshal(backfillRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, wrapErr("backfill", fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, wrapErr("backfill", fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, wrapErr("backfill", fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr("backfill", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapErr("backfill", &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)})
	}

	var backfillResp backfillResponse
	if err := json.Unmarshal(respBody, &backfillResp); err != nil {
		return nil, wrapErr("backfill", fmt.Errorf("parsing response: %w", err))
	}

	results := make([]BackfillResult, 0, len(backfillResp.Results))
	for _, r := range backfillResp.Results {
		results = append(results, BackfillResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
		if len(results) == maxResults {
			break
		}
	}
	return results, nil
}
