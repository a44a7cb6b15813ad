package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Rewriter transforms a raw user query into a retrieval-friendly phrase.
// Best-effort: callers fall back to the raw query on any error.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}

const rewriteSystemPrompt = "Rewrite the user's search query into a single keyword-dense phrase " +
	"that preserves the original intent and is well suited for semantic search. " +
	"Respond with the rewritten phrase only, no quotes, no explanation."

// RewriteConfig configures the query-rewrite client.
type RewriteConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RewriteClient implements Rewriter against an OpenAI-compatible
// /chat/completions endpoint.
type RewriteClient struct {
	config RewriteConfig
	http   *http.Client
}

// NewRewriteClient validates the config and builds a client.
func NewRewriteClient(cfg RewriteConfig) (*RewriteClient, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("rewrite base url and model are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &RewriteClient{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Rewrite produces the transformed query. Empty or failed completions are
// errors so the caller can fall back to the raw query.
func (c *RewriteClient) Rewrite(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", wrapErr("rewrite", fmt.Errorf("query is empty"))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: rewriteSystemPrompt},
			{Role: "user", Content: query},
		},
		Temperature: 0,
		MaxTokens:   128,
	})
	if err != nil {
		return "", wrapErr("rewrite", fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", wrapErr("rewrite", fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", wrapErr("rewrite", fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wrapErr("rewrite", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", wrapErr("rewrite", &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)})
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", wrapErr("rewrite", fmt.Errorf("parsing response: %w", err))
	}
	if chatResp.Error != nil {
		return "", wrapErr("rewrite", fmt.Errorf("api error: %s", chatResp.Error.Message))
	}
	if len(chatResp.Choices) == 0 {
		return "", wrapErr("rewrite", fmt.Errorf("empty response"))
	}

	rewritten := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if rewritten == "" {
		return "", wrapErr("rewrite", fmt.Errorf("blank completion"))
	}
	return rewritten, nil
}
