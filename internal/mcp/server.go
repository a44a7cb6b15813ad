// Package mcp exposes hybrid search as a Model Context Protocol tool so
// agent runtimes can query the index over stdio. The tool mirrors the
// HTTP search contract, including api-key auth: every call presents a
// key, and the owner scope is resolved from it per call so revocation
// takes effect immediately.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/humpbacklabs/humpback/internal/chunk"
	"github.com/humpbacklabs/humpback/internal/search"
	"github.com/humpbacklabs/humpback/internal/store"
)

// Searcher runs an authenticated search request.
type Searcher interface {
	Search(ctx context.Context, req chunk.SearchRequest) (*chunk.SearchResponse, error)
}

// KeyResolver turns a presented credential hash into a stored key record.
type KeyResolver interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*store.APIKey, error)
}

// ServerConfig holds the collaborators for the MCP server.
type ServerConfig struct {
	Searcher Searcher
	Keys     KeyResolver
	Version  string
}

// NewServer creates the MCP server with the search tool registered.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Humpback",
		ver,
		server.WithToolCapabilities(false),
	)
	registerSearchTool(s, cfg.Searcher, cfg.Keys)
	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func registerSearchTool(s *server.MCPServer, searcher Searcher, keys KeyResolver) {
	tool := mcp.NewTool("humpback_search",
		mcp.WithDescription("Hybrid semantic + keyword search over synced content. Returns reranked, scored results scoped to the api key's workspace."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("api_key",
			mcp.Required(),
			mcp.Description("Workspace api key (hb_...)"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results (1-10, default 5)"),
		),
		mcp.WithBoolean("should_backfill",
			mcp.Description("Fill a shortfall with web search results (default: false)"),
		),
		mcp.WithBoolean("skip_transform",
			mcp.Description("Skip the query-rewrite step and search with the raw query (default: false)"),
		),
	)

	s.AddTool(tool, searchHandler(searcher, keys))
}

func searchHandler(searcher Searcher, keys KeyResolver) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		apiKey, err := req.RequireString("api_key")
		if err != nil {
			return mcp.NewToolResultError("api_key is required"), nil
		}
		key, err := keys.GetAPIKeyByHash(ctx, store.HashKey(apiKey))
		if err != nil {
			return mcp.NewToolResultError("unauthorized"), nil
		}

		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		maxResults := search.DefaultResults
		if v, err := req.RequireFloat("max_results"); err == nil {
			maxResults = int(v)
		}
		if maxResults < search.MinResults || maxResults > search.MaxResults {
			return mcp.NewToolResultError(fmt.Sprintf("max_results must be between %d and %d", search.MinResults, search.MaxResults)), nil
		}

		shouldBackfill, _ := req.RequireBool("should_backfill")
		skipTransform, _ := req.RequireBool("skip_transform")

		resp, err := searcher.Search(ctx, chunk.SearchRequest{
			Query:            query,
			MaxResults:       maxResults,
			AllowBackfill:    shouldBackfill,
			SkipQueryRewrite: skipTransform,
			OwnerID:          key.OwnerID,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(resp, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}
