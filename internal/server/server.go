// Package server exposes the HTTP surface: authenticated search, chunk
// CRUD, api-key minting, the internal content-sync webhook, and health.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/humpbacklabs/humpback/internal/chunk"
	"github.com/humpbacklabs/humpback/internal/store"
)

// Searcher runs an authenticated search request.
type Searcher interface {
	Search(ctx context.Context, req chunk.SearchRequest) (*chunk.SearchResponse, error)
}

// Dispatcher enqueues content-sync jobs after store writes.
type Dispatcher interface {
	Enqueue(ctx context.Context, chunkIDs []string) (string, error)
}

// Server wires the echo router over the store, the search pipeline, and
// the sync dispatcher.
type Server struct {
	echo           *echo.Echo
	store          store.Store
	searcher       Searcher
	dispatcher     Dispatcher
	internalSecret string
	log            *slog.Logger
}

// New builds the server and registers all routes.
func New(st store.Store, searcher Searcher, dispatcher Dispatcher, internalSecret string, log *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:           e,
		store:          st,
		searcher:       searcher,
		dispatcher:     dispatcher,
		internalSecret: internalSecret,
		log:            log.With("component", "server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.POST("/webhooks/content-sync", s.handleContentSync)

	authed := s.echo.Group("", s.apiKeyAuth())
	authed.POST("/search", s.handleSearch)
	authed.POST("/chunks", s.handleCreateChunk)
	authed.GET("/chunks", s.handleListChunks)
	authed.GET("/chunks/:id", s.handleGetChunk)
	authed.PUT("/chunks/:id", s.handleUpdateChunk)
	authed.DELETE("/chunks/:id", s.handleDeleteChunk)

	// Key minting is an operator action, guarded by the internal secret
	// rather than an api key.
	s.echo.POST("/keys", s.handleCreateAPIKey)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("http server starting", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}
