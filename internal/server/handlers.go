package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/humpbacklabs/humpback/internal/chunk"
	"github.com/humpbacklabs/humpback/internal/search"
	"github.com/humpbacklabs/humpback/internal/store"
)

type searchRequest struct {
	Query          string `json:"query"`
	MaxResults     *int   `json:"max_results"`
	ShouldBackfill bool   `json:"should_backfill"`
	SkipTransform  bool   `json:"skip_transform"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var body searchRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Query == "" {
		return badRequest(c, "query is required")
	}
	maxResults := search.DefaultResults
	if body.MaxResults != nil {
		maxResults = *body.MaxResults
	}
	if maxResults < search.MinResults || maxResults > search.MaxResults {
		return badRequest(c, "max_results must be between 1 and 10")
	}

	resp, err := s.searcher.Search(c.Request().Context(), chunk.SearchRequest{
		Query:            body.Query,
		MaxResults:       maxResults,
		AllowBackfill:    body.ShouldBackfill,
		SkipQueryRewrite: body.SkipTransform,
		OwnerID:          ownerID(c),
	})
	if err != nil {
		s.log.Error("search failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "search failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

type chunkRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url"`
}

type chunkResponse struct {
	Chunk *chunk.Chunk `json:"chunk"`
	JobID string       `json:"job_id,omitempty"`
}

func (s *Server) handleCreateChunk(c echo.Context) error {
	var body chunkRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	row := &chunk.Chunk{
		OwnerID:   ownerID(c),
		Title:     body.Title,
		Content:   body.Content,
		SourceURL: body.SourceURL,
	}
	if err := row.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := s.store.CreateChunk(c.Request().Context(), row)
	if err != nil {
		s.log.Error("create chunk failed", "error", err)
		return internalError(c)
	}
	row.ID = id
	jobID, err := s.dispatchSync(c, []string{id})
	if err != nil {
		return syncNotQueued(c, []string{id})
	}
	return c.JSON(http.StatusCreated, chunkResponse{Chunk: row, JobID: jobID})
}

func (s *Server) handleUpdateChunk(c echo.Context) error {
	id := c.Param("id")
	existing, err := s.ownedChunk(c, id)
	if err != nil {
		return notFound(c)
	}

	var body chunkRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	existing.Title = body.Title
	existing.Content = body.Content
	existing.SourceURL = body.SourceURL
	if err := existing.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := s.store.UpdateChunk(c.Request().Context(), existing); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c)
		}
		s.log.Error("update chunk failed", "error", err, "id", id)
		return internalError(c)
	}
	jobID, err := s.dispatchSync(c, []string{id})
	if err != nil {
		return syncNotQueued(c, []string{id})
	}
	return c.JSON(http.StatusOK, chunkResponse{Chunk: existing, JobID: jobID})
}

func (s *Server) handleDeleteChunk(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.ownedChunk(c, id); err != nil {
		return notFound(c)
	}

	if err := s.store.DeleteChunk(c.Request().Context(), id); err != nil {
		s.log.Error("delete chunk failed", "error", err, "id", id)
		return internalError(c)
	}
	// The row is gone; the sync job observes that and deletes from both
	// indexes.
	jobID, err := s.dispatchSync(c, []string{id})
	if err != nil {
		return syncNotQueued(c, []string{id})
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "job_id": jobID})
}

func (s *Server) handleGetChunk(c echo.Context) error {
	row, err := s.ownedChunk(c, c.Param("id"))
	if err != nil {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, chunkResponse{Chunk: row})
}

func (s *Server) handleListChunks(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	rows, err := s.store.ListChunks(c.Request().Context(), ownerID(c), limit, offset)
	if err != nil {
		s.log.Error("list chunks failed", "error", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, map[string]any{"chunks": rows, "count": len(rows)})
}

// ownedChunk loads a chunk and verifies it belongs to the authenticated
// owner. Other owners' chunks look like misses.
func (s *Server) ownedChunk(c echo.Context, id string) (*chunk.Chunk, error) {
	row, err := s.store.GetChunk(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if row.OwnerID != ownerID(c) {
		return nil, store.ErrNotFound
	}
	return row, nil
}

// dispatchSync enqueues a sync job for ids just written. An enqueue
// failure leaves the store and the indexes durably inconsistent, so it
// is returned to the caller rather than swallowed.
func (s *Server) dispatchSync(c echo.Context, ids []string) (string, error) {
	jobID, err := s.dispatcher.Enqueue(c.Request().Context(), ids)
	if err != nil {
		s.log.Error("sync dispatch failed", "error", err, "chunk_ids", ids)
		return "", err
	}
	return jobID, nil
}

// syncNotQueued reports a write that landed in the store but whose sync
// job could not be enqueued. 502: the mutation did not fully commit.
func syncNotQueued(c echo.Context, ids []string) error {
	return c.JSON(http.StatusBadGateway, map[string]any{
		"error":     "chunk saved but sync could not be queued",
		"chunk_ids": ids,
	})
}

type webhookRequest struct {
	ChunkIDs []string `json:"chunk_ids"`
}

func (s *Server) handleContentSync(c echo.Context) error {
	if !s.checkInternalSecret(c) {
		return unauthorized(c)
	}
	var body webhookRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.ChunkIDs) == 0 {
		return badRequest(c, "chunk_ids is required")
	}

	jobID, err := s.dispatcher.Enqueue(c.Request().Context(), body.ChunkIDs)
	if err != nil {
		s.log.Error("webhook enqueue failed", "error", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, map[string]string{"jobId": jobID, "status": "queued"})
}

type createKeyRequest struct {
	OwnerID string `json:"owner_id"`
	Label   string `json:"label"`
}

func (s *Server) handleCreateAPIKey(c echo.Context) error {
	if !s.checkInternalSecret(c) {
		return unauthorized(c)
	}
	var body createKeyRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.OwnerID == "" {
		return badRequest(c, "owner_id is required")
	}

	plaintext, err := s.store.CreateAPIKey(c.Request().Context(), body.OwnerID, body.Label)
	if err != nil {
		s.log.Error("create api key failed", "error", err)
		return internalError(c)
	}
	// The plaintext key is shown exactly once.
	return c.JSON(http.StatusCreated, map[string]string{"key": plaintext, "owner_id": body.OwnerID})
}

func (s *Server) handleHealthz(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
