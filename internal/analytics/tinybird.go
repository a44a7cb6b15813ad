// Package analytics publishes search telemetry to Tinybird's events API.
//
// Publishing is strictly fire-and-forget: events are queued to a
// background goroutine and delivery failures are logged, never returned.
// The search response path must not wait on, or fail because of, this
// sink.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Tinybird data source names.
const (
	DataSourceSearchSummary = "search_summary"
	DataSourceSearchResult  = "search_result"
)

// Sink accepts analytics events. Publish never blocks and never reports
// errors to the caller.
type Sink interface {
	Publish(dataSource string, events []map[string]any)
	Close()
}

// SearchSummaryEvent is the per-request summary row.
type SearchSummaryEvent struct {
	OwnerID          string  `json:"owner_id"`
	Query            string  `json:"query"`
	TransformedQuery string  `json:"transformed_query"`
	TotalResults     int     `json:"total_results"`
	TimeTaken        float64 `json:"time_taken"`
	Backfilled       bool    `json:"backfilled"`
	Timestamp        string  `json:"timestamp"`
}

// SearchResultEvent is one row per returned result.
type SearchResultEvent struct {
	OwnerID   string  `json:"owner_id"`
	Query     string  `json:"query"`
	ChunkID   string  `json:"chunk_id"`
	Score     float64 `json:"score"`
	Position  int     `json:"position"`
	Origin    string  `json:"origin"`
	Timestamp string  `json:"timestamp"`
}

// Event converts a summary to the generic event map.
func (e SearchSummaryEvent) Event() map[string]any {
	return toEvent(e)
}

// Event converts a result row to the generic event map.
func (e SearchResultEvent) Event() map[string]any {
	return toEvent(e)
}

func toEvent(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

type publishJob struct {
	dataSource string
	events     []map[string]any
}

// TinybirdSink implements Sink against the Tinybird /v0/events endpoint
// using NDJSON bodies. A nil or unconfigured sink is a no-op.
type TinybirdSink struct {
	endpoint string
	token    string
	client   *http.Client
	log      *slog.Logger

	mu     sync.Mutex
	queue  chan publishJob
	closed bool
	wg     sync.WaitGroup
}

// NewTinybirdSink builds a sink. Empty endpoint disables publishing.
func NewTinybirdSink(endpoint, token string, log *slog.Logger) *TinybirdSink {
	s := &TinybirdSink{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With("component", "analytics"),
	}
	if endpoint == "" {
		return s
	}
	s.queue = make(chan publishJob, 256)
	s.wg.Add(1)
	go s.run()
	return s
}

// Enabled reports whether an endpoint is configured.
func (s *TinybirdSink) Enabled() bool {
	return s.endpoint != ""
}

// Publish queues events for background delivery. If the queue is full the
// events are dropped with a warning; analytics never applies backpressure
// to the request path.
func (s *TinybirdSink) Publish(dataSource string, events []map[string]any) {
	if !s.Enabled() || len(events) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- publishJob{dataSource: dataSource, events: events}:
	default:
		s.log.Warn("dropping analytics events, queue full",
			"data_source", dataSource, "count", len(events))
	}
}

// Close stops accepting events and waits for queued deliveries to finish.
func (s *TinybirdSink) Close() {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *TinybirdSink) run() {
	defer s.wg.Done()
	for job := range s.queue {
		if err := s.send(job); err != nil {
			s.log.Warn("analytics delivery failed",
				"data_source", job.dataSource, "count", len(job.events), "error", err)
		}
	}
}

func (s *TinybirdSink) send(job publishJob) error {
	var buf bytes.Buffer
	for _, event := range job.events {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshaling event: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v0/events?name=%s", s.endpoint, url.QueryEscape(job.dataSource))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending events: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("events API returned %d", resp.StatusCode)
	}
	return nil
}
