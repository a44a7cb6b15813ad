package syncjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/humpbacklabs/humpback/internal/chunk"
	"github.com/humpbacklabs/humpback/internal/index"
	"github.com/humpbacklabs/humpback/internal/provider"
)

// ChunkReader is the store surface the worker needs.
type ChunkReader interface {
	GetChunksByIDs(ctx context.Context, ids []string) ([]*chunk.Chunk, error)
}

// Worker reconciles the two indexes against the store. Each job re-reads
// current truth by id, so replaying a job or processing ids in any
// interleaving converges to the same index state.
type Worker struct {
	chunks   ChunkReader
	vector   index.Index
	keyword  index.Index
	embedder provider.Embedder
	log      *slog.Logger
}

// NewWorker wires a reconciliation worker.
func NewWorker(chunks ChunkReader, vector, keyword index.Index, embedder provider.Embedder, log *slog.Logger) *Worker {
	return &Worker{
		chunks:   chunks,
		vector:   vector,
		keyword:  keyword,
		embedder: embedder,
		log:      log.With("component", "sync-worker"),
	}
}

// ProcessTask implements asynq.Handler. A non-nil return fails the
// attempt; asynq retries per the configured policy and archives the job
// once attempts are exhausted.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A malformed payload will never succeed on retry.
		return fmt.Errorf("decoding sync payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.Sync(ctx, payload.ChunkIDs)
}

// Sync reconciles the given chunk ids: rows present in the store are
// re-embedded and upserted into both indexes; ids with no row are
// deleted from both. Any failed write fails the whole job so the retry
// replays it.
func (w *Worker) Sync(ctx context.Context, chunkIDs []string) error {
	ids := dedupeIDs(chunkIDs)
	if len(ids) == 0 {
		return nil
	}

	rows, err := w.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading chunks: %w", err)
	}

	existing := make(map[string]*chunk.Chunk, len(rows))
	for _, c := range rows {
		existing[c.ID] = c
	}
	var missing []string
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}

	if err := w.deleteMissing(ctx, missing); err != nil {
		return err
	}
	if len(rows) == 0 {
		w.log.Info("sync complete", "upserted", 0, "deleted", len(missing))
		return nil
	}
	if err := w.upsertExisting(ctx, rows); err != nil {
		return err
	}

	w.log.Info("sync complete", "upserted", len(rows), "deleted", len(missing))
	return nil
}

// deleteMissing removes ids from both indexes. Both deletes are always
// attempted; index.Delete treats absent ids as success, so replays of a
// partially failed job converge.
func (w *Worker) deleteMissing(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var vecErr, keyErr error
	var g errgroup.Group
	g.Go(func() error {
		vecErr = w.vector.Delete(ctx, ids)
		return nil
	})
	g.Go(func() error {
		keyErr = w.keyword.Delete(ctx, ids)
		return nil
	})
	g.Wait()

	if err := errors.Join(vecErr, keyErr); err != nil {
		return fmt.Errorf("deleting stale documents: %w", err)
	}
	return nil
}

// upsertExisting embeds the rows and writes both indexes concurrently.
// Embedding failure aborts the attempt before any write.
func (w *Worker) upsertExisting(ctx context.Context, rows []*chunk.Chunk) error {
	inputs := make([]string, len(rows))
	docs := make([]chunk.IndexedDocument, len(rows))
	for i, c := range rows {
		inputs[i] = chunk.EmbeddingInput(c.Title, c.Content)
		docs[i] = c.Document()
	}

	vectors, err := w.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(rows) {
		return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(rows))
	}

	var vecErr, keyErr error
	var g errgroup.Group
	g.Go(func() error {
		vecErr = w.vector.Upsert(ctx, docs, vectors)
		return nil
	})
	g.Go(func() error {
		keyErr = w.keyword.Upsert(ctx, docs, nil)
		return nil
	})
	g.Wait()

	if err := errors.Join(vecErr, keyErr); err != nil {
		return fmt.Errorf("upserting documents: %w", err)
	}
	return nil
}

// NewServer builds the asynq consumer around a worker with the given
// retry policy. Jobs that exhaust their attempts land in asynq's archive
// and are logged here at ERROR.
func NewServer(redis asynq.RedisConnOpt, worker *Worker, policy RetryPolicy, log *slog.Logger) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency:    4,
		Queues:         map[string]int{QueueName: 1},
		RetryDelayFunc: policy.RetryDelayFunc,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried >= maxRetry {
				log.Error("sync job exhausted retries", "type", task.Type(), "error", err)
				return
			}
			log.Warn("sync job attempt failed", "type", task.Type(), "attempt", retried+1, "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeContentSync, worker)
	return srv, mux
}
