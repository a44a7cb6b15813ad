// Package syncjob keeps the vector and keyword indexes consistent with
// the system of record. The Dispatcher enqueues content-sync jobs on a
// durable Redis-backed queue (asynq); the Worker consumes them,
// re-reads current truth, and reconciles both indexes.
package syncjob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeContentSync is the queue task type for index reconciliation.
const TaskTypeContentSync = "content-sync"

// QueueName isolates sync traffic from any future task types.
const QueueName = "content-sync"

// Payload is the serialized job body: the chunk ids to reconcile.
type Payload struct {
	ChunkIDs []string `json:"chunk_ids"`
}

// RetryPolicy makes the queue's retry behavior explicit instead of
// burying it in handler annotations.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// DefaultRetryPolicy matches the pipeline contract: 3 attempts with
// exponential backoff starting at 1 second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

// RetryDelayFunc adapts the policy to asynq's server config. asynq passes
// the zero-based count of completed attempts.
func (p RetryPolicy) RetryDelayFunc(n int, _ error, _ *asynq.Task) time.Duration {
	return p.Backoff(n)
}

// Enqueuer is the narrow queue interface the dispatcher needs; satisfied
// by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher enqueues sync jobs. It is invoked synchronously after a
// successful store write; enqueue failures are returned to that caller,
// never swallowed, because a missed job is a durable consistency gap.
type Dispatcher struct {
	queue  Enqueuer
	policy RetryPolicy
	log    *slog.Logger
}

// NewDispatcher builds a dispatcher on a queue client.
func NewDispatcher(queue Enqueuer, policy RetryPolicy, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		policy: policy,
		log:    log.With("component", "dispatcher"),
	}
}

// Enqueue schedules a sync job for the given chunk ids and returns the
// job id. Ids are deduplicated within the call; duplicates across calls
// are harmless because the worker's reconciliation is idempotent.
func (d *Dispatcher) Enqueue(ctx context.Context, chunkIDs []string) (string, error) {
	ids := dedupeIDs(chunkIDs)
	if len(ids) == 0 {
		return "", fmt.Errorf("no chunk ids to sync")
	}

	payload, err := json.Marshal(Payload{ChunkIDs: ids})
	if err != nil {
		return "", fmt.Errorf("marshaling sync payload: %w", err)
	}

	info, err := d.queue.EnqueueContext(ctx, asynq.NewTask(TaskTypeContentSync, payload),
		asynq.Queue(QueueName),
		asynq.MaxRetry(d.policy.MaxAttempts-1),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("enqueueing sync job: %w", err)
	}

	d.log.Info("sync job queued", "job_id", info.ID, "chunk_ids", ids)
	return info.ID, nil
}

// dedupeIDs removes duplicates and empty strings, preserving first-seen
// order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
