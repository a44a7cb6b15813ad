package syncjob

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

type fakeEnqueuer struct {
	task *asynq.Task
	err  error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.task = task
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "job-42", Queue: QueueName}, nil
}

func TestEnqueueDedupesAndReturnsJobID(t *testing.T) {
	queue := &fakeEnqueuer{}
	d := NewDispatcher(queue, DefaultRetryPolicy(), testLogger())

	jobID, err := d.Enqueue(context.Background(), []string{"c1", "c2", "c1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if jobID != "job-42" {
		t.Errorf("job id = %q, want job-42", jobID)
	}
	if queue.task.Type() != TaskTypeContentSync {
		t.Errorf("task type = %q", queue.task.Type())
	}

	var payload Payload
	if err := json.Unmarshal(queue.task.Payload(), &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if len(payload.ChunkIDs) != 2 || payload.ChunkIDs[0] != "c1" || payload.ChunkIDs[1] != "c2" {
		t.Errorf("chunk ids = %v, want [c1 c2]", payload.ChunkIDs)
	}
}

func TestEnqueueSurfacesQueueFailure(t *testing.T) {
	queue := &fakeEnqueuer{err: errors.New("redis refused")}
	d := NewDispatcher(queue, DefaultRetryPolicy(), testLogger())

	if _, err := d.Enqueue(context.Background(), []string{"c1"}); err == nil {
		t.Fatal("want enqueue failure to surface")
	}
}

func TestEnqueueRejectsEmptyIDs(t *testing.T) {
	d := NewDispatcher(&fakeEnqueuer{}, DefaultRetryPolicy(), testLogger())
	if _, err := d.Enqueue(context.Background(), []string{"", ""}); err == nil {
		t.Fatal("want error for empty id set")
	}
}

func TestDefaultRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", p.MaxAttempts)
	}
	for attempt, want := range map[int]time.Duration{
		0: time.Second,
		1: 2 * time.Second,
		2: 4 * time.Second,
	} {
		if got := p.RetryDelayFunc(attempt, nil, nil); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
