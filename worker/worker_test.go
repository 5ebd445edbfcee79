package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/damir5/kosarica-sub003/chassis/backoff"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

func newTestWorker(store storage.TaskStore, timeout time.Duration) *Worker {
	return New(Config{
		Store:       store,
		WorkerID:    "test-worker",
		MaxTasks:    10,
		PollDelay:   10 * time.Millisecond,
		TaskTimeout: timeout,
	})
}

func schedule(t *testing.T, store storage.TaskStore, taskType string) uuid.UUID {
	t.Helper()
	id, err := store.Schedule(context.Background(), storage.TaskSpec{
		TaskType:   taskType,
		Payload:    json.RawMessage(`{"k":"v"}`),
		MaxRetries: storage.DefaultMaxRetries,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return id
}

func waitForStatus(t *testing.T, store storage.TaskStore, id uuid.UUID, want storage.Status, within time.Duration) *storage.Task {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := store.Get(context.Background(), id)
	t.Fatalf("task %s never reached %s, stuck in %s", id, want, task.Status)
	return nil
}

// waitForRetry waits until the task has been failed and requeued at least
// once. Waiting on StatusPending alone is not enough: that is also the
// status the task starts in.
func waitForRetry(t *testing.T, store storage.TaskStore, id uuid.UUID, within time.Duration) *storage.Task {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if task.RetryCount > 0 {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := store.Get(context.Background(), id)
	t.Fatalf("task %s was never requeued, stuck in %s", id, task.Status)
	return nil
}

func TestWorkerCompletesTask(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	id := schedule(t, store, "ingestion")

	var calls int32
	wrk := newTestWorker(store, time.Minute)
	wrk.RegisterHandler("ingestion", func(_ context.Context, task *storage.ClaimedTask) error {
		atomic.AddInt32(&calls, 1)
		if string(task.Payload) != `{"k":"v"}` {
			t.Errorf("payload %s", task.Payload)
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()
	defer func() { wrk.Stop(); <-done }()

	task := waitForStatus(t, store, id, storage.StatusCompleted, 2*time.Second)
	if task.CompletedAt == nil {
		t.Error("completed task has no completed_at")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestStartClaimsBeforeFirstSleep(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	id := schedule(t, store, "ingestion")

	// With a poll delay far beyond the wait budget, the task can only
	// complete if the first claim happens before the sleep.
	wrk := New(Config{
		Store:       store,
		WorkerID:    "test-worker",
		MaxTasks:    10,
		PollDelay:   10 * time.Second,
		TaskTimeout: time.Minute,
	})
	wrk.RegisterHandler("ingestion", HandleEcho)

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()
	defer func() { wrk.Stop(); <-done }()

	waitForStatus(t, store, id, storage.StatusCompleted, 2*time.Second)
}

func TestMissingHandlerFailsPermanently(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	id := schedule(t, store, "geocode")

	wrk := New(Config{
		Store:     store,
		WorkerID:  "test-worker",
		TaskTypes: []string{"geocode", "ingestion"},
		PollDelay: 10 * time.Millisecond,
	})
	wrk.RegisterHandler("ingestion", HandleEcho)

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()
	defer func() { wrk.Stop(); <-done }()

	task := waitForStatus(t, store, id, storage.StatusFailed, 2*time.Second)
	if task.RetryCount != 0 {
		t.Errorf("retry count %d, want 0: missing handler must not retry", task.RetryCount)
	}
	if task.ErrorMessage == nil || *task.ErrorMessage == "" {
		t.Error("no error message recorded")
	}
}

func TestHandlerErrorIsRetried(t *testing.T) {
	store := storage.NewMemoryStore(backoff.Linear{Step: time.Minute})
	id := schedule(t, store, "ingestion")

	wrk := newTestWorker(store, time.Minute)
	wrk.RegisterHandler("ingestion", func(context.Context, *storage.ClaimedTask) error {
		return errors.New("upstream 502")
	})

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()
	defer func() { wrk.Stop(); <-done }()

	task := waitForRetry(t, store, id, 2*time.Second)
	if task.Status != storage.StatusPending {
		t.Errorf("status %s after retryable failure, want pending", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("retry count %d, want 1", task.RetryCount)
	}
	if task.ErrorMessage == nil || *task.ErrorMessage != "upstream 502" {
		t.Errorf("error message %v", task.ErrorMessage)
	}
}

func TestHandlerPanicIsRetried(t *testing.T) {
	store := storage.NewMemoryStore(backoff.Linear{Step: time.Minute})
	id := schedule(t, store, "ingestion")

	wrk := newTestWorker(store, time.Minute)
	wrk.RegisterHandler("ingestion", func(context.Context, *storage.ClaimedTask) error {
		panic("boom")
	})

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()
	defer func() { wrk.Stop(); <-done }()

	task := waitForRetry(t, store, id, 2*time.Second)
	if task.Status != storage.StatusPending {
		t.Errorf("status %s after panic, want pending", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("retry count %d, want 1", task.RetryCount)
	}
}

func TestHandlerTimeout(t *testing.T) {
	store := storage.NewMemoryStore(backoff.Linear{Step: time.Minute})
	id := schedule(t, store, "ingestion")

	started := make(chan struct{})
	wrk := newTestWorker(store, 100*time.Millisecond)
	wrk.RegisterHandler("ingestion", func(ctx context.Context, _ *storage.ClaimedTask) error {
		close(started)
		<-ctx.Done() // never resolves on its own
		return ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()
	defer func() { wrk.Stop(); <-done }()

	<-started
	// Not failed before the budget elapses.
	time.Sleep(30 * time.Millisecond)
	task, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != storage.StatusProcessing {
		t.Fatalf("status %s before timeout, want processing", task.Status)
	}

	task = waitForStatus(t, store, id, storage.StatusPending, 2*time.Second)
	if task.RetryCount != 1 {
		t.Errorf("retry count %d, want 1: timeout must be retryable", task.RetryCount)
	}
}

func TestStopDrainsInFlightTask(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	id := schedule(t, store, "ingestion")

	started := make(chan struct{})
	release := make(chan struct{})
	wrk := newTestWorker(store, time.Minute)
	wrk.RegisterHandler("ingestion", func(context.Context, *storage.ClaimedTask) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()

	<-started
	wrk.Stop()
	select {
	case <-done:
		t.Fatal("Start returned while a task was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after drain")
	}
	waitForStatus(t, store, id, storage.StatusCompleted, 2*time.Second)
}

func TestStopMidBatchAbandonsUndispatched(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	ids := []uuid.UUID{
		schedule(t, store, "ingestion"),
		schedule(t, store, "ingestion"),
		schedule(t, store, "ingestion"),
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	wrk := newTestWorker(store, time.Minute)
	wrk.RegisterHandler("ingestion", func(context.Context, *storage.ClaimedTask) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()

	<-started
	wrk.Stop()
	close(release)
	<-done

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("handler called %d times after mid-batch stop, want 1", got)
	}
	var completed, claimed int
	for _, id := range ids {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		switch task.Status {
		case storage.StatusCompleted:
			completed++
		case storage.StatusClaimed:
			claimed++
		default:
			t.Errorf("task %s in unexpected status %s", id, task.Status)
		}
	}
	if completed != 1 || claimed != 2 {
		t.Fatalf("completed=%d claimed=%d, want 1 and 2", completed, claimed)
	}

	// The abandoned claims belong to stale recovery now.
	repaired, err := store.RecoverStale(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if repaired != 2 {
		t.Fatalf("recovered %d claims, want 2", repaired)
	}
}

// flakyStore fails every Claim until healed.
type flakyStore struct {
	*storage.MemoryStore
	broken int32
}

func (fs *flakyStore) Claim(ctx context.Context, workerID string, taskTypes []string, maxCount int) ([]storage.ClaimedTask, error) {
	if atomic.LoadInt32(&fs.broken) == 1 {
		return nil, errors.New("connection refused")
	}
	return fs.MemoryStore.Claim(ctx, workerID, taskTypes, maxCount)
}

func TestPollErrorDoesNotCrashLoop(t *testing.T) {
	fs := &flakyStore{MemoryStore: storage.NewMemoryStore(nil), broken: 1}
	id := schedule(t, fs, "ingestion")

	wrk := newTestWorker(fs, time.Minute)
	wrk.RegisterHandler("ingestion", HandleEcho)

	done := make(chan struct{})
	go func() {
		wrk.Start(context.Background())
		close(done)
	}()
	defer func() { wrk.Stop(); <-done }()

	// Let a few failing polls happen, then heal the store.
	time.Sleep(50 * time.Millisecond)
	atomic.StoreInt32(&fs.broken, 0)

	waitForStatus(t, fs, id, storage.StatusCompleted, 2*time.Second)
}

func TestRetentionHandler(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	id := schedule(t, store, "cleanup")
	fn := NewRetentionHandler(store, 30)

	claimed, err := store.Claim(context.Background(), "w", nil, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	if err := fn(context.Background(), &claimed[0]); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ok, _ := store.Complete(context.Background(), id); !ok {
		t.Fatal("complete failed")
	}
}
