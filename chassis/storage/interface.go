package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Config - unified configuration for task store backends
type Config struct {
	DSN string
}

// TaskStore - the durable queue's atomic transitions. Claim, Complete and
// Fail are the only operations allowed to change status, worker_id or
// retry_count; each executes as a single atomic unit against the store.
//
// Complete, Fail, MarkProcessing and Cancel report ownership conflicts as a
// false result, never as an error: a caller that lost its claim has nothing
// to do.
type TaskStore interface {
	// Schedule inserts a new pending task and returns its id.
	Schedule(ctx context.Context, spec TaskSpec) (uuid.UUID, error)

	// Claim hands out up to maxCount eligible pending tasks to workerID,
	// ordered by priority (highest first) then scheduled time. Rows locked
	// by a concurrent claim are skipped, never waited on, so concurrent
	// claimers always receive disjoint sets. An empty result is not an
	// error. An empty taskTypes slice matches every type.
	Claim(ctx context.Context, workerID string, taskTypes []string, maxCount int) ([]ClaimedTask, error)

	// MarkProcessing moves a claimed task to processing. Optional: Complete
	// and Fail accept tasks in either state.
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	// Complete moves a claimed or processing task to completed.
	Complete(ctx context.Context, id uuid.UUID) (bool, error)

	// Fail records errorMessage and either re-queues the task with a
	// backoff delay (shouldRetry and retries left) or moves it to failed.
	Fail(ctx context.Context, id uuid.UUID, errorMessage string, shouldRetry bool) (bool, error)

	// Cancel administratively moves a non-terminal task to cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	// Get returns a snapshot of the task, or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Task, error)

	// Cleanup deletes terminal rows untouched for longer than olderThan.
	// Non-terminal rows are never deleted, regardless of age.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// RecoverStale re-queues (or terminally fails, when retries are
	// exhausted) claimed/processing rows whose worker has not reported
	// back within claimedFor. Covers workers that died mid-task.
	RecoverStale(ctx context.Context, claimedFor time.Duration, batchSize int) (int, error)

	// Close releases the underlying connections.
	Close()
}
