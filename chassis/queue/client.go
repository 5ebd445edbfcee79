package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/damir5/kosarica-sub003/chassis/metrics"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

// Client - typed scheduling facade over a TaskStore. Both backend runtimes
// go through this surface; ownership decisions stay inside the store's
// atomic transitions.
type Client struct {
	store storage.TaskStore
}

// NewClient ...
func NewClient(store storage.TaskStore) *Client {
	return &Client{store: store}
}

// ScheduleOption - scheduling hints applied on top of the defaults
// (priority 0, eligible now, 3 retries).
type ScheduleOption func(*storage.TaskSpec)

// WithPriority ...
func WithPriority(priority int) ScheduleOption {
	return func(spec *storage.TaskSpec) {
		spec.Priority = priority
	}
}

// WithScheduledFor ...
func WithScheduledFor(at time.Time) ScheduleOption {
	return func(spec *storage.TaskSpec) {
		spec.ScheduledFor = at
	}
}

// WithMaxRetries ...
func WithMaxRetries(n int) ScheduleOption {
	return func(spec *storage.TaskSpec) {
		spec.MaxRetries = n
	}
}

// Schedule marshals payload to JSON and inserts a pending task.
func (cli *Client) Schedule(ctx context.Context, taskType string, payload interface{}, opts ...ScheduleOption) (uuid.UUID, error) {
	spec := storage.TaskSpec{
		TaskType:   taskType,
		MaxRetries: storage.DefaultMaxRetries,
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return uuid.Nil, err
		}
		spec.Payload = body
	}
	for _, opt := range opts {
		opt(&spec)
	}
	id, err := cli.store.Schedule(ctx, spec)
	if err != nil {
		return uuid.Nil, err
	}
	metrics.TasksScheduled.WithLabelValues(taskType).Inc()
	return id, nil
}

// Get ...
func (cli *Client) Get(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	return cli.store.Get(ctx, id)
}

// Claim ...
func (cli *Client) Claim(ctx context.Context, workerID string, taskTypes []string, maxCount int) ([]storage.ClaimedTask, error) {
	return cli.store.Claim(ctx, workerID, taskTypes, maxCount)
}

// Complete ...
func (cli *Client) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	return cli.store.Complete(ctx, id)
}

// Fail ...
func (cli *Client) Fail(ctx context.Context, id uuid.UUID, errorMessage string, shouldRetry bool) (bool, error) {
	return cli.store.Fail(ctx, id, errorMessage, shouldRetry)
}

// Cancel ...
func (cli *Client) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return cli.store.Cancel(ctx, id)
}
