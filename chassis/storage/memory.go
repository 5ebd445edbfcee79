package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/damir5/kosarica-sub003/chassis/backoff"
)

// MemoryStore - in-process TaskStore with the same transition semantics as
// the Postgres store. Claim atomicity is a single mutex instead of row
// locks. Backs local development and the test suite.
type MemoryStore struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*Task
	backoff backoff.Policy
}

// NewMemoryStore - a nil policy falls back to the default linear schedule.
func NewMemoryStore(policy backoff.Policy) *MemoryStore {
	if policy == nil {
		policy = backoff.Default()
	}
	return &MemoryStore{
		tasks:   make(map[uuid.UUID]*Task),
		backoff: policy,
	}
}

// Schedule ...
func (store *MemoryStore) Schedule(_ context.Context, spec TaskSpec) (uuid.UUID, error) {
	if err := spec.validate(); err != nil {
		return uuid.Nil, err
	}
	now := time.Now()
	scheduledFor := spec.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	payload := spec.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	task := &Task{
		ID:           uuid.New(),
		TaskType:     spec.TaskType,
		Payload:      payload,
		Priority:     spec.Priority,
		Status:       StatusPending,
		ScheduledFor: scheduledFor,
		MaxRetries:   spec.MaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.mu.Lock()
	store.tasks[task.ID] = task
	store.mu.Unlock()
	return task.ID, nil
}

// Claim ...
func (store *MemoryStore) Claim(_ context.Context, workerID string, taskTypes []string, maxCount int) ([]ClaimedTask, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	now := time.Now()
	store.mu.Lock()
	defer store.mu.Unlock()

	var eligible []*Task
	for _, task := range store.tasks {
		if task.Status != StatusPending || task.ScheduledFor.After(now) {
			continue
		}
		if len(taskTypes) > 0 && !containsType(taskTypes, task.TaskType) {
			continue
		}
		eligible = append(eligible, task)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ScheduledFor.Before(eligible[j].ScheduledFor)
	})
	if len(eligible) > maxCount {
		eligible = eligible[:maxCount]
	}

	var claimed []ClaimedTask
	for _, task := range eligible {
		worker := workerID
		startedAt := now
		task.Status = StatusClaimed
		task.WorkerID = &worker
		task.StartedAt = &startedAt
		task.UpdatedAt = now
		claimed = append(claimed, ClaimedTask{
			ID:           task.ID,
			TaskType:     task.TaskType,
			Payload:      task.Payload,
			Priority:     task.Priority,
			ScheduledFor: task.ScheduledFor,
			RetryCount:   task.RetryCount,
			MaxRetries:   task.MaxRetries,
		})
	}
	return claimed, nil
}

// MarkProcessing ...
func (store *MemoryStore) MarkProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	task, ok := store.tasks[id]
	if !ok || task.Status != StatusClaimed {
		return false, nil
	}
	task.Status = StatusProcessing
	task.UpdatedAt = time.Now()
	return true, nil
}

// Complete ...
func (store *MemoryStore) Complete(_ context.Context, id uuid.UUID) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	task, ok := store.tasks[id]
	if !ok || (task.Status != StatusClaimed && task.Status != StatusProcessing) {
		return false, nil
	}
	now := time.Now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now
	return true, nil
}

// Fail ...
func (store *MemoryStore) Fail(_ context.Context, id uuid.UUID, errorMessage string, shouldRetry bool) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	task, ok := store.tasks[id]
	if !ok || (task.Status != StatusClaimed && task.Status != StatusProcessing) {
		return false, nil
	}
	now := time.Now()
	message := errorMessage
	task.ErrorMessage = &message
	task.UpdatedAt = now
	// The max_retries-th failure is terminal: only requeue while another
	// attempt would still be allowed afterwards.
	if shouldRetry && task.RetryCount+1 < task.MaxRetries {
		task.RetryCount++
		task.Status = StatusPending
		task.ScheduledFor = now.Add(store.backoff.Delay(task.RetryCount))
		task.WorkerID = nil
		task.StartedAt = nil
		return true, nil
	}
	task.Status = StatusFailed
	task.FailedAt = &now
	return true, nil
}

// Cancel ...
func (store *MemoryStore) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	task, ok := store.tasks[id]
	if !ok || task.Status.IsTerminal() {
		return false, nil
	}
	task.Status = StatusCancelled
	task.UpdatedAt = time.Now()
	return true, nil
}

// Get ...
func (store *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	task, ok := store.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	snapshot := *task
	return &snapshot, nil
}

// Cleanup ...
func (store *MemoryStore) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	store.mu.Lock()
	defer store.mu.Unlock()
	removed := 0
	for id, task := range store.tasks {
		if task.Status.IsTerminal() && task.UpdatedAt.Before(cutoff) {
			delete(store.tasks, id)
			removed++
		}
	}
	return removed, nil
}

// RecoverStale ...
func (store *MemoryStore) RecoverStale(_ context.Context, claimedFor time.Duration, batchSize int) (int, error) {
	now := time.Now()
	cutoff := now.Add(-claimedFor)
	store.mu.Lock()
	defer store.mu.Unlock()
	repaired := 0
	for _, task := range store.tasks {
		if repaired >= batchSize {
			break
		}
		if task.Status != StatusClaimed && task.Status != StatusProcessing {
			continue
		}
		if !task.UpdatedAt.Before(cutoff) {
			continue
		}
		message := "claim expired: worker never reported back"
		task.ErrorMessage = &message
		task.UpdatedAt = now
		if task.RetryCount+1 < task.MaxRetries {
			task.RetryCount++
			task.Status = StatusPending
			task.ScheduledFor = now.Add(store.backoff.Delay(task.RetryCount))
			task.WorkerID = nil
			task.StartedAt = nil
		} else {
			failedAt := now
			task.Status = StatusFailed
			task.FailedAt = &failedAt
		}
		repaired++
	}
	return repaired, nil
}

// Close ...
func (store *MemoryStore) Close() {}

func containsType(types []string, taskType string) bool {
	for _, t := range types {
		if t == taskType {
			return true
		}
	}
	return false
}
