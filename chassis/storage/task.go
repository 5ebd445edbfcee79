package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status - task's possible lifecycle states
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether a task in this status will never run again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

const (
	// DefaultMaxRetries applied when the scheduler gives no explicit limit.
	DefaultMaxRetries = 3

	// MinPriority and MaxPriority bound the scheduling hint.
	MinPriority = 0
	MaxPriority = 10
)

var (
	// ErrTaskNotFound is returned by Get for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidPriority is returned when a priority is outside [0, 10].
	ErrInvalidPriority = errors.New("priority out of range")
	// ErrEmptyTaskType is returned when scheduling without a task type.
	ErrEmptyTaskType = errors.New("task type must not be empty")
)

// Task - a full snapshot of one queue row.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	TaskType     string          `json:"task_type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Status       Status          `json:"status"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
	WorkerID     *string         `json:"worker_id,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TaskSpec - parameters for scheduling a new task. A zero ScheduledFor
// means eligible immediately.
type TaskSpec struct {
	TaskType     string
	Payload      json.RawMessage
	Priority     int
	ScheduledFor time.Time
	MaxRetries   int
}

func (spec *TaskSpec) validate() error {
	if spec.TaskType == "" {
		return ErrEmptyTaskType
	}
	if spec.Priority < MinPriority || spec.Priority > MaxPriority {
		return ErrInvalidPriority
	}
	if spec.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	return nil
}

// ClaimedTask - the slice of a task a worker needs to execute it.
type ClaimedTask struct {
	ID           uuid.UUID
	TaskType     string
	Payload      json.RawMessage
	Priority     int
	ScheduledFor time.Time
	RetryCount   int
	MaxRetries   int
}
