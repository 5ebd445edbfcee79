package worker

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/metrics"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

// HandleEcho logs the payload and succeeds. Used for smoke tests and as a
// liveness probe task.
func HandleEcho(_ context.Context, task *storage.ClaimedTask) error {
	log.WithFields(log.Fields{
		"event":  "echo_task",
		"taskID": task.ID,
		"type":   task.TaskType,
	}).Info(string(task.Payload))
	return nil
}

// NewRetentionHandler runs the terminal-row retention sweep when a cleanup
// task is scheduled through the queue itself. daysToKeep from the payload
// overrides the configured default when present.
func NewRetentionHandler(store storage.TaskStore, defaultDaysToKeep int) Handler {
	return func(ctx context.Context, task *storage.ClaimedTask) error {
		var params struct {
			DaysToKeep int `json:"days_to_keep"`
		}
		if len(task.Payload) > 0 {
			if err := json.Unmarshal(task.Payload, &params); err != nil {
				return err
			}
		}
		days := params.DaysToKeep
		if days <= 0 {
			days = defaultDaysToKeep
		}
		removed, err := store.Cleanup(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		metrics.RowsCleaned.Add(float64(removed))
		log.WithFields(log.Fields{
			"event":  "retention_sweep",
			"taskID": task.ID,
			"days":   days,
		}).Info("cleaned rows: ", removed)
		return nil
	}
}
