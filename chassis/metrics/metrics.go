package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksScheduled counts tasks inserted into the queue.
	TasksScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Name:      "tasks_scheduled_total",
		Help:      "Number of tasks inserted into the queue.",
	}, []string{"task_type"})

	// TasksClaimed counts tasks handed out to workers.
	TasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Name:      "tasks_claimed_total",
		Help:      "Number of tasks claimed by this worker.",
	})

	// TasksCompleted counts successfully completed tasks.
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Name:      "tasks_completed_total",
		Help:      "Number of tasks completed by this worker.",
	})

	// TasksFailed counts failTask transitions, partitioned by whether the
	// failure was eligible for retry.
	TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Name:      "tasks_failed_total",
		Help:      "Number of task failures reported by this worker.",
	}, []string{"retryable"})

	// PollErrors counts claim cycles that errored against the store.
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Name:      "poll_errors_total",
		Help:      "Number of poll cycles that failed to claim due to a store error.",
	})

	// TaskDuration observes wall-clock handler execution time.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskqueue",
		Name:      "task_duration_seconds",
		Help:      "Handler execution time in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	// RowsCleaned counts terminal rows removed by the retention sweep.
	RowsCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Name:      "rows_cleaned_total",
		Help:      "Number of terminal task rows deleted by the retention sweep.",
	})

	// TasksRecovered counts stale claims returned to the queue.
	TasksRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Name:      "tasks_recovered_total",
		Help:      "Number of stale claimed tasks repaired by the janitor.",
	})
)
