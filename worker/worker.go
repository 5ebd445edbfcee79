package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/metrics"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

const (
	// DefaultPollDelay between claim cycles.
	DefaultPollDelay = 5 * time.Second
	// DefaultTaskTimeout is the hard wall-clock budget per task.
	DefaultTaskTimeout = 30 * time.Minute
	// DefaultMaxTasks per claimed batch.
	DefaultMaxTasks = 10

	// reportTimeout bounds the complete/fail call after a handler finishes.
	reportTimeout = 30 * time.Second
)

// Handler executes one claimed task. The context carries the task's
// deadline; a handler that outlives it keeps running in the background and
// must be idempotent, because the task will be retried.
type Handler func(ctx context.Context, task *storage.ClaimedTask) error

// Config ...
type Config struct {
	Store storage.TaskStore

	// WorkerID identifies this process's claims. Generated when empty.
	WorkerID string

	// TaskTypes restricts what this worker claims. When empty, the set of
	// registered handler types is used.
	TaskTypes []string

	MaxTasks    int
	PollDelay   time.Duration
	TaskTimeout time.Duration
}

// Worker - one process's polling execution loop. All cross-process
// coordination is delegated to the store's atomic claim; the only state
// here is the handler registry and the stop flag.
type Worker struct {
	cfg Config

	mu       sync.Mutex
	handlers map[string]Handler

	stopc    chan struct{}
	stopOnce sync.Once
}

// New ...
func New(cfg Config) *Worker {
	if cfg.WorkerID == "" {
		cfg.WorkerID = DefaultWorkerID()
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultMaxTasks
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = DefaultPollDelay
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	return &Worker{
		cfg:      cfg,
		handlers: make(map[string]Handler),
		stopc:    make(chan struct{}),
	}
}

// DefaultWorkerID - hostname plus a random suffix.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s-%s", host, hex.EncodeToString(b))
}

// RegisterHandler associates the handler with taskType. Re-registering a
// type overwrites the previous handler.
func (wrk *Worker) RegisterHandler(taskType string, fn Handler) {
	wrk.mu.Lock()
	wrk.handlers[taskType] = fn
	wrk.mu.Unlock()
}

// Stop requests a graceful drain: the in-flight task finishes, no further
// tasks are dispatched, and Start returns.
func (wrk *Worker) Stop() {
	wrk.stopOnce.Do(func() {
		close(wrk.stopc)
	})
}

func (wrk *Worker) stopped() bool {
	select {
	case <-wrk.stopc:
		return true
	default:
		return false
	}
}

func (wrk *Worker) handler(taskType string) (Handler, bool) {
	wrk.mu.Lock()
	defer wrk.mu.Unlock()
	fn, ok := wrk.handlers[taskType]
	return fn, ok
}

func (wrk *Worker) claimTypes() []string {
	if len(wrk.cfg.TaskTypes) > 0 {
		return wrk.cfg.TaskTypes
	}
	wrk.mu.Lock()
	defer wrk.mu.Unlock()
	types := make([]string, 0, len(wrk.handlers))
	for taskType := range wrk.handlers {
		types = append(types, taskType)
	}
	sort.Strings(types)
	return types
}

// Start blocks in the poll loop until Stop is called or ctx is cancelled.
func (wrk *Worker) Start(ctx context.Context) {
	log.WithFields(log.Fields{
		"event":  "start_worker",
		"worker": wrk.cfg.WorkerID,
	}).Info("polling every ", wrk.cfg.PollDelay)
	// Claim first, then sleep, so a freshly started worker picks up
	// waiting tasks without sitting out a full poll delay.
	for {
		wrk.poll(ctx)
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"event":  "ctx_canceled",
				"worker": wrk.cfg.WorkerID,
			}).Info("exit poll loop")
			return
		case <-wrk.stopc:
			log.WithFields(log.Fields{
				"event":  "stop_requested",
				"worker": wrk.cfg.WorkerID,
			}).Info("exit poll loop")
			return
		case <-time.After(wrk.cfg.PollDelay):
		}
	}
}

// poll claims one batch and dispatches it sequentially in claim order.
// A store error costs one cycle, never the loop.
func (wrk *Worker) poll(ctx context.Context) {
	types := wrk.claimTypes()
	if len(types) == 0 {
		return
	}
	tasks, err := wrk.cfg.Store.Claim(ctx, wrk.cfg.WorkerID, types, wrk.cfg.MaxTasks)
	if err != nil {
		metrics.PollErrors.Inc()
		log.WithFields(log.Fields{
			"event":  "claim_failed",
			"worker": wrk.cfg.WorkerID,
		}).Error(err)
		return
	}
	if len(tasks) == 0 {
		return
	}
	metrics.TasksClaimed.Add(float64(len(tasks)))
	log.WithFields(log.Fields{
		"event":  "claim_batch",
		"worker": wrk.cfg.WorkerID,
		"count":  len(tasks),
	}).Debug("claimed batch")
	for i := range tasks {
		if wrk.stopped() {
			// Undispatched claims are left for stale-claim recovery.
			log.WithFields(log.Fields{
				"event":     "drain_stop",
				"worker":    wrk.cfg.WorkerID,
				"abandoned": len(tasks) - i,
			}).Warn("stop requested mid-batch")
			return
		}
		wrk.execute(ctx, &tasks[i])
	}
}

func (wrk *Worker) execute(ctx context.Context, task *storage.ClaimedTask) {
	fn, ok := wrk.handler(task.TaskType)
	if !ok {
		// A missing handler is a misconfiguration, not a transient fault.
		log.WithFields(log.Fields{
			"event":  "handler_not_found",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
			"type":   task.TaskType,
		}).Error("no handler registered")
		wrk.reportFailure(task, "no handler registered for task type "+task.TaskType, false)
		return
	}

	if ok, err := wrk.cfg.Store.MarkProcessing(ctx, task.ID); err != nil {
		log.WithFields(log.Fields{
			"event":  "mark_processing_failed",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
		}).Error(err)
	} else if !ok {
		log.WithFields(log.Fields{
			"event":  "claim_lost",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
		}).Warn("task no longer owned, skipping")
		return
	}

	start := time.Now()
	tctx, cancel := context.WithTimeout(context.Background(), wrk.cfg.TaskTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		errc <- fn(tctx, task)
	}()

	select {
	case err := <-errc:
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			log.WithFields(log.Fields{
				"event":   "task_failed",
				"worker":  wrk.cfg.WorkerID,
				"taskID":  task.ID,
				"type":    task.TaskType,
				"attempt": task.RetryCount + 1,
			}).Error(err)
			wrk.reportFailure(task, err.Error(), true)
			return
		}
		wrk.reportSuccess(task)
	case <-tctx.Done():
		// The handler goroutine is not interrupted; its side effects stand.
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
		log.WithFields(log.Fields{
			"event":  "task_timeout",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
			"type":   task.TaskType,
		}).Error("handler exceeded ", wrk.cfg.TaskTimeout)
		wrk.reportFailure(task, fmt.Sprintf("task timed out after %s", wrk.cfg.TaskTimeout), true)
	}
}

// reportSuccess and reportFailure use a fresh context so a cancelled poll
// context cannot lose the result of a finished handler.
func (wrk *Worker) reportSuccess(task *storage.ClaimedTask) {
	rctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	ok, err := wrk.cfg.Store.Complete(rctx, task.ID)
	if err != nil {
		log.WithFields(log.Fields{
			"event":  "complete_failed",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
		}).Error(err)
		return
	}
	if !ok {
		log.WithFields(log.Fields{
			"event":  "claim_lost",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
		}).Warn("completion rejected, task no longer owned")
		return
	}
	metrics.TasksCompleted.Inc()
	log.WithFields(log.Fields{
		"event":  "task_completed",
		"worker": wrk.cfg.WorkerID,
		"taskID": task.ID,
		"type":   task.TaskType,
	}).Info("task completed")
}

func (wrk *Worker) reportFailure(task *storage.ClaimedTask, message string, shouldRetry bool) {
	rctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	ok, err := wrk.cfg.Store.Fail(rctx, task.ID, message, shouldRetry)
	if err != nil {
		log.WithFields(log.Fields{
			"event":  "fail_transition_failed",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
		}).Error(err)
		return
	}
	if !ok {
		log.WithFields(log.Fields{
			"event":  "claim_lost",
			"worker": wrk.cfg.WorkerID,
			"taskID": task.ID,
		}).Warn("failure rejected, task no longer owned")
		return
	}
	metrics.TasksFailed.WithLabelValues(fmt.Sprintf("%t", shouldRetry)).Inc()
}
