package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/damir5/kosarica-sub003/chassis/backoff"
)

// PGStore - Postgres-backed task store. Coordination between concurrent
// workers relies entirely on row locks: the claim statement reads with
// FOR UPDATE SKIP LOCKED, so two claimers can never receive the same row.
type PGStore struct {
	pool    *pgxpool.Pool
	backoff backoff.Policy
}

// InitPGStore connects the pool. A nil policy falls back to the default
// linear schedule.
func InitPGStore(cfg Config, policy backoff.Policy) (*PGStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = backoff.Default()
	}
	return &PGStore{
		pool:    pool,
		backoff: policy,
	}, nil
}

// EnsureSchema creates the task table and its indexes if missing.
func (store *PGStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`create table if not exists t_task (
			id            uuid primary key,
			task_type     text not null,
			payload       jsonb not null default '{}',
			priority      int not null default 0 check (priority between 0 and 10),
			status        text not null default 'pending' check (status in
				('pending', 'claimed', 'processing', 'completed', 'failed', 'cancelled')),
			scheduled_for timestamptz not null default now(),
			started_at    timestamptz,
			completed_at  timestamptz,
			failed_at     timestamptz,
			worker_id     text,
			retry_count   int not null default 0,
			max_retries   int not null default 3,
			error_message text,
			created_at    timestamptz not null default now(),
			updated_at    timestamptz not null default now()
		)`,
		`create index if not exists idx_task_pending
			on t_task (priority desc, scheduled_for asc) where status = 'pending'`,
		`create index if not exists idx_task_status_updated on t_task (status, updated_at)`,
	}
	for _, stmt := range statements {
		if _, err := store.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Schedule ...
func (store *PGStore) Schedule(ctx context.Context, spec TaskSpec) (uuid.UUID, error) {
	if err := spec.validate(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	scheduledFor := spec.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}
	payload := spec.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	query := `
	insert into t_task(id, task_type, payload, priority, status, scheduled_for, max_retries)
	values ($1, $2, $3, $4, 'pending', $5, $6);
	`
	_, err := store.pool.Exec(ctx, query, id, spec.TaskType, payload, spec.Priority, scheduledFor, spec.MaxRetries)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Claim selects and marks a batch in one statement, so the claimed set is
// disjoint across concurrent callers without any client-side locking.
func (store *PGStore) Claim(ctx context.Context, workerID string, taskTypes []string, maxCount int) ([]ClaimedTask, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	if taskTypes == nil {
		taskTypes = []string{}
	}
	query := `
	with eligible as (
		select id from t_task
		where status = 'pending'
			and scheduled_for <= now()
			and (cardinality($2::text[]) = 0 or task_type = any($2::text[]))
		order by priority desc, scheduled_for asc
		limit $3
		for update skip locked
	) update t_task
	set
		status = 'claimed',
		worker_id = $1,
		started_at = now(),
		updated_at = now()
	from eligible
	where t_task.id = eligible.id
	returning t_task.id, t_task.task_type, t_task.payload, t_task.priority,
		t_task.scheduled_for, t_task.retry_count, t_task.max_retries;
	`
	rows, err := store.pool.Query(ctx, query, workerID, taskTypes, maxCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []ClaimedTask
	for rows.Next() {
		var task ClaimedTask
		err := rows.Scan(
			&task.ID,
			&task.TaskType,
			&task.Payload,
			&task.Priority,
			&task.ScheduledFor,
			&task.RetryCount,
			&task.MaxRetries,
		)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE ... FROM does not preserve the CTE's ordering.
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ScheduledFor.Before(tasks[j].ScheduledFor)
	})
	return tasks, nil
}

// MarkProcessing ...
func (store *PGStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
	update t_task
	set status = 'processing', updated_at = now()
	where id = $1 and status = 'claimed';
	`
	tag, err := store.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete ...
func (store *PGStore) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
	update t_task
	set status = 'completed', completed_at = now(), updated_at = now()
	where id = $1 and status in ('claimed', 'processing');
	`
	tag, err := store.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Fail locks the row, decides retry vs terminal and applies the backoff
// delay, all in one transaction.
func (store *PGStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string, shouldRetry bool) (bool, error) {
	tx, err := store.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var retryCount, maxRetries int
	query := `
	select retry_count, max_retries from t_task
	where id = $1 and status in ('claimed', 'processing')
	for update;
	`
	err = tx.QueryRow(ctx, query, id).Scan(&retryCount, &maxRetries)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// The max_retries-th failure is terminal: only requeue while another
	// attempt would still be allowed afterwards.
	var tag pgconn.CommandTag
	if shouldRetry && retryCount+1 < maxRetries {
		delay := store.backoff.Delay(retryCount + 1)
		query = `
		update t_task
		set
			status = 'pending',
			retry_count = retry_count + 1,
			scheduled_for = now() + make_interval(secs => $2),
			worker_id = null,
			started_at = null,
			error_message = $3,
			updated_at = now()
		where id = $1;
		`
		tag, err = tx.Exec(ctx, query, id, delay.Seconds(), errorMessage)
	} else {
		query = `
		update t_task
		set
			status = 'failed',
			failed_at = now(),
			error_message = $2,
			updated_at = now()
		where id = $1;
		`
		tag, err = tx.Exec(ctx, query, id, errorMessage)
	}
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel ...
func (store *PGStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
	update t_task
	set status = 'cancelled', updated_at = now()
	where id = $1 and status in ('pending', 'claimed', 'processing');
	`
	tag, err := store.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get ...
func (store *PGStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	var task Task
	query := `
	select id, task_type, payload, priority, status, scheduled_for,
		started_at, completed_at, failed_at, worker_id,
		retry_count, max_retries, error_message, created_at, updated_at
	from t_task where id = $1;
	`
	err := store.pool.QueryRow(ctx, query, id).Scan(
		&task.ID,
		&task.TaskType,
		&task.Payload,
		&task.Priority,
		&task.Status,
		&task.ScheduledFor,
		&task.StartedAt,
		&task.CompletedAt,
		&task.FailedAt,
		&task.WorkerID,
		&task.RetryCount,
		&task.MaxRetries,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Cleanup deletes only terminal rows; a long-pending task is never removed.
func (store *PGStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
	delete from t_task
	where status in ('completed', 'failed', 'cancelled')
		and updated_at < now() - make_interval(secs => $1);
	`
	tag, err := store.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// RecoverStale re-queues orphaned claims. The requeue delay grows linearly
// with the attempt number regardless of the configured policy, since the
// per-row attempt count is only known inside the statement.
func (store *PGStore) RecoverStale(ctx context.Context, claimedFor time.Duration, batchSize int) (int, error) {
	query := `
	with stale as (
		select id from t_task
		where status in ('claimed', 'processing')
			and updated_at < now() - make_interval(secs => $1)
		limit $2
		for update skip locked
	) update t_task
	set
		status = case when t_task.retry_count + 1 < t_task.max_retries
			then 'pending' else 'failed' end,
		retry_count = case when t_task.retry_count + 1 < t_task.max_retries
			then t_task.retry_count + 1 else t_task.retry_count end,
		scheduled_for = case when t_task.retry_count + 1 < t_task.max_retries
			then now() + make_interval(secs => $3 * (t_task.retry_count + 1))
			else t_task.scheduled_for end,
		worker_id = case when t_task.retry_count + 1 < t_task.max_retries
			then null else t_task.worker_id end,
		started_at = case when t_task.retry_count + 1 < t_task.max_retries
			then null else t_task.started_at end,
		failed_at = case when t_task.retry_count + 1 < t_task.max_retries
			then null else now() end,
		error_message = 'claim expired: worker never reported back',
		updated_at = now()
	from stale
	where t_task.id = stale.id;
	`
	step := store.backoff.Delay(1).Seconds()
	tag, err := store.pool.Exec(ctx, query, claimedFor.Seconds(), batchSize, step)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Close ...
func (store *PGStore) Close() {
	store.pool.Close()
}
