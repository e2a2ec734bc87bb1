// Package broker is C9, the Task Broker Interface: named queues, retry with
// backoff, per-task timeouts, result persistence, and the group/chain/chord
// composition primitives spec.md §4.7 requires. The in-process implementation
// here is a bounded worker pool per queue (grounded on
// dgallion1-docgest/internal/pipeline's JobStore/Worker/Backoff trio) backed
// by the C1 SQLite connection for TaskRecord persistence, rather than a
// separate broker process — §1 excludes building a message-broker runtime,
// so this is the in-process substitute spec.md §5's scheduling model allows.
package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/ids"
	"github.com/xxxsen/kbengine/internal/model"
	appErr "github.com/xxxsen/kbengine/internal/pkg/errors"
)

// Handler runs one task's payload. A Handler returning an error wrapped in
// appErr.ErrCanceled is never retried regardless of remaining attempts;
// other errors are retried up to the task's MaxRetries when
// appErr.IsTransient reports true, propagated otherwise.
type Handler func(ctx context.Context, payload []byte) (resultRef string, err error)

// SubmitOptions customizes one submit call.
type SubmitOptions struct {
	MaxRetries      int
	GroupID         string
	ChainNext       string
	SoftTimeout     time.Duration
	HardTimeout     time.Duration
}

// Broker is the process-wide task broker singleton. One Broker instance owns
// one worker pool per queue name; queues are created lazily on first use.
type Broker struct {
	db      *sql.DB
	logName string

	mu      sync.Mutex
	queues  map[string]*queueWorker
	handlers map[string]Handler

	defaultMaxRetries int
	softTimeout       time.Duration
	hardTimeout       time.Duration

	cancelMu sync.Mutex
	canceled map[string]bool
}

func New(db *sql.DB, cfg Config) *Broker {
	return &Broker{
		db:                db,
		queues:            make(map[string]*queueWorker),
		handlers:          make(map[string]Handler),
		defaultMaxRetries: cfg.MaxRetries,
		softTimeout:       time.Duration(cfg.TaskSoftTimeLimitSeconds) * time.Second,
		hardTimeout:       time.Duration(cfg.TaskTimeLimitSeconds) * time.Second,
		canceled:          make(map[string]bool),
	}
}

// Config mirrors a subset of config.BrokerConfig's fields. New consumes
// MaxRetries and the two time limits; WorkerPrefetchMultiplier is carried but
// not read by New (like BrokerURL/ResultBackendURL/WorkerMaxTasksPerChild,
// which are not carried at all, it describes a distributed deployment this
// in-process substitute does not have; TaskAcksLate is always true here since
// a task is only marked succeeded after its handler returns).
type Config struct {
	MaxRetries               int
	TaskTimeLimitSeconds     int
	TaskSoftTimeLimitSeconds int
	WorkerPrefetchMultiplier int
}

// RegisterHandler binds a task name to the function that executes it. Call
// before Submit; handlers are resolved by name when a queue worker pops a
// task.
func (b *Broker) RegisterHandler(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// queueWorker is one named queue's bounded-concurrency pump: a semaphore
// channel gates how many tasks of this queue run at once, the same pattern
// dgallion1-docgest/internal/pipeline/worker.go uses for chunk extraction
// concurrency.
type queueWorker struct {
	name string
	sem  chan struct{}
	wg   sync.WaitGroup
}

// ConfigureQueue pre-creates a named queue with a specific worker
// concurrency, e.g. PARALLEL_MAX_WORKERS for the "document.segment" queue
// the executor dispatches segment tasks onto. Call before any Submit to
// that queue; Submit's lazy default (8) only applies to queues nobody
// configured explicitly.
func (b *Broker) ConfigureQueue(name string, concurrency int) {
	b.queue(name, concurrency)
}

func (b *Broker) queue(name string, concurrency int) *queueWorker {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		if concurrency <= 0 {
			concurrency = 4
		}
		q = &queueWorker{name: name, sem: make(chan struct{}, concurrency)}
		b.queues[name] = q
	}
	return q
}

// Submit persists a queued TaskRecord and dispatches it onto its queue's
// worker pool. It returns immediately with the task_id; the handler runs
// asynchronously.
func (b *Broker) Submit(ctx context.Context, name string, payload []byte, queueName string, opts SubmitOptions) (string, error) {
	b.mu.Lock()
	handler, ok := b.handlers[name]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("broker: no handler registered for task %q", name)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = b.defaultMaxRetries
	}
	taskID := ids.NewTaskID()
	rec := &model.TaskRecord{
		TaskID:     taskID,
		Name:       name,
		Queue:      queueName,
		State:      model.TaskStateQueued,
		MaxRetries: maxRetries,
		GroupID:    opts.GroupID,
		ChainNext:  opts.ChainNext,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	if err := b.insertTask(ctx, rec); err != nil {
		return "", fmt.Errorf("broker: persist task: %w", err)
	}

	q := b.queue(queueName, 8)
	q.wg.Add(1)
	go b.run(context.Background(), q, rec, handler, opts)
	return taskID, nil
}

func (b *Broker) run(ctx context.Context, q *queueWorker, rec *model.TaskRecord, handler Handler, opts SubmitOptions) {
	defer q.wg.Done()
	q.sem <- struct{}{}
	defer func() { <-q.sem }()

	if b.isCanceled(rec.TaskID) {
		b.transition(ctx, rec.TaskID, model.TaskStateCanceled, "", "canceled before start")
		return
	}

	soft := opts.SoftTimeout
	if soft <= 0 {
		soft = b.softTimeout
	}
	hard := opts.HardTimeout
	if hard <= 0 {
		hard = b.hardTimeout
	}
	if hard <= 0 {
		hard = 10 * time.Minute
	}

	logger := logutil.GetLogger(ctx)
	for attempt := 0; ; attempt++ {
		if b.isCanceled(rec.TaskID) {
			b.transition(ctx, rec.TaskID, model.TaskStateCanceled, "", "canceled")
			return
		}
		b.transition(ctx, rec.TaskID, model.TaskStateRunning, "", "")

		runCtx, cancel := context.WithTimeout(ctx, hard)
		resultCh := make(chan taskOutcome, 1)
		go func() {
			defer close(resultCh)
			ref, err := handler(withSoftDeadline(runCtx, soft), rec.Payload)
			resultCh <- taskOutcome{ref: ref, err: err}
		}()

		var outcome taskOutcome
		select {
		case outcome = <-resultCh:
		case <-runCtx.Done():
			outcome = taskOutcome{err: fmt.Errorf("broker: task %s hard timeout: %w", rec.TaskID, appErr.ErrCanceled)}
		}
		cancel()

		if outcome.err == nil {
			b.transition(ctx, rec.TaskID, model.TaskStateSucceeded, outcome.ref, "")
			return
		}

		if appErr.IsFatal(outcome.err) || !appErr.IsTransient(outcome.err) || attempt >= rec.MaxRetries {
			b.transition(ctx, rec.TaskID, model.TaskStateFailed, "", outcome.err.Error())
			return
		}

		logger.Warn("retrying task", zap.String("task_id", rec.TaskID), zap.Int("attempt", attempt), zap.Error(outcome.err))
		b.transition(ctx, rec.TaskID, model.TaskStateRetrying, "", outcome.err.Error())
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			b.transition(ctx, rec.TaskID, model.TaskStateCanceled, "", "canceled during backoff")
			return
		}
	}
}

type taskOutcome struct {
	ref string
	err error
}

// backoff is exponential with jitter: the base doubles from 1s and is capped
// at 30s, and up to half the base is added as jitter (so at most 45s), the
// same shape as dgallion1-docgest/internal/pipeline/retry.go's Backoff.
func backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return base + jitter
}

// withSoftDeadline doesn't kill the context; a cooperative handler is
// expected to check ctx.Err() between chunks and return appErr.ErrCanceled
// once soft has elapsed, per spec.md §5's cooperative soft-cancel model.
func withSoftDeadline(ctx context.Context, soft time.Duration) context.Context {
	if soft <= 0 {
		return ctx
	}
	ctx, cancel := context.WithTimeout(ctx, soft)
	_ = cancel // the hard-timeout context above still bounds total runtime
	return ctx
}

// Cancel marks a task canceled. A queued task transitions to canceled
// immediately and is skipped when a worker slot picks it up; a running or
// retrying task is marked canceling, and run checks the cancel flag only
// before each attempt. Cancel does not cancel the context handed to the
// handler, so an attempt already in progress runs to completion and a
// successful attempt still ends the task as succeeded.
func (b *Broker) Cancel(ctx context.Context, taskID string) error {
	b.cancelMu.Lock()
	b.canceled[taskID] = true
	b.cancelMu.Unlock()

	rec, err := b.Get(ctx, taskID)
	if err != nil {
		return err
	}
	switch rec.State {
	case model.TaskStateQueued:
		return b.transition(ctx, taskID, model.TaskStateCanceled, "", "canceled")
	case model.TaskStateRunning, model.TaskStateRetrying:
		return b.transition(ctx, taskID, model.TaskStateCanceling, "", "cancel requested")
	default:
		return nil
	}
}

func (b *Broker) isCanceled(taskID string) bool {
	b.cancelMu.Lock()
	defer b.cancelMu.Unlock()
	return b.canceled[taskID]
}

// Get returns the current TaskRecord by id.
func (b *Broker) Get(ctx context.Context, taskID string) (*model.TaskRecord, error) {
	where := map[string]interface{}{"task_id": taskID}
	cols := []string{"task_id", "name", "queue", "state", "attempts", "max_retries", "group_id", "chain_next", "payload", "result_ref", "error", "created_at", "started_at", "finished_at"}
	sqlStr, args, err := builder.BuildSelect("tasks", where, cols)
	if err != nil {
		return nil, err
	}
	row := b.db.QueryRowContext(ctx, sqlStr, args...)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	var state string
	var startedAt, finishedAt sql.NullInt64
	if err := row.Scan(&rec.TaskID, &rec.Name, &rec.Queue, &state, &rec.Attempts, &rec.MaxRetries, &rec.GroupID, &rec.ChainNext, &rec.Payload, &rec.ResultRef, &rec.Error, &rec.CreatedAt, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	rec.State = model.TaskState(state)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func (b *Broker) insertTask(ctx context.Context, rec *model.TaskRecord) error {
	data := map[string]interface{}{
		"task_id":     rec.TaskID,
		"name":        rec.Name,
		"queue":       rec.Queue,
		"state":       string(rec.State),
		"attempts":    rec.Attempts,
		"max_retries": rec.MaxRetries,
		"group_id":    rec.GroupID,
		"chain_next":  rec.ChainNext,
		"payload":     rec.Payload,
		"result_ref":  rec.ResultRef,
		"error":       rec.Error,
		"created_at":  rec.CreatedAt.Unix(),
	}
	sqlStr, args, err := builder.BuildInsert("tasks", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (b *Broker) transition(ctx context.Context, taskID string, state model.TaskState, resultRef, errMsg string) error {
	update := map[string]interface{}{"state": string(state)}
	if resultRef != "" {
		update["result_ref"] = resultRef
	}
	update["error"] = errMsg
	now := time.Now().Unix()
	switch state {
	case model.TaskStateRunning:
		update["started_at"] = now
	case model.TaskStateSucceeded, model.TaskStateFailed, model.TaskStateCanceled:
		update["finished_at"] = now
	}
	if state == model.TaskStateRetrying {
		if _, err := b.db.ExecContext(ctx, `UPDATE tasks SET attempts = attempts + 1 WHERE task_id = ?`, taskID); err != nil {
			return err
		}
	}
	where := map[string]interface{}{"task_id": taskID}
	sqlStr, args, err := builder.BuildUpdate("tasks", where, update)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// PruneTerminal implements job.TaskPruner: delete succeeded/failed/canceled
// tasks created before cutoff.
func (b *Broker) PruneTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE state IN ('succeeded','failed','canceled') AND created_at < ?`,
		before.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EncodePayload is a convenience for handlers that want a typed payload
// rather than raw bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func DecodePayload(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
