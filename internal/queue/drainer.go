package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"storesync/internal/database"
	"storesync/internal/events"
	"storesync/internal/metrics"
	"storesync/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DrainStats summarizes one drain pass for logs and callers.
type DrainStats struct {
	Processed int   `json:"processed"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	Reclaimed int64 `json:"reclaimed"`
}

// Drainer pulls pending tasks in creation order and dispatches each to
// its registered executor. Safe to run concurrently with other drainers
// against the same store: claims go through a guarded status update.
type Drainer struct {
	db           *database.DB
	registry     *Registry
	redis        *redis.Client
	bus          *events.EventBus
	logger       *zerolog.Logger
	batchSize    int
	pollInterval time.Duration
	lease        time.Duration
}

// NewDrainer builds a drainer with sane defaults.
func NewDrainer(db *database.DB, registry *Registry, redisClient *redis.Client, bus *events.EventBus, logger *zerolog.Logger) *Drainer {
	return &Drainer{
		db:           db,
		registry:     registry,
		redis:        redisClient,
		bus:          bus,
		logger:       logger,
		batchSize:    models.DefaultDrainBatchSize,
		pollInterval: models.DefaultPollSeconds * time.Second,
		lease:        models.DefaultLeaseMinutes * time.Minute,
	}
}

// WithBatchSize overrides the backlog page size.
func (d *Drainer) WithBatchSize(n int) *Drainer {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

// WithPollInterval overrides the idle sleep of the Run loop.
func (d *Drainer) WithPollInterval(interval time.Duration) *Drainer {
	if interval > 0 {
		d.pollInterval = interval
	}
	return d
}

// WithLease overrides how long a processing claim is honored before a
// later drain may reclaim the task.
func (d *Drainer) WithLease(lease time.Duration) *Drainer {
	if lease > 0 {
		d.lease = lease
	}
	return d
}

// Drain executes one pass over the backlog. The budget caps wall-clock
// time for the whole pass; zero means unbounded (batch syncs may run for
// tens of hours). When the budget expires no new task is picked up, but
// the in-flight task always finishes. Store-level failures abort the run
// cleanly; per-task failures never do.
func (d *Drainer) Drain(ctx context.Context, budget time.Duration) (DrainStats, error) {
	start := time.Now()
	var deadline time.Time
	if budget > 0 {
		deadline = start.Add(budget)
	}

	var stats DrainStats

	reclaimed, err := d.db.ReclaimStaleTasks(ctx, start)
	if err != nil {
		return stats, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	stats.Reclaimed = reclaimed
	if reclaimed > 0 {
		d.logger.Warn().Int64("count", reclaimed).Msg("requeued stale processing tasks")
	}

	defer func() {
		metrics.ObserveDrain(time.Since(start).Seconds())
	}()

	// The id cursor only moves forward, so tasks skipped for lack of an
	// executor are not refetched within this run.
	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			d.logger.Info().Dur("budget", budget).Msg("drain budget expired")
			return stats, nil
		}

		tasks, err := d.db.PendingTasksAfter(ctx, cursor, d.batchSize)
		if err != nil {
			return stats, fmt.Errorf("fetch backlog: %w", err)
		}
		if len(tasks) == 0 {
			return stats, nil
		}

		for i := range tasks {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				d.logger.Info().Dur("budget", budget).Msg("drain budget expired")
				return stats, nil
			}
			cursor = tasks[i].ID
			d.processTask(ctx, &tasks[i], &stats)
		}
	}
}

// Run is the long-lived worker loop: drain, then wait for either the
// poll interval or a scheduler wake nudge.
func (d *Drainer) Run(ctx context.Context, budget time.Duration) {
	d.logger.Info().Strs("executors", d.registry.Types()).Msg("drainer started")
	defer d.logger.Info().Msg("drainer stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stats, err := d.Drain(ctx, budget)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error().Err(err).Msg("drain run aborted")
			d.wait(ctx)
			continue
		}

		// Skipped tasks stay pending until a deploy brings their
		// executor, so they must not keep the loop hot.
		if stats.Processed == 0 {
			d.wait(ctx)
		}
	}
}

func (d *Drainer) wait(ctx context.Context) {
	if d.redis != nil {
		_, err := d.redis.BRPop(ctx, d.pollInterval, wakeKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			d.logger.Warn().Err(err).Msg("queue wake pop failed")
		}
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(d.pollInterval):
	}
}

func (d *Drainer) processTask(ctx context.Context, task *models.Task, stats *DrainStats) {
	executor, ok := d.registry.Resolve(task.Type)
	if !ok {
		// A missing executor is a deployment problem, not a data
		// problem: the task stays pending instead of being poisoned.
		d.logger.Warn().Str("type", task.Type).Int64("task_id", task.ID).Msg("no executor registered, task skipped")
		metrics.IncSkipped()
		stats.Skipped++
		return
	}

	if err := d.db.MarkTaskProcessing(ctx, task.ID, time.Now().Add(d.lease)); err != nil {
		if errors.Is(err, database.ErrNoRowsAffected) {
			// Another drainer claimed it first.
			d.logger.Debug().Int64("task_id", task.ID).Msg("task claimed elsewhere")
			return
		}
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("claim task")
		return
	}
	task.TimesRan++

	started := time.Now()
	execErr := d.runExecutor(ctx, executor, task)
	duration := time.Since(started)
	stats.Processed++

	if execErr != nil {
		d.failTask(ctx, task, execErr, duration)
		stats.Failed++
		return
	}

	if err := d.db.CompleteTask(ctx, task.ID, duration); err != nil {
		// A write failure on completion counts as the task's failure;
		// it must not abort the rest of the run.
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task success")
		d.failTask(ctx, task, err, duration)
		stats.Failed++
		return
	}

	stats.Succeeded++
	metrics.IncProcessed(models.StatusSuccess)
	_ = d.bus.PublishJSON(events.EventTaskSucceeded, taskPayload(task, models.StatusSuccess))

	d.logger.Info().
		Int64("task_id", task.ID).
		Str("type", task.Type).
		Dur("duration", duration).
		Msg("task completed")
}

// runExecutor shields the drain loop from executor panics; a panic is
// recorded like any other failure, with its stack in the trace.
func (d *Drainer) runExecutor(ctx context.Context, executor ExecutorFn, task *models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()

	meta, err := task.Meta()
	if err != nil {
		return &ExecutorError{Class: "MetaDataError", Err: err}
	}

	return executor(ctx, task, meta)
}

func (d *Drainer) failTask(ctx context.Context, task *models.Task, cause error, duration time.Duration) {
	record := newErrorRecord(cause)

	if err := d.db.FailTask(ctx, task.ID, record, duration); err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task failed")
	}

	metrics.IncProcessed(models.StatusFailed)
	_ = d.bus.PublishJSON(events.EventTaskFailed, taskPayload(task, models.StatusFailed))

	d.logger.Error().
		Int64("task_id", task.ID).
		Str("type", task.Type).
		Str("class", record.Class).
		Str("reference", record.Reference).
		Dur("duration", duration).
		Msg("task failed")
}

func taskPayload(task *models.Task, status string) events.TaskEventPayload {
	return events.TaskEventPayload{
		TaskID:    task.ID,
		Name:      task.Name,
		Type:      task.Type,
		TypeGroup: task.TypeGroup,
		Status:    status,
		TimesRan:  task.TimesRan,
	}
}

// panicError carries a recovered executor panic.
type panicError struct {
	value interface{}
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("executor panic: %v", e.value)
}

// newErrorRecord maps a failure onto the structured record persisted in
// the task's meta_data. The reference is a correlation id operators can
// chase through external logs.
func newErrorRecord(err error) models.ErrorRecord {
	record := models.ErrorRecord{
		Class:     "ExecutorError",
		Message:   err.Error(),
		Trace:     fmt.Sprintf("%+v", err),
		Reference: uuid.NewString(),
	}

	var execErr *ExecutorError
	if errors.As(err, &execErr) {
		record.Class = execErr.Class
	}

	var pErr *panicError
	if errors.As(err, &pErr) {
		record.Class = "Panic"
		record.Trace = pErr.stack
	}

	var storageErr *database.StorageError
	if errors.As(err, &storageErr) {
		record.Class = "StorageError"
	}

	return record
}
