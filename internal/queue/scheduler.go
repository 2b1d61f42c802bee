package queue

import (
	"context"
	"errors"
	"fmt"

	"storesync/internal/database"
	"storesync/internal/events"
	"storesync/internal/metrics"
	"storesync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// wakeKey is the redis list the scheduler nudges after an enqueue so a
// long-running drainer wakes up without waiting out its poll interval.
const wakeKey = "storesync:queue:wake"

// TaskRequest describes work a producer wants queued.
type TaskRequest struct {
	Type          string
	TypeGroup     string
	Title         string
	StorekeeperID int64
	Meta          models.MetaData
	// ForceProcessing asks the executor to bypass preview/dry-run mode.
	// Carried inside meta_data; does not change the state machine.
	ForceProcessing bool
}

// Scheduler is the producer API. It owns the deduplication-by-name rule:
// at most one pending task per name, later schedules merge in place.
type Scheduler struct {
	db     *database.DB
	redis  *redis.Client
	bus    *events.EventBus
	logger *zerolog.Logger
}

func NewScheduler(db *database.DB, redisClient *redis.Client, bus *events.EventBus, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		redis:  redisClient,
		bus:    bus,
		logger: logger,
	}
}

// ScheduleTask enqueues work for a remote subject, deriving the dedup
// name from the type and storekeeper id.
func (s *Scheduler) ScheduleTask(ctx context.Context, req TaskRequest) (*models.Task, error) {
	if req.Type == "" {
		return nil, errors.New("task type is required")
	}
	return s.schedule(ctx, req, models.TaskName(req.Type, req.StorekeeperID))
}

// RescheduleTask enqueues work under a caller-chosen dedup name, for
// operations better keyed by something other than the type, e.g. a
// parent recalculation that must stay single-pending per parent whatever
// task type triggered it.
func (s *Scheduler) RescheduleTask(ctx context.Context, req TaskRequest, name string) (*models.Task, error) {
	if req.Type == "" {
		return nil, errors.New("task type is required")
	}
	if name == "" {
		return nil, errors.New("task name is required")
	}
	return s.schedule(ctx, req, name)
}

func (s *Scheduler) schedule(ctx context.Context, req TaskRequest, name string) (*models.Task, error) {
	meta := req.Meta
	if meta == nil {
		meta = models.MetaData{}
	}
	if req.ForceProcessing {
		meta[models.MetaForceProcessing] = true
	}
	raw, err := models.EncodeMetaData(meta)
	if err != nil {
		return nil, err
	}

	// Bursts of schedules for the same name before a drain are merges,
	// not appends: re-read the single pending row and upsert against it.
	existing, err := s.db.FindPendingTaskByName(ctx, name)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("lookup pending task: %w", err)
	}

	task := &models.Task{
		Name:          name,
		Title:         req.Title,
		Type:          req.Type,
		TypeGroup:     req.TypeGroup,
		StorekeeperID: req.StorekeeperID,
		Status:        models.StatusNew,
		MetaData:      raw,
	}
	if existing != nil {
		// Keep the existing title when the merge does not supply one.
		if task.Title == "" {
			task.Title = existing.Title
		}
	}

	id, err := s.db.UpsertTask(ctx, task, existing)
	if err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	metrics.IncScheduled(req.TypeGroup)
	_ = s.bus.PublishJSON(events.EventTaskScheduled, events.TaskEventPayload{
		TaskID:    id,
		Name:      name,
		Type:      req.Type,
		TypeGroup: req.TypeGroup,
		Status:    models.StatusNew,
	})

	s.wake(ctx, id)

	return s.db.GetTask(ctx, id)
}

// wake nudges the drainer; best effort, the poll loop is the fallback.
func (s *Scheduler) wake(ctx context.Context, id int64) {
	if s.redis == nil {
		return
	}
	if err := s.redis.LPush(ctx, wakeKey, id).Err(); err != nil {
		s.logger.Warn().Err(err).Int64("task_id", id).Msg("queue wake push failed")
	}
}
