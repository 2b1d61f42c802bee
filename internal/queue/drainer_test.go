package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"storesync/internal/database"
	"storesync/internal/events"
	"storesync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDrainer(t *testing.T, db *database.DB, registry *Registry) *Drainer {
	t.Helper()
	logger := zerolog.Nop()
	return NewDrainer(db, registry, nil, events.NewEventBus(), &logger)
}

func noopExecutor(ctx context.Context, task *models.Task, meta models.MetaData) error {
	return nil
}

func TestDrain_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	s := newTestScheduler(t, db)
	ctx := context.Background()

	var ran int32
	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", func(ctx context.Context, task *models.Task, meta models.MetaData) error {
		atomic.AddInt32(&ran, 1)
		assert.Equal(t, "abc", meta.GetString("remote-id"))
		return nil
	}))

	scheduled, err := s.ScheduleTask(ctx, TaskRequest{
		Type:          "product-sync",
		TypeGroup:     models.GroupProduct,
		StorekeeperID: 42,
		Meta:          models.MetaData{"remote-id": "abc"},
	})
	require.NoError(t, err)

	stats, err := newTestDrainer(t, db, registry).Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1, Succeeded: 1}, stats)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))

	task, err := db.GetTask(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, task.Status)
	assert.Equal(t, int64(1), task.TimesRan)
}

func TestDrain_EmptyBacklog(t *testing.T) {
	db := setupTestDB(t)

	stats, err := newTestDrainer(t, db, NewRegistry()).Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)
}

func TestDrain_FailureDoesNotAbortRun(t *testing.T) {
	db := setupTestDB(t)
	s := newTestScheduler(t, db)
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", noopExecutor))
	require.NoError(t, registry.Register("orders-sync", func(ctx context.Context, task *models.Task, meta models.MetaData) error {
		return &ExecutorError{Class: "RemoteUnavailable", Err: errors.New("backoffice returned 503")}
	}))

	good1, err := s.ScheduleTask(ctx, TaskRequest{Type: "product-sync", TypeGroup: models.GroupProduct, StorekeeperID: 1})
	require.NoError(t, err)
	bad, err := s.ScheduleTask(ctx, TaskRequest{Type: "orders-sync", TypeGroup: models.GroupOrders, StorekeeperID: 2})
	require.NoError(t, err)
	good2, err := s.ScheduleTask(ctx, TaskRequest{Type: "product-sync", TypeGroup: models.GroupProduct, StorekeeperID: 3})
	require.NoError(t, err)

	stats, err := newTestDrainer(t, db, registry).Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 3, Succeeded: 2, Failed: 1}, stats)

	for _, id := range []int64{good1.ID, good2.ID} {
		task, err := db.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, task.Status)
	}

	failed, err := db.GetTask(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)

	meta, err := failed.Meta()
	require.NoError(t, err)
	record := models.ErrorRecordFromMeta(meta)
	assert.Equal(t, "RemoteUnavailable", record.Class)
	assert.Contains(t, record.Message, "503")
	assert.NotEmpty(t, record.Reference)
}

func TestDrain_MissingExecutorLeavesTaskPending(t *testing.T) {
	db := setupTestDB(t)
	s := newTestScheduler(t, db)
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", noopExecutor))

	orphan, err := s.ScheduleTask(ctx, TaskRequest{Type: "legacy-import", StorekeeperID: 1})
	require.NoError(t, err)
	good, err := s.ScheduleTask(ctx, TaskRequest{Type: "product-sync", TypeGroup: models.GroupProduct, StorekeeperID: 2})
	require.NoError(t, err)

	stats, err := newTestDrainer(t, db, registry).Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 1, Succeeded: 1, Skipped: 1}, stats)

	task, err := db.GetTask(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, task.Status, "skipped task must stay pending for a later deploy")
	assert.Zero(t, task.TimesRan)

	task, err = db.GetTask(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, task.Status)
}

func TestDrain_RetryAfterFailure(t *testing.T) {
	db := setupTestDB(t)
	s := newTestScheduler(t, db)
	ctx := context.Background()

	var attempts int32
	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", func(ctx context.Context, task *models.Task, meta models.MetaData) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("transient remote error")
		}
		return nil
	}))

	scheduled, err := s.ScheduleTask(ctx, TaskRequest{Type: "product-sync", TypeGroup: models.GroupProduct, StorekeeperID: 4})
	require.NoError(t, err)

	d := newTestDrainer(t, db, registry)

	stats, err := d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	reset, err := db.RetryTasks(ctx, []int64{scheduled.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	stats, err = d.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)

	task, err := db.GetTask(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, task.Status)
	assert.Equal(t, int64(2), task.TimesRan)
}

func TestDrain_BudgetStopsBeforeNextTask(t *testing.T) {
	db := setupTestDB(t)
	s := newTestScheduler(t, db)
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", func(ctx context.Context, task *models.Task, meta models.MetaData) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}))

	for i := int64(1); i <= 2; i++ {
		_, err := s.ScheduleTask(ctx, TaskRequest{Type: "product-sync", TypeGroup: models.GroupProduct, StorekeeperID: i})
		require.NoError(t, err)
	}

	stats, err := newTestDrainer(t, db, registry).Drain(ctx, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed, "in-flight task finishes, next one waits for the following run")
	assert.Equal(t, 1, stats.Succeeded)

	pending, err := db.PendingTasksAfter(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDrain_ExecutorPanicIsRecorded(t *testing.T) {
	db := setupTestDB(t)
	s := newTestScheduler(t, db)
	ctx := context.Background()

	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", func(ctx context.Context, task *models.Task, meta models.MetaData) error {
		panic("nil remote payload")
	}))

	scheduled, err := s.ScheduleTask(ctx, TaskRequest{Type: "product-sync", TypeGroup: models.GroupProduct, StorekeeperID: 6})
	require.NoError(t, err)

	stats, err := newTestDrainer(t, db, registry).Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	task, err := db.GetTask(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)

	meta, err := task.Meta()
	require.NoError(t, err)
	record := models.ErrorRecordFromMeta(meta)
	assert.Equal(t, "Panic", record.Class)
	assert.Contains(t, record.Message, "nil remote payload")
	assert.NotEmpty(t, record.Trace)
}

func TestDrain_ReclaimsExpiredLeases(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Minute)
	stale := &models.Task{
		Name:           "product-sync::8",
		Type:           "product-sync",
		TypeGroup:      models.GroupProduct,
		StorekeeperID:  8,
		Status:         models.StatusProcessing,
		TimesRan:       1,
		LeaseExpiresAt: &expired,
	}
	require.NoError(t, db.CreateTask(ctx, stale))

	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", noopExecutor))

	stats, err := newTestDrainer(t, db, registry).Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Reclaimed)
	assert.Equal(t, 1, stats.Succeeded)

	task, err := db.GetTask(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, task.Status)
	assert.Equal(t, int64(2), task.TimesRan)
}

func TestDrain_HealthyLeaseIsNotReclaimed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lease := farLease()
	busy := &models.Task{
		Name:           "product-sync::9",
		Type:           "product-sync",
		TypeGroup:      models.GroupProduct,
		StorekeeperID:  9,
		Status:         models.StatusProcessing,
		TimesRan:       1,
		LeaseExpiresAt: &lease,
	}
	require.NoError(t, db.CreateTask(ctx, busy))

	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", noopExecutor))

	stats, err := newTestDrainer(t, db, registry).Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)

	task, err := db.GetTask(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, task.Status)
}

func TestRun_WakesOnScheduledTask(t *testing.T) {
	db := setupTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zerolog.Nop()
	bus := events.NewEventBus()
	s := NewScheduler(db, client, bus, &logger)

	var ran int32
	registry := NewRegistry()
	require.NoError(t, registry.Register("product-sync", func(ctx context.Context, task *models.Task, meta models.MetaData) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}))

	d := NewDrainer(db, registry, client, bus, &logger).WithPollInterval(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, 0)
	}()

	_, err := s.ScheduleTask(context.Background(), TaskRequest{Type: "product-sync", TypeGroup: models.GroupProduct, StorekeeperID: 10})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("drainer did not stop on context cancel")
	}
}
