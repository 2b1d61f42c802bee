package queue

import (
	"context"
	"errors"
	"testing"

	"storesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("product-sync", noopExecutor))
	require.NoError(t, r.Register("orders-sync", noopExecutor))

	fn, ok := r.Resolve("product-sync")
	assert.True(t, ok)
	assert.NotNil(t, fn)

	_, ok = r.Resolve("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{"orders-sync", "product-sync"}, r.Types())
}

func TestRegistry_RejectsDuplicatesAndEmpty(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("product-sync", noopExecutor))
	assert.Error(t, r.Register("product-sync", noopExecutor))
	assert.Error(t, r.Register("", noopExecutor))
	assert.Error(t, r.Register("orders-sync", nil))
}

func TestExecutorError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ExecutorError{Class: "RemoteUnavailable", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "RemoteUnavailable")
}

func TestExecutorFn_ReceivesDecodedMeta(t *testing.T) {
	db := setupTestDB(t)
	s := newTestScheduler(t, db)
	ctx := context.Background()

	r := NewRegistry()
	var seen models.MetaData
	require.NoError(t, r.Register("coupon-sync", func(ctx context.Context, task *models.Task, meta models.MetaData) error {
		seen = meta
		return nil
	}))

	_, err := s.ScheduleTask(ctx, TaskRequest{
		Type:          "coupon-sync",
		TypeGroup:     models.GroupCouponCode,
		StorekeeperID: 12,
		Meta:          models.MetaData{"code": "SUMMER", "percent": 15},
	})
	require.NoError(t, err)

	_, err = newTestDrainer(t, db, r).Drain(ctx, 0)
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, "SUMMER", seen.GetString("code"))
	assert.Equal(t, int64(15), seen.GetInt64("percent"))
}
