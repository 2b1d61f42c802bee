package database

import (
	"context"
	"testing"
	"time"

	"storesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ref := time.Now()

	// 10 tasks created inside the trailing hour; 4 of them reached a
	// terminal state inside the same window.
	for i := 0; i < 10; i++ {
		created := ref.Add(-time.Duration(i+1) * time.Minute)
		status := models.StatusNew
		if i < 4 {
			if i%2 == 0 {
				status = models.StatusSuccess
			} else {
				status = models.StatusFailed
			}
		}
		task := &models.Task{
			Name:        models.TaskName("rate", int64(i+1)),
			Type:        "rate",
			Status:      status,
			DateCreated: created,
			DateUpdated: created,
		}
		require.NoError(t, db.CreateTask(ctx, task))
	}

	// Noise outside the window.
	stale := ref.Add(-2 * time.Hour)
	old := &models.Task{
		Name:        "rate::old",
		Type:        "rate",
		Status:      models.StatusSuccess,
		DateCreated: stale,
		DateUpdated: stale,
	}
	require.NoError(t, db.CreateTask(ctx, old))

	incoming, err := db.IncomingRate(ctx, ref, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, incoming)

	processed, err := db.ProcessedRate(ctx, ref, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, processed)

	rates, err := db.Rates(ctx, ref, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, rates.Incoming)
	assert.Equal(t, 4, rates.Processed)
}
