package export

import (
	"bytes"
	"testing"
	"time"

	"storesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteTaskReport(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	errMeta, err := models.EncodeMetaData(models.ErrorRecord{
		Class:     "RemoteUnavailable",
		Message:   "backoffice returned 503",
		Reference: "ref-1",
	}.ToMetaData())
	require.NoError(t, err)

	tasks := []models.Task{
		{
			ID: 1, Name: "product-sync::10", Title: "Sync product 10",
			Type: "product-sync", TypeGroup: models.GroupProduct,
			StorekeeperID: 10, Status: models.StatusSuccess, TimesRan: 1,
			ExecutionMs: 120, DateCreated: now, DateUpdated: now,
		},
		{
			ID: 2, Name: "orders-sync::11", Title: "Sync order 11",
			Type: "orders-sync", TypeGroup: models.GroupOrders,
			StorekeeperID: 11, Status: models.StatusFailed, TimesRan: 2,
			MetaData: errMeta, DateCreated: now, DateUpdated: now,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTaskReport(&buf, tasks))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Tasks")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "product-sync::10", rows[1][1])
	assert.Equal(t, "failed", rows[2][6])

	failures, err := f.GetRows("Failures")
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "orders-sync::11", failures[1][1])
	assert.Equal(t, "RemoteUnavailable", failures[1][4])
	assert.Equal(t, "backoffice returned 503", failures[1][5])
}

func TestWriteTaskReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTaskReport(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Tasks")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
