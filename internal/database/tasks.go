package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storesync/internal/models"
)

const taskColumns = `id, name, title, type, type_group, storekeeper_id, status, times_ran,
        meta_data, execution_duration_ms, lease_expires_at, date_created, date_updated`

var taskFilterColumns = map[string]bool{
	"name":           true,
	"title":          true,
	"type":           true,
	"type_group":     true,
	"storekeeper_id": true,
	"status":         true,
}

var taskOrderColumns = map[string]bool{
	"id":                true,
	"id DESC":           true,
	"date_created":      true,
	"date_created DESC": true,
	"date_updated":      true,
	"date_updated DESC": true,
}

// Columns writable through UpdateTask. Required columns must not be
// explicitly nulled.
var taskUpdateColumns = map[string]bool{
	"name":                  true,
	"title":                 true,
	"type":                  true,
	"type_group":            true,
	"storekeeper_id":        true,
	"status":                true,
	"times_ran":             true,
	"meta_data":             true,
	"execution_duration_ms": true,
	"lease_expires_at":      true,
}

var taskRequiredColumns = map[string]bool{
	"name":   true,
	"type":   true,
	"status": true,
}

// CreateTask inserts a new queue row, stamping dates when unset.
func (db *DB) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Name == "" {
		return newValidationError("name", "is required")
	}
	if task.Type == "" {
		return newValidationError("type", "is required")
	}
	if task.Status == "" {
		task.Status = models.StatusNew
	}

	now := time.Now()
	if task.DateCreated.IsZero() {
		task.DateCreated = now
	}
	if task.DateUpdated.IsZero() {
		task.DateUpdated = now
	}

	query := `INSERT INTO tasks (name, title, type, type_group, storekeeper_id, status, times_ran,
              meta_data, execution_duration_ms, lease_expires_at, date_created, date_updated)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		task.Name,
		task.Title,
		task.Type,
		task.TypeGroup,
		task.StorekeeperID,
		task.Status,
		task.TimesRan,
		task.MetaData,
		task.ExecutionMs,
		task.LeaseExpiresAt,
		task.DateCreated,
		task.DateUpdated,
	)
	if err != nil {
		return newStorageError("create task", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return newStorageError("create task: last insert id", err)
	}
	task.ID = id

	return nil
}

// GetTask returns a task by primary key.
func (db *DB) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(db.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, newStorageError("get task", err)
	}
	return task, nil
}

// UpdateTask applies a partial column update and stamps date_updated.
// Matching zero rows returns a StorageError wrapping ErrNoRowsAffected.
func (db *DB) UpdateTask(ctx context.Context, id int64, fields map[string]interface{}) error {
	if id <= 0 {
		return newValidationError("id", "is required")
	}
	if len(fields) == 0 {
		return newValidationError("fields", "must not be empty")
	}

	var sets []string
	var args []interface{}
	for col, val := range fields {
		if !taskUpdateColumns[col] {
			return newValidationError(col, "is not an updatable column")
		}
		if val == nil && taskRequiredColumns[col] {
			return newValidationError(col, "must not be null")
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	sets = append(sets, "date_updated = ?")
	args = append(args, time.Now(), id)

	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ?`, strings.Join(sets, ", "))
	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return newStorageError("update task", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return newStorageError("update task: rows affected", err)
	}
	if affected == 0 {
		return newStorageError(fmt.Sprintf("update task %d", id), ErrNoRowsAffected)
	}
	return nil
}

// FindTasks lists tasks matching AND-joined filters. Ordering and limit
// are mandatory so admin listings never scan unbounded.
func (db *DB) FindTasks(ctx context.Context, filters []Filter, orderBy string, limit int) ([]models.Task, error) {
	if !taskOrderColumns[orderBy] {
		return nil, newValidationError("orderBy", "is required and must name an indexed column")
	}
	if limit <= 0 {
		return nil, newValidationError("limit", "must be positive")
	}

	where, args, err := buildWhere(filters, taskFilterColumns)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY %s LIMIT ?`, taskColumns, where, orderBy)
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStorageError("find tasks", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountTasks counts tasks matching AND-joined filters.
func (db *DB) CountTasks(ctx context.Context, filters []Filter) (int, error) {
	where, args, err := buildWhere(filters, taskFilterColumns)
	if err != nil {
		return 0, err
	}

	var count int
	query := `SELECT COUNT(*) FROM tasks` + where
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, newStorageError("count tasks", err)
	}
	return count, nil
}

// UpsertTask creates the task when existing is nil; otherwise it diffs
// field by field and updates only when something actually changed, so
// re-synchronizing identical data does not churn date_updated.
func (db *DB) UpsertTask(ctx context.Context, task *models.Task, existing *models.Task) (int64, error) {
	if existing == nil {
		if err := db.CreateTask(ctx, task); err != nil {
			return 0, err
		}
		return task.ID, nil
	}

	fields := diffTaskFields(task, existing)
	if len(fields) == 0 {
		task.ID = existing.ID
		return existing.ID, nil
	}

	if err := db.UpdateTask(ctx, existing.ID, fields); err != nil {
		return 0, err
	}
	task.ID = existing.ID
	return existing.ID, nil
}

func diffTaskFields(task, existing *models.Task) map[string]interface{} {
	fields := make(map[string]interface{})
	if task.Name != existing.Name {
		fields["name"] = task.Name
	}
	if task.Title != existing.Title {
		fields["title"] = task.Title
	}
	if task.Type != existing.Type {
		fields["type"] = task.Type
	}
	if task.TypeGroup != existing.TypeGroup {
		fields["type_group"] = task.TypeGroup
	}
	if task.StorekeeperID != existing.StorekeeperID {
		fields["storekeeper_id"] = task.StorekeeperID
	}
	if task.Status != "" && task.Status != existing.Status {
		fields["status"] = task.Status
	}
	if task.MetaData != existing.MetaData {
		fields["meta_data"] = task.MetaData
	}
	return fields
}

// FindPendingTaskByName returns the single pending task holding the dedup
// name, or ErrNotFound.
func (db *DB) FindPendingTaskByName(ctx context.Context, name string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE name = ? AND status = ? ORDER BY id LIMIT 1`

	task, err := scanTask(db.db.QueryRowContext(ctx, query, name, models.StatusNew))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, newStorageError("find pending task by name", err)
	}
	return task, nil
}

// PendingTasksAfter pages the backlog in creation order. The id cursor
// lets a drain run move past tasks it skipped without refetching them.
func (db *DB) PendingTasksAfter(ctx context.Context, cursorID int64, limit int) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
              WHERE status = ? AND id > ? ORDER BY id ASC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, models.StatusNew, cursorID, limit)
	if err != nil {
		return nil, newStorageError("pending tasks", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// MarkTaskProcessing claims a pending task for execution. The guarded
// status predicate makes the claim a compare-and-set: losing the race to
// another drainer yields ErrNoRowsAffected.
func (db *DB) MarkTaskProcessing(ctx context.Context, id int64, leaseUntil time.Time) error {
	query := `UPDATE tasks SET status = ?, times_ran = times_ran + 1, lease_expires_at = ?, date_updated = ?
              WHERE id = ? AND status = ?`
	result, err := db.db.ExecContext(ctx, query,
		models.StatusProcessing, leaseUntil, time.Now(), id, models.StatusNew)
	if err != nil {
		return newStorageError("mark task processing", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return newStorageError("mark task processing: rows affected", err)
	}
	if affected == 0 {
		return newStorageError(fmt.Sprintf("claim task %d", id), ErrNoRowsAffected)
	}
	return nil
}

// CompleteTask records a successful execution.
func (db *DB) CompleteTask(ctx context.Context, id int64, duration time.Duration) error {
	return db.UpdateTask(ctx, id, map[string]interface{}{
		"status":                models.StatusSuccess,
		"execution_duration_ms": duration.Milliseconds(),
		"lease_expires_at":      nil,
	})
}

// FailTask records a failed execution, overwriting meta_data with the
// structured error record. Only the latest failure is retained.
func (db *DB) FailTask(ctx context.Context, id int64, record models.ErrorRecord, duration time.Duration) error {
	raw, err := models.EncodeMetaData(record.ToMetaData())
	if err != nil {
		return err
	}
	return db.UpdateTask(ctx, id, map[string]interface{}{
		"status":                models.StatusFailed,
		"meta_data":             raw,
		"execution_duration_ms": duration.Milliseconds(),
		"lease_expires_at":      nil,
	})
}

// RetryTasks resets failed tasks back to the pending state. Tasks in any
// other status are left untouched; returns how many were reset.
func (db *DB) RetryTasks(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := fmt.Sprintf(`UPDATE tasks SET status = ?, lease_expires_at = NULL, date_updated = ?
              WHERE id IN (%s) AND status = ?`, placeholders)

	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, models.StatusNew, time.Now())
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, models.StatusFailed)

	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, newStorageError("retry tasks", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, newStorageError("retry tasks: rows affected", err)
	}
	return affected, nil
}

// MarkTaskSuccess forces a failed task to success without re-executing.
// Used when an operator has verified the effect happened out-of-band.
func (db *DB) MarkTaskSuccess(ctx context.Context, id int64) error {
	query := `UPDATE tasks SET status = ?, date_updated = ? WHERE id = ? AND status = ?`
	result, err := db.db.ExecContext(ctx, query, models.StatusSuccess, time.Now(), id, models.StatusFailed)
	if err != nil {
		return newStorageError("mark task success", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return newStorageError("mark task success: rows affected", err)
	}
	if affected == 0 {
		return newStorageError(fmt.Sprintf("mark task %d success", id), ErrNoRowsAffected)
	}
	return nil
}

// DeleteTask removes a single task row.
func (db *DB) DeleteTask(ctx context.Context, id int64) error {
	result, err := db.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return newStorageError("delete task", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return newStorageError("delete task: rows affected", err)
	}
	if affected == 0 {
		return newStorageError(fmt.Sprintf("delete task %d", id), ErrNoRowsAffected)
	}
	return nil
}

// ReclaimStaleTasks requeues processing tasks whose lease expired, so
// work orphaned by a crashed drain is picked up again.
func (db *DB) ReclaimStaleTasks(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE tasks SET status = ?, lease_expires_at = NULL, date_updated = ?
              WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`
	result, err := db.db.ExecContext(ctx, query, models.StatusNew, now, models.StatusProcessing, now)
	if err != nil {
		return 0, newStorageError("reclaim stale tasks", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, newStorageError("reclaim stale tasks: rows affected", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var meta sql.NullString
	var lease sql.NullTime
	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.Title,
		&task.Type,
		&task.TypeGroup,
		&task.StorekeeperID,
		&task.Status,
		&task.TimesRan,
		&meta,
		&task.ExecutionMs,
		&lease,
		&task.DateCreated,
		&task.DateUpdated,
	)
	if err != nil {
		return nil, err
	}
	task.MetaData = meta.String
	if lease.Valid {
		t := lease.Time
		task.LeaseExpiresAt = &t
	}
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, newStorageError("scan task", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("iterate tasks", err)
	}
	return tasks, nil
}
