package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storesync/internal/models"
)

const webhookLogColumns = `id, route, method, body, headers, action, response_code, date_created, date_updated`

var webhookLogFilterColumns = map[string]bool{
	"route":         true,
	"method":        true,
	"action":        true,
	"response_code": true,
}

var webhookLogOrderColumns = map[string]bool{
	"id":                true,
	"id DESC":           true,
	"date_created":      true,
	"date_created DESC": true,
}

// CreateWebhookLog appends one inbound call record. The queue never
// updates these rows afterwards; only the purge policy deletes them.
func (db *DB) CreateWebhookLog(ctx context.Context, entry *models.WebhookLog) error {
	if entry.Route == "" {
		return newValidationError("route", "is required")
	}
	if entry.Method == "" {
		return newValidationError("method", "is required")
	}

	now := time.Now()
	if entry.DateCreated.IsZero() {
		entry.DateCreated = now
	}
	if entry.DateUpdated.IsZero() {
		entry.DateUpdated = now
	}

	query := `INSERT INTO webhook_logs (route, method, body, headers, action, response_code, date_created, date_updated)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.db.ExecContext(ctx, query,
		entry.Route,
		entry.Method,
		entry.Body,
		entry.Headers,
		entry.Action,
		entry.ResponseCode,
		entry.DateCreated,
		entry.DateUpdated,
	)
	if err != nil {
		return newStorageError("create webhook log", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return newStorageError("create webhook log: last insert id", err)
	}
	entry.ID = id

	return nil
}

// GetWebhookLog returns one entry by primary key.
func (db *DB) GetWebhookLog(ctx context.Context, id int64) (*models.WebhookLog, error) {
	query := `SELECT ` + webhookLogColumns + ` FROM webhook_logs WHERE id = ?`

	entry, err := scanWebhookLog(db.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, newStorageError("get webhook log", err)
	}
	return entry, nil
}

// FindWebhookLogs lists entries matching AND-joined filters.
func (db *DB) FindWebhookLogs(ctx context.Context, filters []Filter, orderBy string, limit int) ([]models.WebhookLog, error) {
	if !webhookLogOrderColumns[orderBy] {
		return nil, newValidationError("orderBy", "is required and must name an indexed column")
	}
	if limit <= 0 {
		return nil, newValidationError("limit", "must be positive")
	}

	where, args, err := buildWhere(filters, webhookLogFilterColumns)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM webhook_logs%s ORDER BY %s LIMIT ?`, webhookLogColumns, where, orderBy)
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStorageError("find webhook logs", err)
	}
	defer rows.Close()

	var entries []models.WebhookLog
	for rows.Next() {
		entry, err := scanWebhookLog(rows)
		if err != nil {
			return nil, newStorageError("scan webhook log", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError("iterate webhook logs", err)
	}
	return entries, nil
}

// CountWebhookLogs counts entries matching AND-joined filters.
func (db *DB) CountWebhookLogs(ctx context.Context, filters []Filter) (int, error) {
	where, args, err := buildWhere(filters, webhookLogFilterColumns)
	if err != nil {
		return 0, err
	}

	var count int
	query := `SELECT COUNT(*) FROM webhook_logs` + where
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, newStorageError("count webhook logs", err)
	}
	return count, nil
}

func scanWebhookLog(row rowScanner) (*models.WebhookLog, error) {
	var entry models.WebhookLog
	err := row.Scan(
		&entry.ID,
		&entry.Route,
		&entry.Method,
		&entry.Body,
		&entry.Headers,
		&entry.Action,
		&entry.ResponseCode,
		&entry.DateCreated,
		&entry.DateUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
