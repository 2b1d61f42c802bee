package database

import (
	"context"
	"fmt"
	"time"

	"storesync/internal/config"
	"storesync/internal/models"
)

// RetentionPolicy is the two-tier compaction rule shared by the task
// store and the webhook log store: drop done records older than MaxAge,
// and once the table exceeds MaxRows also drop done records older than
// SoftAge plus everything beyond the MaxRows most recent.
type RetentionPolicy struct {
	MaxAgeDays  int
	SoftAgeDays int
	MaxRows     int
}

// DefaultRetentionPolicy mirrors the backoffice contract.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxAgeDays:  models.RetentionMaxAgeDays,
		SoftAgeDays: models.RetentionSoftAgeDays,
		MaxRows:     models.RetentionMaxRows,
	}
}

// RetentionPolicyFromConfig builds a policy, falling back to defaults
// for unset values.
func RetentionPolicyFromConfig(cfg config.RetentionConfig) RetentionPolicy {
	policy := DefaultRetentionPolicy()
	if cfg.MaxAgeDays > 0 {
		policy.MaxAgeDays = cfg.MaxAgeDays
	}
	if cfg.SoftAgeDays > 0 {
		policy.SoftAgeDays = cfg.SoftAgeDays
	}
	if cfg.MaxRows > 0 {
		policy.MaxRows = cfg.MaxRows
	}
	return policy
}

// PurgeTasks compacts the task table. Only tasks in the done state are
// eligible; pending, processing and failed rows stay for operator
// visibility regardless of age. Returns rows removed.
func (db *DB) PurgeTasks(ctx context.Context, now time.Time, policy RetentionPolicy) (int64, error) {
	eligible := fmt.Sprintf("status = '%s'", models.StatusSuccess)
	removed, err := db.purgeTable(ctx, "tasks", eligible, now, policy)
	if err != nil {
		return removed, err
	}
	db.logger.Info().Int64("removed", removed).Msg("task purge finished")
	return removed, nil
}

// PurgeWebhookLogs compacts the webhook audit trail. Every row is
// eligible; the log has no in-flight state.
func (db *DB) PurgeWebhookLogs(ctx context.Context, now time.Time, policy RetentionPolicy) (int64, error) {
	removed, err := db.purgeTable(ctx, "webhook_logs", "1 = 1", now, policy)
	if err != nil {
		return removed, err
	}
	db.logger.Info().Int64("removed", removed).Msg("webhook log purge finished")
	return removed, nil
}

func (db *DB) purgeTable(ctx context.Context, table, eligible string, now time.Time, policy RetentionPolicy) (int64, error) {
	var removed int64

	// Tier 1: done records past the hard age limit.
	hardCutoff := now.AddDate(0, 0, -policy.MaxAgeDays)
	n, err := db.deleteWhere(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s AND date_created < ?`, table, eligible),
		hardCutoff)
	if err != nil {
		return removed, newStorageError("purge "+table+": hard cutoff", err)
	}
	removed += n

	// Tier 2 only applies while the table stays over the row cap.
	var total int
	if err := db.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&total); err != nil {
		return removed, newStorageError("purge "+table+": count", err)
	}
	if total <= policy.MaxRows {
		return removed, nil
	}

	softCutoff := now.AddDate(0, 0, -policy.SoftAgeDays)
	n, err = db.deleteWhere(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s AND date_created < ?`, table, eligible),
		softCutoff)
	if err != nil {
		return removed, newStorageError("purge "+table+": soft cutoff", err)
	}
	removed += n

	// Keep only the MaxRows most recently created eligible records,
	// ties broken by id.
	capQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s AND id NOT IN (
            SELECT id FROM %s WHERE %s ORDER BY date_created DESC, id DESC LIMIT %d
        )`, table, eligible, table, eligible, policy.MaxRows)
	result, err := db.db.ExecContext(ctx, capQuery)
	if err != nil {
		return removed, newStorageError("purge "+table+": row cap", err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return removed, newStorageError("purge "+table+": rows affected", err)
	}
	removed += n

	return removed, nil
}

func (db *DB) deleteWhere(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
