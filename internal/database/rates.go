package database

import (
	"context"
	"time"

	"storesync/internal/models"
)

// QueueRates is a point-in-time throughput snapshot used by dashboards.
type QueueRates struct {
	Incoming  int       `json:"incoming"`
	Processed int       `json:"processed"`
	Reference time.Time `json:"reference"`
	Window    string    `json:"window"`
}

// IncomingRate counts tasks created within the trailing window ending at
// ref, a proxy for producer pressure.
func (db *DB) IncomingRate(ctx context.Context, ref time.Time, window time.Duration) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE date_created > ? AND date_created <= ?`

	var count int
	err := db.db.QueryRowContext(ctx, query, ref.Add(-window), ref).Scan(&count)
	if err != nil {
		return 0, newStorageError("incoming rate", err)
	}
	return count, nil
}

// ProcessedRate counts tasks that reached a terminal status within the
// trailing window ending at ref, a proxy for drain throughput.
func (db *DB) ProcessedRate(ctx context.Context, ref time.Time, window time.Duration) (int, error) {
	query := `SELECT COUNT(*) FROM tasks
              WHERE status IN (?, ?) AND date_updated > ? AND date_updated <= ?`

	var count int
	err := db.db.QueryRowContext(ctx, query,
		models.StatusSuccess, models.StatusFailed, ref.Add(-window), ref).Scan(&count)
	if err != nil {
		return 0, newStorageError("processed rate", err)
	}
	return count, nil
}

// Rates bundles both queries for the admin surface.
func (db *DB) Rates(ctx context.Context, ref time.Time, window time.Duration) (*QueueRates, error) {
	incoming, err := db.IncomingRate(ctx, ref, window)
	if err != nil {
		return nil, err
	}
	processed, err := db.ProcessedRate(ctx, ref, window)
	if err != nil {
		return nil, err
	}
	return &QueueRates{
		Incoming:  incoming,
		Processed: processed,
		Reference: ref,
		Window:    window.String(),
	}, nil
}
