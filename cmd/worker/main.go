package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storesync/internal/config"
	"storesync/internal/database"
	"storesync/internal/events"
	"storesync/internal/logging"
	"storesync/internal/metrics"
	"storesync/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	bus := events.NewEventBus()
	registry := queue.NewRegistry()
	registerExecutors(registry, &logger)

	drainer := queue.NewDrainer(db, registry, redisClient, bus, &logger).
		WithBatchSize(cfg.Queue.BatchSize).
		WithPollInterval(cfg.Queue.PollInterval).
		WithLease(cfg.Queue.Lease)

	if cfg.Retention.Enabled {
		go runRetention(ctx, db, cfg.Retention, &logger)
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	logger.Info().Msg("worker started")
	drainer.Run(ctx, cfg.Queue.DrainBudget)
	logger.Info().Msg("worker stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// runRetention purges both retention-managed tables on a fixed interval.
func runRetention(ctx context.Context, db *database.DB, cfg config.RetentionConfig, logger *zerolog.Logger) {
	policy := database.RetentionPolicyFromConfig(cfg)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", cfg.Interval).Msg("retention loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()

			tasksRemoved, err := db.PurgeTasks(ctx, now, policy)
			if err != nil {
				logger.Error().Err(err).Msg("purge tasks")
			} else if tasksRemoved > 0 {
				metrics.AddPurged("tasks", tasksRemoved)
				logger.Info().Int64("removed", tasksRemoved).Msg("purged tasks")
			}

			logsRemoved, err := db.PurgeWebhookLogs(ctx, now, policy)
			if err != nil {
				logger.Error().Err(err).Msg("purge webhook logs")
			} else if logsRemoved > 0 {
				metrics.AddPurged("webhook_logs", logsRemoved)
				logger.Info().Int64("removed", logsRemoved).Msg("purged webhook logs")
			}
		}
	}
}
