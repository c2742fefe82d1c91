package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"geoattend/internal/audit"
	"geoattend/internal/config"
	"geoattend/internal/ctxlog"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

const queueKey = "attendance:attempts:queue"

// Worker drains submission attempts from the Redis queue into the
// per-session attempt log.
func main() {
	cfg := config.Load()
	logger := ctxlog.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With("service", "worker")
	slog.SetDefault(logger)

	if cfg.QueueBackend != "redis" {
		logger.Error("worker requires QUEUE_BACKEND=redis; the api consumes in-process otherwise", "queue_backend", cfg.QueueBackend)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	redisClient, err := store.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient.Client, queueKey)
	log := audit.NewRedisLog(redisClient.Client, cfg.AttemptLogSize, cfg.AttemptLogTTL)

	logger.Info("worker started, waiting for attempts", "queue", queueKey)
	if err := audit.Run(ctx, q, log); err != nil {
		logger.Error("worker failed", "err", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
