package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"eventdesk/internal/config"
	"eventdesk/internal/notify"
	"eventdesk/internal/queue"
	"eventdesk/internal/store"
	"eventdesk/internal/telemetry"
)

// Worker consumes notifications published by the API after a first check-in
// or a new registration and hands them to the sender.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := telemetry.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "eventdesk-worker")
	if err != nil {
		log.Error("tracing setup", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Warn("in-memory queue: this worker only sees messages published in its own process")
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable yet, consumer will keep retrying", slog.String("addr", cfg.RedisAddr))
		}
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	log.Info("worker started, waiting for notifications")
	if err := notify.Run(ctx, q, notify.LogSender{Log: log}, log); err != nil {
		log.Error("worker failed", slog.Any("error", err))
		return
	}
	log.Info("worker stopped")
}
