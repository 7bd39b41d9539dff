package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"deptportal/internal/attendance"
	"deptportal/internal/config"
	"deptportal/internal/events"
	"deptportal/internal/logging"
	"deptportal/internal/queue"
	"deptportal/internal/store"
	"deptportal/internal/student"
)

// Worker consumes queued attendance batches and writes them to the student table.
// It needs the shared Postgres store and the Redis queue; change notifications go out
// on the Redis bus so every API replica refetches its roster.
func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	if cfg.StoreBackend == "memory" || cfg.QueueBackend == "memory" {
		return errors.New("the standalone worker needs STORE_BACKEND=postgres and QUEUE_BACKEND=redis; " +
			"with a memory queue the API runs attendance jobs in-process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	rdb := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = rdb.Close() }()
	if !rdb.Healthy(ctx) {
		logger.Warn("redis not reachable yet; the queue consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	var bus events.Bus = events.NewInMemory(16)
	if cfg.EventsBackend == "redis" {
		bus = events.NewRedisBus(rdb.Client, "")
	}

	students := student.NewService(student.NewPostgresRepository(db.Client), bus, logger)
	roster := student.NewRoster(students, bus, logger)
	if err := roster.Start(ctx); err != nil {
		return err
	}

	svc := attendance.NewService(students, roster, logger)
	w := attendance.NewWorker(queue.NewRedisQueue(rdb.Client, ""), attendance.NewRepository(db.Client), svc, logger)
	return w.Run(ctx)
}
