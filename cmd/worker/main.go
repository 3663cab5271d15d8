package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/app"
	"github.com/lectern-lms/lectern/internal/enrollments"
	"github.com/lectern-lms/lectern/internal/platform/cache"
	"github.com/lectern-lms/lectern/internal/platform/db"
	"github.com/lectern-lms/lectern/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	enrollmentRepo := enrollments.NewRepository(pool)
	accessRepo := access.NewRepository(pool)

	auditTask, err := jobs.NewEnrollmentAuditTask(time.Now().UTC())
	if err != nil {
		logger.Error("build audit task", slog.Any("error", err))
		os.Exit(1)
	}
	digestTask, err := jobs.NewExamWindowDigestTask(time.Now().UTC())
	if err != nil {
		logger.Error("build digest task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskEnrollmentAudit, Handler: jobs.NewEnrollmentAuditHandler(logger, enrollmentRepo)},
			{Type: jobs.TaskExamWindowDigest, Handler: jobs.NewExamWindowDigestHandler(logger, accessRepo)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: auditTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 6 * * *", Task: digestTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
