package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/api"
	"github.com/lectern-lms/lectern/internal/app"
	"github.com/lectern-lms/lectern/internal/auth"
	"github.com/lectern-lms/lectern/internal/authz"
	"github.com/lectern-lms/lectern/internal/courses"
	"github.com/lectern-lms/lectern/internal/enrollments"
	"github.com/lectern-lms/lectern/internal/platform/cache"
	"github.com/lectern-lms/lectern/internal/platform/db"
	"github.com/lectern-lms/lectern/internal/shared"
	"github.com/lectern-lms/lectern/internal/users"
	"github.com/lectern-lms/lectern/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "lectern_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	userRepo := users.NewRepository(dbpool)
	courseRepo := courses.NewRepository(dbpool)
	accessRepo := access.NewRepository(dbpool)
	enrollmentRepo := enrollments.NewRepository(dbpool)

	builder := authz.NewBuilder(courseRepo, accessRepo, enrollmentRepo)
	authzMiddleware := authz.Middleware{
		Builder: builder,
		Users:   userRepo,
		Courses: courseRepo,
		Logger:  logger,
	}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	enrollmentService := enrollments.NewService(enrollmentRepo, courseRepo)
	courseHandler := api.NewCourseHandler(logger)
	enrollmentHandler := api.NewEnrollmentHandler(logger, enrollmentService, jobClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       authHandler,
		CourseHandler:     courseHandler,
		EnrollmentHandler: enrollmentHandler,
		JobHandler:        jobHandler,
		AuthzMiddleware:   authzMiddleware,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
