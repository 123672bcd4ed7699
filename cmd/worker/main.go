package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/ledgerline/ledgerline/internal/app"
	"github.com/ledgerline/ledgerline/internal/audit"
	"github.com/ledgerline/ledgerline/internal/billing/recognition"
	"github.com/ledgerline/ledgerline/internal/billing/scheduler"
	"github.com/ledgerline/ledgerline/internal/observability"
	"github.com/ledgerline/ledgerline/internal/platform/db"
	"github.com/ledgerline/ledgerline/internal/tenants"
	"github.com/ledgerline/ledgerline/jobs"
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

	metrics := observability.NewMetrics()
	auditService := audit.NewService(audit.NewRepository(pool))
	tenantsService := tenants.NewService(tenants.NewRepository(pool))

	schedulerService := scheduler.NewService(scheduler.NewRepository(pool), auditService, tenantsService, logger, cfg.SchedulerMaxWindowsPerPass)
	recognitionService := recognition.NewService(recognition.NewRepository(pool), auditService, tenantsService, logger)

	scheduleTask, err := jobs.NewBillingScheduleTask(jobs.BillingPassPayload{})
	if err != nil {
		logger.Error("build schedule task", slog.Any("error", err))
		os.Exit(1)
	}
	recognizeTask, err := jobs.NewBillingRecognizeTask(jobs.BillingPassPayload{})
	if err != nil {
		logger.Error("build recognize task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeBillingSchedule, Handler: jobs.NewBillingScheduleHandler(schedulerService, metrics, logger)},
			{Type: jobs.TaskTypeBillingRecognize, Handler: jobs.NewBillingRecognizeHandler(recognitionService, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BillingScheduleCron, Task: scheduleTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.BillingRecognizeCron, Task: recognizeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
