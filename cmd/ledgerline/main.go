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

	"github.com/ledgerline/ledgerline/internal/app"
	"github.com/ledgerline/ledgerline/internal/audit"
	"github.com/ledgerline/ledgerline/internal/billing"
	"github.com/ledgerline/ledgerline/internal/billing/invoices"
	"github.com/ledgerline/ledgerline/internal/billing/recognition"
	"github.com/ledgerline/ledgerline/internal/billing/scheduler"
	"github.com/ledgerline/ledgerline/internal/billing/templates"
	"github.com/ledgerline/ledgerline/internal/compliance"
	"github.com/ledgerline/ledgerline/internal/identity"
	"github.com/ledgerline/ledgerline/internal/ledger/accounts"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	"github.com/ledgerline/ledgerline/internal/observability"
	"github.com/ledgerline/ledgerline/internal/platform/cache"
	"github.com/ledgerline/ledgerline/internal/platform/db"
	"github.com/ledgerline/ledgerline/internal/shared"
	"github.com/ledgerline/ledgerline/internal/tenants"
	"github.com/ledgerline/ledgerline/jobs"
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

	locker := shared.NewPeriodLocker(redisClient, cfg.PeriodLockTTL, cfg.PeriodLockWait)
	metrics := observability.NewMetrics()

	auditService := audit.NewService(audit.NewRepository(dbpool))
	tenantsService := tenants.NewService(tenants.NewRepository(dbpool))
	identityService := identity.NewService(identity.NewRepository(dbpool))

	accountsService := accounts.NewService(accounts.NewRepository(dbpool))
	periodsService := periods.NewService(periods.NewRepository(dbpool), auditService, locker)
	journalsService := journals.NewService(journals.NewRepository(dbpool), auditService, locker)

	templatesService := templates.NewService(templates.NewRepository(dbpool), auditService)
	invoicesService := invoices.NewService(invoices.NewRepository(dbpool), auditService)
	schedulerService := scheduler.NewService(scheduler.NewRepository(dbpool), auditService, tenantsService, logger, cfg.SchedulerMaxWindowsPerPass)
	recognitionService := recognition.NewService(recognition.NewRepository(dbpool), auditService, tenantsService, logger)

	complianceService := compliance.NewService(compliance.NewRepository(dbpool))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Identity:          identityService,
		AccountsHandler:   accounts.NewHandler(logger, accountsService),
		PeriodsHandler:    periods.NewHandler(logger, periodsService),
		JournalsHandler:   journals.NewHandler(logger, journalsService).WithIdempotency(shared.NewIdempotencyStore(dbpool)).WithMetrics(metrics),
		TemplatesHandler:  templates.NewHandler(logger, templatesService),
		InvoicesHandler:   invoices.NewHandler(logger, invoicesService),
		BillingHandler:    billing.NewHandler(logger, schedulerService, recognitionService, metrics),
		AuditHandler:      audit.NewHandler(logger, auditService),
		ComplianceHandler: compliance.NewHandler(logger, complianceService),
		IdentityHandler:   identity.NewHandler(logger, identityService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
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
