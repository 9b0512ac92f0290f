package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgergate/ledgergate/internal/app"
	"github.com/ledgergate/ledgergate/internal/jobs"
	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/movement"
	"github.com/ledgergate/ledgergate/internal/ledger/quarantine"
	"github.com/ledgergate/ledgergate/internal/ledger/repair"
	"github.com/ledgergate/ledgergate/internal/platform/db"
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobs.NewMetrics(nil)

	idemStore := idempotency.NewStore(pool)
	quarantineStore := quarantine.NewStore(pool)

	linkageRegistry, err := app.BuildLinkage(cfg, pool)
	if err != nil {
		logger.Error("build source allowlist", slog.Any("error", err))
		os.Exit(1)
	}
	singletons := repair.NewPGSingletonLookup(pool, map[string]string{
		"accounting_period": `SELECT id::text FROM accounting_periods WHERE status='OPEN' AND is_current = true`,
	})
	scanner := repair.NewScanner(
		gateway.NewRepository(pool),
		movement.NewRepository(pool),
		linkageRegistry,
		singletons,
		app.SplitList(cfg.SingletonEntities),
	)
	policy := repair.NewRepairPolicyFramework()

	cleanupJob := jobs.NewIdempotencyCleanupJob(idemStore, logger, metrics)
	scanJob := jobs.NewCorruptionScanJob(scanner, policy, quarantineStore, logger, metrics)
	sweepJob := jobs.NewQuarantineSweepJob(quarantineStore, logger, metrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(500, cfg.IdempotencyTTL)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewCorruptionScanTask(false)
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewQuarantineSweepTask(30 * 24 * time.Hour)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskCorruptionScan, Handler: scanJob.Handle},
			{Type: jobs.TaskQuarantineSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 3 * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 4 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
