package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgergate/ledgergate/internal/app"
	"github.com/ledgergate/ledgergate/internal/jobs"
	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/coa"
	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/linkage"
	"github.com/ledgergate/ledgergate/internal/ledger/movement"
	"github.com/ledgergate/ledgergate/internal/ledger/periods"
	"github.com/ledgergate/ledgergate/internal/ledger/quarantine"
	"github.com/ledgergate/ledgergate/internal/ledger/repair"
	"github.com/ledgergate/ledgergate/internal/ledger/signals"
	"github.com/ledgergate/ledgergate/internal/ledger/switchboard"
	"github.com/ledgergate/ledgergate/internal/observability"
	"github.com/ledgergate/ledgergate/internal/platform/cache"
	"github.com/ledgergate/ledgergate/internal/platform/db"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, emergency broadcast disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	trail := audit.NewStore(pool)
	idemStore := idempotency.NewStore(pool)

	board := app.BuildSwitchboard(cfg, trail)
	if redisClient != nil {
		broadcaster := switchboard.NewBroadcaster(board, redisClient, logger)
		go func() {
			if err := broadcaster.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("emergency broadcast listener", slog.Any("error", err))
			}
		}()
	}

	linkageRegistry, err := app.BuildLinkage(cfg, pool)
	if err != nil {
		logger.Error("build source allowlist", slog.Any("error", err))
		os.Exit(1)
	}

	retryPolicy := app.BuildRetryPolicy(cfg)

	accounts := coa.NewAdapter(coa.NewRepository(pool))
	gatewayRepo := gateway.NewRepository(pool)
	gatewayService := gateway.NewService(gatewayRepo, idemStore, trail, board, linkageRegistry, accounts).
		WithRetryPolicy(retryPolicy)

	movementRepo := movement.NewRepository(pool)
	movementService := movement.NewService(movementRepo, idemStore, trail, board, movement.NewProductLookup(pool), gatewayService).
		WithRetryPolicy(retryPolicy)

	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(pool, trail)

	quarantineStore := quarantine.NewStore(pool)

	singletons := repair.NewPGSingletonLookup(pool, map[string]string{
		"accounting_period": `SELECT id::text FROM accounting_periods WHERE status='OPEN' AND is_current = true`,
	})
	scanner := repair.NewScanner(gatewayRepo, movementRepo, linkageRegistry, singletons, app.SplitList(cfg.SingletonEntities))
	policy := repair.NewRepairPolicyFramework()

	router := signals.NewRouter(board, trail, quarantineStore)
	for _, pair := range app.SplitList(cfg.AllowlistSources) {
		pair, _, _ = strings.Cut(pair, "=")
		module, model, ok := strings.Cut(pair, ".")
		if !ok {
			continue
		}
		router.Register(model, "save",
			signals.JournalEntryProducer(module, model, gatewayService),
			signals.Policy{Workflow: app.WorkflowPostJournalEntry, Critical: false, QuarantineOnError: true})
	}

	metrics := observability.NewMetrics()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = inspector.Close() }()

	httpRouter := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		GatewayHandler:     gateway.NewHandler(logger, gatewayService),
		MovementHandler:    movement.NewHandler(logger, movementService),
		PeriodsHandler:     periods.NewHandler(logger, periodsRepo, periodsService, gatewayRepo),
		RepairHandler:      repair.NewHandler(logger, scanner, policy),
		SwitchboardHandler: switchboard.NewHandler(logger, board),
		IdempotencyHandler: idempotency.NewHandler(logger, idemStore),
		LinkageHandler:     linkage.NewHandler(logger, linkageRegistry, gatewayRepo, gatewayRepo, trail),
		QuarantineHandler:  quarantine.NewHandler(logger, quarantineStore),
		SignalsHandler:     signals.NewHandler(logger, router),
		JobsHandler:        jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      httpRouter,
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
