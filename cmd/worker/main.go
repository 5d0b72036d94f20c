package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/closing"
	"github.com/meridian-erp/meridian/internal/journal"
	"github.com/meridian-erp/meridian/internal/orgs"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/jobs"
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	orgsRepo := orgs.NewRepository(pool)

	accumulator := balances.NewAccumulator(balances.NewRepository(pool), logger)
	journalService := journal.NewService(journal.NewRepository(pool), nil, nil, jobsClient, auditLogger, logger)
	closeMutex := shared.NewCloseMutex(redisClient, cfg.CloseLockTTL)
	closingService := closing.NewService(closing.NewRepository(pool), journalService, closeMutex, nil, orgsRepo, jobsClient, auditLogger, logger)

	handlers := jobs.Handlers{
		Balances: accumulator,
		Journal:  journalService,
		Closing:  closingService,
		Logger:   logger,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  handlers.All(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BalanceSweepCron, Task: jobs.NewBalanceSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.AutoReverseCron, Task: jobs.NewAutoReverseTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.FiscalArchiveCron, Task: jobs.NewFiscalArchiveTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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
