package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian/internal/accounts"
	accountshttp "github.com/meridian-erp/meridian/internal/accounts/http"
	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/closing"
	closinghttp "github.com/meridian-erp/meridian/internal/closing/http"
	"github.com/meridian-erp/meridian/internal/journal"
	journalhttp "github.com/meridian-erp/meridian/internal/journal/http"
	"github.com/meridian-erp/meridian/internal/ledgers"
	ledgershttp "github.com/meridian-erp/meridian/internal/ledgers/http"
	"github.com/meridian-erp/meridian/internal/orgs"
	orgshttp "github.com/meridian-erp/meridian/internal/orgs/http"
	"github.com/meridian-erp/meridian/internal/periods"
	periodshttp "github.com/meridian-erp/meridian/internal/periods/http"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/jobs"
)

// postingGuard defers the guard lookup: the posting engine and the closing
// orchestrator reference each other, so the guard is bound after both exist.
type postingGuard struct {
	svc *closing.Service
}

func (g *postingGuard) EnsureAccountsPostable(ctx context.Context, orgID uuid.UUID, accountIDs []uuid.UUID, date time.Time) error {
	if g.svc == nil {
		return nil
	}
	return g.svc.EnsureAccountsPostable(ctx, orgID, accountIDs, date)
}

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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

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

	auditLogger := shared.NewAuditLogger(dbpool)
	orgsRepo := orgs.NewRepository(dbpool)
	accountsRepo := accounts.NewRepository(dbpool)

	ledgersService := ledgers.NewService(ledgers.NewRepository(dbpool))
	periodsService := periods.NewService(periods.NewRepository(dbpool), auditLogger, logger)
	accumulator := balances.NewAccumulator(balances.NewRepository(dbpool), logger)

	// The approval decision stays with an external workflow service; without
	// one configured every entry posts synchronously.
	guard := &postingGuard{}
	journalService := journal.NewService(journal.NewRepository(dbpool), guard, nil, jobsClient, auditLogger, logger)

	closeMutex := shared.NewCloseMutex(redisClient, cfg.CloseLockTTL)
	closingService := closing.NewService(closing.NewRepository(dbpool), journalService, closeMutex, nil, orgsRepo, jobsClient, auditLogger, logger)
	guard.svc = closingService

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		OrgsHandler:     orgshttp.NewHandler(logger, orgsRepo),
		AccountsHandler: accountshttp.NewHandler(logger, accountsRepo),
		LedgersHandler:  ledgershttp.NewHandler(logger, ledgersService),
		PeriodsHandler:  periodshttp.NewHandler(logger, periodsService),
		JournalHandler:  journalhttp.NewHandler(logger, journalService, accumulator, shared.NewIdempotencyStore(dbpool)),
		ClosingHandler:  closinghttp.NewHandler(logger, closingService),
		JobHandler:      jobs.NewHandler(inspector, logger),
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
