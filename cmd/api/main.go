package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/microtask/backend/internal/auth"
	"github.com/microtask/backend/internal/config"
	"github.com/microtask/backend/internal/execution"
	"github.com/microtask/backend/internal/ledger"
	"github.com/microtask/backend/internal/middleware"
	"github.com/microtask/backend/internal/repository"
	"github.com/microtask/backend/internal/repository/memory"
	"github.com/microtask/backend/internal/submissions"
	"github.com/microtask/backend/internal/tasks"
	"github.com/microtask/backend/internal/withdrawals"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store          *repository.Store
		scheduleExpiry tasks.ScheduleExpiryTxFunc
		startJobs      func(*tasks.Engine) (stopJobs func(context.Context))
	)

	switch cfg.StoreDriver {
	case config.DriverMemory:
		slog.Warn("Using in-memory store; all data is lost on exit")
		store = memory.New().Repositories()
		sched := execution.NewLocalScheduler(logger)
		scheduleExpiry = sched.ScheduleTx
		startJobs = func(engine *tasks.Engine) func(context.Context) {
			sched.Bind(engine)
			return func(context.Context) { sched.Stop() }
		}

	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL database successfully!")

		if err := repository.EnsureSchema(ctx, pool); err != nil {
			slog.Error("Failed to apply schema", "error", err)
			os.Exit(1)
		}

		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("River migrations applied")

		store = repository.NewPostgres(pool)

		// The insert func is set after the River client exists; the client
		// needs the engine's worker, and the engine needs the insert func.
		var insertMu sync.Mutex
		var insertFn tasks.ScheduleExpiryTxFunc
		scheduleExpiry = func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
			insertMu.Lock()
			fn := insertFn
			insertMu.Unlock()
			if fn == nil {
				return errors.New("river insert not wired")
			}
			return fn(ctx, tx, taskID, at)
		}

		startJobs = func(engine *tasks.Engine) func(context.Context) {
			workers := river.NewWorkers()
			river.AddWorker(workers, execution.NewExpireTaskWorker(engine, logger))

			riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
				Queues: map[string]river.QueueConfig{
					river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
				},
				Workers: workers,
				Logger:  logger,
			})
			if err != nil {
				slog.Error("Failed to create River client", "error", err)
				os.Exit(1)
			}

			insertMu.Lock()
			insertFn = func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
				_, err := riverClient.InsertTx(ctx, tx, execution.ExpireTaskArgs{TaskID: taskID}, &river.InsertOpts{
					ScheduledAt: at,
					UniqueOpts:  river.UniqueOpts{ByArgs: true},
				})
				return err
			}
			insertMu.Unlock()

			if err := riverClient.Start(context.Background()); err != nil {
				slog.Error("River client failed to start", "error", err)
				os.Exit(1)
			}
			return func(ctx context.Context) {
				if err := riverClient.Stop(ctx); err != nil {
					slog.Error("River client stop", "error", err)
				}
			}
		}
	}

	ledgerSvc := ledger.NewService(store.DB, store.Accounts, store.Credits, logger)
	engine := tasks.NewEngine(store, ledgerSvc, scheduleExpiry, logger)
	authSvc := auth.NewService(store, ledgerSvc, cfg.JWTSecret, cfg.TokenTTL, logger)
	svc := services{
		auth:        authSvc,
		ledger:      ledgerSvc,
		tasks:       engine,
		submissions: submissions.NewService(store, engine, logger),
		withdrawals: withdrawals.NewService(store, ledgerSvc, cfg.CoinsPerUnit(), logger),
	}
	stopJobs := startJobs(engine)

	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set; using the development secret")
	}
	if cfg.AdminEmail != "" {
		if _, err := authSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			slog.Error("Failed to bootstrap admin account", "error", err)
			os.Exit(1)
		}
		slog.Info("Admin account ready", "email", cfg.AdminEmail)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(time.Minute, ctx.Done())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(buildRouter(svc, limiter, logger))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	stopJobs(shutdownCtx)
}
