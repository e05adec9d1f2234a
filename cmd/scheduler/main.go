package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/scheduler"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/db"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	// The module subscribes the out-of-sync refresh, so follow-ups written
	// here update the inbox cache the same way API writes do.
	pipelineModule := pipeline.NewModule(repository.New(pool), eventBus, validator.New(), cfg, log)
	followupSvc := pipelineModule.FollowupService()

	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; running follow-ups in-process")
		sweep := scheduler.NewFollowupSweep(followupSvc, scheduler.NewInlineDispatcher(followupSvc), log, cfg.GetFollowupSweepInterval())
		sweep.Run(ctx)
		return
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	sweep := scheduler.NewFollowupSweep(followupSvc, client, log, cfg.GetFollowupSweepInterval())
	go sweep.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, followupSvc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
